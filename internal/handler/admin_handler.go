package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"portfolio-analytics/internal/clientinfo"
	"portfolio-analytics/internal/domain"
	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/internal/middleware"
	"portfolio-analytics/internal/service"
	"portfolio-analytics/pkg/errors"
	"portfolio-analytics/pkg/logger"
)

// maxAdminBody caps admin JSON request bodies
const maxAdminBody = 25_000

// AdminHandler serves the admin dashboard JSON API under /api/admin
type AdminHandler struct {
	admin     service.AdminService
	auth      *middleware.AdminAuth
	status    domain.Status
	rateLimit int
	validate  *validator.Validate
	logger    *logger.Logger
}

// NewAdminHandler creates the admin handler. A nil admin service means no
// database is configured; data endpoints then answer 503.
func NewAdminHandler(admin service.AdminService, auth *middleware.AdminAuth, status domain.Status, rateLimit int, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		admin:     admin,
		auth:      auth,
		status:    status,
		rateLimit: rateLimit,
		validate:  validator.New(),
		logger:    log,
	}
}

// RegisterRoutes mounts the admin routes on r
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, time.Minute,
				httprate.WithKeyFuncs(keyByClientIP),
				httprate.WithLimitHandler(h.rateLimited),
			))
		}

		r.Get("/status", h.Status)
		r.Post("/auth", h.Login)
		r.Delete("/auth", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.RequireAdmin)
			r.Use(h.requireDatabase)

			r.Get("/sessions", h.ListSessions)
			r.Get("/session", h.GetSession)
			r.Get("/visitors", h.ListVisitors)
			r.Get("/visitor", h.GetVisitor)
			r.Post("/visitor", h.RenameVisitor)
			r.Post("/visitor_update", h.RenameVisitor)
			r.Get("/bots", h.Bots)
			r.Get("/map", h.Map)
		})
	})
}

// Status handles GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, "status", http.StatusOK, h.status)
}

// Login handles POST /api/admin/auth with {"token": "..."}
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Configured() {
		h.respondError(w, "auth", errors.NewUnavailableError("ADMIN_TOKEN not configured"))
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if raw, err := readBody(r); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	if !h.auth.TokenMatches(strings.TrimSpace(body.Token)) {
		h.respondError(w, "auth", errors.NewAuthenticationError("Unauthorized"))
		return
	}

	if err := h.auth.IssueSession(w, secureRequest(r)); err != nil {
		h.respondError(w, "auth", errors.As(err))
		return
	}
	h.respondNoContent(w, "auth")
}

// Logout handles DELETE /api/admin/auth
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.ClearSession(w, secureRequest(r))
	h.respondNoContent(w, "auth")
}

// ListSessions handles GET /api/admin/sessions?bots=0|1
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	bots := r.URL.Query().Get("bots") == "1"

	sessions, err := h.admin.ListSessions(r.Context(), bots)
	if err != nil {
		h.respondError(w, "sessions", errors.As(err))
		return
	}
	h.respondJSON(w, "sessions", http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetSession handles GET /api/admin/session?sid=
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := identifierParam(r, "sid")
	if !ok {
		h.respondError(w, "session", errors.NewValidationError("Missing sid"))
		return
	}

	detail, err := h.admin.GetSession(r.Context(), sid)
	if err != nil {
		h.respondError(w, "session", errors.As(err))
		return
	}
	if detail == nil {
		h.respondError(w, "session", errors.NewNotFoundError("Not found"))
		return
	}
	h.respondJSON(w, "session", http.StatusOK, detail)
}

// ListVisitors handles GET /api/admin/visitors
func (h *AdminHandler) ListVisitors(w http.ResponseWriter, r *http.Request) {
	visitors, err := h.admin.ListVisitors(r.Context())
	if err != nil {
		h.respondError(w, "visitors", errors.As(err))
		return
	}
	h.respondJSON(w, "visitors", http.StatusOK, map[string]interface{}{"visitors": visitors})
}

// GetVisitor handles GET /api/admin/visitor?vid=
func (h *AdminHandler) GetVisitor(w http.ResponseWriter, r *http.Request) {
	vid, ok := identifierParam(r, "vid")
	if !ok {
		h.respondError(w, "visitor", errors.NewValidationError("Missing vid"))
		return
	}

	detail, err := h.admin.GetVisitor(r.Context(), vid)
	if err != nil {
		h.respondError(w, "visitor", errors.As(err))
		return
	}
	if detail == nil {
		h.respondError(w, "visitor", errors.NewNotFoundError("Not found"))
		return
	}
	h.respondJSON(w, "visitor", http.StatusOK, detail)
}

// RenameVisitor handles POST /api/admin/visitor and /api/admin/visitor_update
// with {"vid": "...", "display_name": "..."}
func (h *AdminHandler) RenameVisitor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VID         interface{} `json:"vid"`
		DisplayName interface{} `json:"display_name"`
	}
	if raw, err := readBody(r); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	rename := domain.VisitorRename{}
	if vid, ok := body.VID.(string); ok {
		rename.VID = truncate(strings.TrimSpace(vid), domain.MaxIDLength)
	}
	if name, ok := body.DisplayName.(string); ok {
		rename.DisplayName = &name
	}

	if err := h.validate.Struct(rename); err != nil {
		h.respondError(w, "visitor_update", errors.NewValidationError("Missing vid"))
		return
	}

	if err := h.admin.RenameVisitor(r.Context(), rename); err != nil {
		h.respondError(w, "visitor_update", errors.As(err))
		return
	}
	h.respondNoContent(w, "visitor_update")
}

// Bots handles GET /api/admin/bots?days=
func (h *AdminHandler) Bots(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	summary, err := h.admin.Bots(r.Context(), days)
	if err != nil {
		h.respondError(w, "bots", errors.As(err))
		return
	}
	h.respondJSON(w, "bots", http.StatusOK, summary)
}

// Map handles GET /api/admin/map
func (h *AdminHandler) Map(w http.ResponseWriter, r *http.Request) {
	points, err := h.admin.MapPoints(r.Context())
	if err != nil {
		h.respondError(w, "map", errors.As(err))
		return
	}
	h.respondJSON(w, "map", http.StatusOK, map[string]interface{}{"points": points})
}

func (h *AdminHandler) requireDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.admin == nil {
			h.respondError(w, "database", errors.NewUnavailableError("DATABASE_URL not configured"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) rateLimited(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, "rate_limit", http.StatusTooManyRequests, errors.ErrorResponse{Error: "Too many requests"})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, endpoint string, status int, data interface{}) {
	metrics.AdminRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode admin response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, endpoint string, appErr *errors.AppError) {
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.logger.WithError(appErr).WithField("endpoint", endpoint).Error("Admin request failed")
	}
	h.respondJSON(w, endpoint, appErr.StatusCode, errors.ErrorResponse{Error: appErr.Message})
}

func (h *AdminHandler) respondNoContent(w http.ResponseWriter, endpoint string) {
	metrics.AdminRequests.WithLabelValues(endpoint, strconv.Itoa(http.StatusNoContent)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

// identifierParam reads a required query identifier of at most 128 characters
func identifierParam(r *http.Request, name string) (string, bool) {
	value := r.URL.Query().Get(name)
	if value == "" || utf8.RuneCountInString(value) > domain.MaxIDLength {
		return "", false
	}
	return value, true
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
}

// keyByClientIP keys the admin rate limit on the forwarded client address
func keyByClientIP(r *http.Request) (string, error) {
	if ip := clientinfo.ClientIP(r); ip != "" {
		return ip, nil
	}
	return httprate.KeyByIP(r)
}

func secureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
