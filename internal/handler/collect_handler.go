package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"portfolio-analytics/internal/clientinfo"
	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/internal/service"
	"portfolio-analytics/pkg/logger"
)

const (
	// MaxCollectBody is the largest ingestion body that is parsed
	MaxCollectBody = 200_000

	defaultCollectTimeout = 15 * time.Second
)

// CollectHandler serves POST /api/collect
type CollectHandler struct {
	ingest       service.IngestService
	allowedHosts []string
	timeout      time.Duration
	logger       *logger.Logger
	now          func() time.Time
}

// NewCollectHandler creates the ingestion handler. A nil ingest service means no
// database is configured and valid calls are accepted without writing.
func NewCollectHandler(ingest service.IngestService, allowedHosts []string, log *logger.Logger) *CollectHandler {
	return &CollectHandler{
		ingest:       ingest,
		allowedHosts: allowedHosts,
		timeout:      defaultCollectTimeout,
		logger:       log,
		now:          time.Now,
	}
}

// RegisterRoutes mounts the ingestion endpoint. Every method is routed here so
// non-POST calls get the endpoint's own 405.
func (h *CollectHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/collect", h.Collect)
}

// Collect handles /api/collect
func (h *CollectHandler) Collect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respond(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	if !clientinfo.OriginAllowed(r, h.allowedHosts) {
		h.logger.WithFields(map[string]interface{}{
			"origin":  r.Header.Get("Origin"),
			"referer": r.Header.Get("Referer"),
		}).Debug("Collect rejected by origin gate")
		h.respond(w, http.StatusForbidden, "Forbidden")
		return
	}

	if h.ingest == nil {
		h.respond(w, http.StatusNoContent, "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxCollectBody+1))
	if err != nil {
		h.logger.WithError(err).Debug("Failed to read collect body")
		h.respond(w, http.StatusNoContent, "")
		return
	}
	if len(body) > MaxCollectBody {
		h.logger.WithField("limit", MaxCollectBody).Debug("Collect body over limit, discarded")
		h.respond(w, http.StatusNoContent, "")
		return
	}

	payload := service.DecodePayload(body)
	if payload.Internal() {
		h.respond(w, http.StatusNoContent, "")
		return
	}

	rc := service.RequestContext{
		IP:             clientinfo.ClientIP(r),
		UserAgent:      clientinfo.Header(r, "User-Agent"),
		AcceptLanguage: clientinfo.Header(r, "Accept-Language"),
		Geo:            clientinfo.GeoFromHeaders(r),
	}

	sub, err := payload.Normalize(rc, h.now().UTC())
	if errors.Is(err, service.ErrMissingIdentifiers) {
		h.respond(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if err != nil {
		h.logger.WithError(err).Warn("Failed to normalize collect payload")
		h.respond(w, http.StatusNoContent, "")
		return
	}

	h.run(r.Context(), sub)
	h.respond(w, http.StatusNoContent, "")
}

// run executes the write pipeline detached from client cancellation.
// Failures and panics are logged; the caller still answers 204.
func (h *CollectHandler) run(parent context.Context, sub *service.Submission) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.timeout)
	defer cancel()

	log := h.logger.WithFields(map[string]interface{}{
		"vid": sub.Collect.VID,
		"sid": sub.Collect.SID,
	})

	defer func() {
		if rec := recover(); rec != nil {
			metrics.CollectFailures.WithLabelValues("panic").Inc()
			log.WithField("panic", rec).Error("Collect pipeline panicked")
		}
	}()

	if err := h.ingest.Ingest(ctx, sub); err != nil {
		metrics.CollectFailures.WithLabelValues("pipeline").Inc()
		log.WithError(err).Error("Collect pipeline failed")
	}
}

func (h *CollectHandler) respond(w http.ResponseWriter, status int, text string) {
	metrics.CollectRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	if text == "" {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
