package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/pkg/errors"
	"portfolio-analytics/pkg/logger"
)

const (
	// AdminCookieName holds the signed admin session
	AdminCookieName = "admin_session"

	adminSessionTTL     = 30 * 24 * time.Hour
	adminSessionSubject = "admin"
	adminSessionIssuer  = "portfolio-analytics"
)

// AdminAuth gates the admin API behind the static ADMIN_TOKEN.
// A request is authorized by a matching bearer token or by a session cookie
// signed with that token.
type AdminAuth struct {
	token  string
	logger *logger.Logger
	now    func() time.Time
}

// NewAdminAuth creates the admin gate. An empty token leaves every admin route unavailable.
func NewAdminAuth(token string, log *logger.Logger) *AdminAuth {
	return &AdminAuth{
		token:  token,
		logger: log,
		now:    time.Now,
	}
}

// Configured reports whether ADMIN_TOKEN is set
func (a *AdminAuth) Configured() bool {
	return a.token != ""
}

// RequireAdmin rejects requests without admin credentials
func (a *AdminAuth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Configured() {
			writeErrorResponse(w, errors.NewUnavailableError("ADMIN_TOKEN not configured"), a.logger)
			return
		}

		if !a.Authorized(r) {
			metrics.AdminRequests.WithLabelValues("auth", "401").Inc()
			a.logger.WithFields(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("Admin request rejected")
			writeErrorResponse(w, errors.NewAuthenticationError("Unauthorized"), a.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Authorized checks the bearer header first, then the session cookie
func (a *AdminAuth) Authorized(r *http.Request) bool {
	if !a.Configured() {
		return false
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && a.TokenMatches(strings.TrimSpace(token)) {
			return true
		}
	}

	cookie, err := r.Cookie(AdminCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	return a.validSession(cookie.Value)
}

// TokenMatches compares a candidate against ADMIN_TOKEN in constant time
func (a *AdminAuth) TokenMatches(candidate string) bool {
	if !a.Configured() || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.token)) == 1
}

// IssueSession sets a signed session cookie valid for 30 days
func (a *AdminAuth) IssueSession(w http.ResponseWriter, secure bool) error {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   adminSessionSubject,
		Issuer:    adminSessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminSessionTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.token))
	if err != nil {
		return fmt.Errorf("failed to sign admin session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    signed,
		Path:     "/api/admin",
		Expires:  now.Add(adminSessionTTL),
		MaxAge:   int(adminSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// ClearSession expires the session cookie
func (a *AdminAuth) ClearSession(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AdminCookieName,
		Value:    "",
		Path:     "/api/admin",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *AdminAuth) validSession(value string) bool {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.token), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminSessionIssuer),
		jwt.WithSubject(adminSessionSubject),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		a.logger.WithError(err).Debug("Invalid admin session cookie")
		return false
	}
	return token.Valid
}
