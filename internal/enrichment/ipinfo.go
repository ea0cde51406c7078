package enrichment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"portfolio-analytics/internal/metrics"
	"portfolio-analytics/pkg/logger"
)

const (
	ipinfoTimeout     = 3 * time.Second
	ipinfoMaxBody     = 64 << 10
	ipinfoBreakerName = "ipinfo"
)

// IPInfoSource fetches {base}/{ip}/json from ipinfo.io or a compatible endpoint
type IPInfoSource struct {
	baseURL string
	token   string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[string]
	logger  *logger.Logger
}

// NewIPInfoSource creates the HTTP source behind a circuit breaker.
// The breaker opens after 5 consecutive failures and probes again after a minute.
func NewIPInfoSource(baseURL, token string, log *logger.Logger) *IPInfoSource {
	metrics.CircuitBreakerState.WithLabelValues(ipinfoBreakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        ipinfoBreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state transition",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &IPInfoSource{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: ipinfoTimeout},
		cb:      cb,
		logger:  log,
	}
}

// Lookup returns the raw ipinfo JSON document for ip
func (s *IPInfoSource) Lookup(ctx context.Context, ip string) (string, error) {
	doc, err := s.cb.Execute(func() (string, error) {
		return s.fetch(ctx, ip)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("ipinfo unavailable: %w", err)
		}
		return "", err
	}
	return doc, nil
}

func (s *IPInfoSource) fetch(ctx context.Context, ip string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/json", s.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("ipinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, ipinfoMaxBody))
	if err != nil {
		return "", fmt.Errorf("ipinfo read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipinfo responded %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		return "", errors.New("ipinfo returned invalid JSON")
	}

	// jsonb null is not SQL NULL; only objects count as a result.
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return "", errors.New("ipinfo returned a non-object document")
	}

	var probe struct {
		Bogon bool `json:"bogon"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", errors.New("ipinfo returned a non-object document")
	}
	if probe.Bogon {
		return "", errors.New("bogon address")
	}

	return string(body), nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
