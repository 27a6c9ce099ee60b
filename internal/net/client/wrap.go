package client

import (
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/sawpanic/perpboard/internal/net/ratelimit"
)

// Error types carried by ProviderError
const (
	ErrorTypeRateLimit = "rate_limit"
	ErrorTypeTransport = "transport"
	ErrorTypeHTTP      = "http_error"
)

// WrapperConfig configures the HTTP client wrapper
type WrapperConfig struct {
	Provider    string
	UserAgent   string
	RateLimiter *ratelimit.Limiter
}

// Wrapper is an http.RoundTripper that paces requests through a shared
// limiter and turns transport failures and non-2xx statuses into
// *ProviderError.
type Wrapper struct {
	config    WrapperConfig
	transport http.RoundTripper
}

// NewWrapper creates a new HTTP client wrapper
func NewWrapper(config WrapperConfig, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.UserAgent == "" {
		config.UserAgent = "perpboard/1.0"
	}
	return &Wrapper{config: config, transport: transport}
}

// RoundTrip implements http.RoundTripper
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", w.config.UserAgent)
	}

	if w.config.RateLimiter != nil {
		if err := w.config.RateLimiter.Wait(req.Context(), Endpoint(req)); err != nil {
			return nil, &ProviderError{
				Provider: w.config.Provider,
				Type:     ErrorTypeRateLimit,
				Err:      fmt.Errorf("rate limit wait failed: %w", err),
			}
		}
	}

	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, &ProviderError{
			Provider: w.config.Provider,
			Type:     ErrorTypeTransport,
			Err:      err,
		}
	}

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &ProviderError{
			Provider:   w.config.Provider,
			Type:       ErrorTypeHTTP,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d error", resp.StatusCode),
		}
	}

	return resp, nil
}

// Endpoint names a request by the last element of its URL path,
// e.g. "tickers" for /v5/market/tickers
func Endpoint(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}
	return path.Base(req.URL.Path)
}

// ProviderError represents an error from a provider with context
type ProviderError struct {
	Provider   string `json:"provider"`
	Type       string `json:"type"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s error (HTTP %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s error: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited returns true if the local limiter or the upstream throttled the request
func (e *ProviderError) IsRateLimited() bool {
	return e.Type == ErrorTypeRateLimit || e.StatusCode == http.StatusTooManyRequests
}

// IsUpstreamFailure reports whether the error says something about upstream
// health: connection failures, 5xx responses and 429s
func (e *ProviderError) IsUpstreamFailure() bool {
	switch e.Type {
	case ErrorTypeTransport:
		return true
	case ErrorTypeHTTP:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
