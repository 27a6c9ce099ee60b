package bybit

import (
	"errors"
	"fmt"

	"github.com/sawpanic/perpboard/internal/net/client"
)

// Bybit retCodes that signal throttling or server trouble rather than a bad
// request
const (
	CodeTooManyVisits = 10006
	CodeServerError   = 10016
	CodeIPRateLimit   = 10018
)

// APIError is a response whose retCode is not zero
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: retCode %d: %s", e.Endpoint, e.Code, e.Message)
}

// IsRateLimited reports whether the upstream refused for throttling
func (e *APIError) IsRateLimited() bool {
	return e.Code == CodeTooManyVisits || e.Code == CodeIPRateLimit
}

// IsUpstreamFailure reports whether err says the upstream is unhealthy:
// transport failures, HTTP 5xx/429 and throttling or server retCodes.
// Unknown symbols, malformed payloads and cancellations do not count.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}

	var perr *client.ProviderError
	if errors.As(err, &perr) {
		return perr.IsUpstreamFailure()
	}

	var aerr *APIError
	if errors.As(err, &aerr) {
		return aerr.IsRateLimited() || aerr.Code == CodeServerError
	}

	return false
}
