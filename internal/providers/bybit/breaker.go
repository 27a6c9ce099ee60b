package bybit

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/config"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/net/circuit"
)

// NewBreaker builds the upstream circuit breaker. It returns nil when the
// breaker is disabled, which the client treats as pass-through.
func NewBreaker(cc config.CircuitConfig, m *metrics.Registry) *circuit.Breaker {
	if !cc.Enabled {
		return nil
	}
	return circuit.NewBreaker(circuit.Config{
		Name:                "bybit",
		ConsecutiveFailures: cc.ConsecutiveFailures,
		FailureRatio:        cc.FailureRatio,
		MinRequests:         cc.MinRequests,
		Interval:            cc.Interval,
		Timeout:             cc.Timeout,
		HalfOpenRequests:    1,
		Trips:               IsUpstreamFailure,
		OnStateChange: func(name string, from, to circuit.State) {
			m.SetBreakerState(name, int(to))
			log.Warn().
				Str("component", "bybit").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}
