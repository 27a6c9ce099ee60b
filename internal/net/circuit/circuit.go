package circuit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State mirrors the gobreaker state for callers that should not import it
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config represents circuit breaker configuration
type Config struct {
	Name                string
	ConsecutiveFailures uint32        // Consecutive failures to open circuit
	FailureRatio        float64       // Failure ratio to open circuit once MinRequests is reached
	MinRequests         uint32        // Requests in the interval before the ratio is considered
	Interval            time.Duration // Closed-state count reset period
	Timeout             time.Duration // Time to wait before transitioning to half-open
	HalfOpenRequests    uint32        // Probes allowed while half-open

	// Trips decides whether an error counts against the circuit. Errors it
	// rejects pass through without affecting the counts. Nil counts every error
	// except context cancellation.
	Trips func(error) bool

	// OnStateChange is called on every transition
	OnStateChange func(name string, from, to State)
}

// Breaker wraps a gobreaker circuit breaker around upstream calls
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a new circuit breaker with the specified configuration
func NewBreaker(cfg Config) *Breaker {
	trips := cfg.Trips
	if trips == nil {
		trips = func(err error) bool { return true }
	}

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) {
				return true
			}
			return !trips(err)
		},
	}
	if cfg.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Call executes fn if the breaker allows it. Rejections are reported as
// ErrCircuitOpen.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current breaker state
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Stats returns the counts for the current generation
func (b *Breaker) Stats() Stats {
	c := b.cb.Counts()
	return Stats{
		Name:                 b.cb.Name(),
		State:                b.State().String(),
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveFailures:  c.ConsecutiveFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
	}
}

// Stats represents breaker counts
type Stats struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// IsHealthy returns true if the breaker is admitting traffic normally
func (s *Stats) IsHealthy() bool {
	return s.State == StateClosed.String()
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
