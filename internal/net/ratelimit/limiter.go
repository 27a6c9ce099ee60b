package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every upstream endpoint. Each Wait is
// attributed to an endpoint so throttling can be reported per route.
type Limiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	endpoints map[string]*endpointCounters
}

type endpointCounters struct {
	waits     int64
	throttled int64
	waited    time.Duration
}

// NewLimiter creates a limiter allowing rps requests per second with the given burst
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:    rate.NewLimiter(rate.Limit(rps), burst),
		endpoints: make(map[string]*endpointCounters),
	}
}

// Allow reports whether a request may be sent right now without waiting
func (l *Limiter) Allow(endpoint string) bool {
	ok := l.bucket.Allow()
	l.record(endpoint, !ok, 0)
	return ok
}

// Wait blocks until a token is available or ctx is done
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	start := time.Now()
	err := l.bucket.Wait(ctx)
	waited := time.Since(start)
	// rate.Limiter.Wait returns immediately when a token is free; anything
	// measurable counts as throttled
	l.record(endpoint, waited > time.Millisecond, waited)
	return err
}

func (l *Limiter) record(endpoint string, throttled bool, waited time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.endpoints[endpoint]
	if !ok {
		c = &endpointCounters{}
		l.endpoints[endpoint] = c
	}
	c.waits++
	if throttled {
		c.throttled++
	}
	c.waited += waited
}

// SetRPS updates the refill rate
func (l *Limiter) SetRPS(rps float64) {
	l.bucket.SetLimit(rate.Limit(rps))
}

// Stats returns a point-in-time view of the bucket and per-endpoint counters
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		RPS:             float64(l.bucket.Limit()),
		Burst:           l.bucket.Burst(),
		TokensAvailable: l.bucket.Tokens(),
		Endpoints:       make(map[string]EndpointStats, len(l.endpoints)),
	}
	for name, c := range l.endpoints {
		s.Endpoints[name] = EndpointStats{
			Requests:  c.waits,
			Throttled: c.throttled,
			Waited:    c.waited,
		}
	}
	return s
}

// Stats describes the limiter state
type Stats struct {
	RPS             float64                  `json:"rps"`
	Burst           int                      `json:"burst"`
	TokensAvailable float64                  `json:"tokens_available"`
	Endpoints       map[string]EndpointStats `json:"endpoints"`
}

// EndpointStats holds counters for one upstream route
type EndpointStats struct {
	Requests  int64         `json:"requests"`
	Throttled int64         `json:"throttled"`
	Waited    time.Duration `json:"waited"`
}

// IsThrottled returns true if the endpoint has had to wait for tokens
func (s EndpointStats) IsThrottled() bool {
	return s.Throttled > 0
}
