package exclusion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/instrument"
	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
)

// Config configures the rolling window
type Config struct {
	WindowDays     int           // Records retained, and the age limit in days
	TopN           int           // Symbols kept per daily record
	MinOccurrences int           // Records a base must appear in to be excluded
	BackfillPause  time.Duration // Delay between backfilled days
	MinCoverage    float64       // Share of the universe a daily top list must be ranked from
}

// ErrNoBackfill is returned by Backfill when no day could be recorded
var ErrNoBackfill = errors.New("backfill recorded no days")

// DefaultConfig returns the 7-day / top-20 / 5-occurrence window
func DefaultConfig() Config {
	return Config{WindowDays: 7, TopN: 20, MinOccurrences: 5, BackfillPause: 200 * time.Millisecond, MinCoverage: 0.9}
}

// Record is the top-volume list of one completed UTC day
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Symbols   []string  `json:"symbols"`
}

// Day returns the UTC calendar day the record belongs to
func (r Record) Day() time.Time {
	return market.StartOfDay(r.Timestamp)
}

// State is an immutable view of the engine
type State struct {
	Records   []Record       `json:"records"`
	Excluded  []string       `json:"excluded"`
	Counts    map[string]int `json:"counts"`
	UpdatedAt time.Time      `json:"updated_at"`

	set map[string]struct{}
}

// IsExcluded reports whether the base asset is currently excluded
func (s *State) IsExcluded(base string) bool {
	if s == nil {
		return false
	}
	_, ok := s.set[base]
	return ok
}

// Excludes reports whether a raw symbol's base asset is excluded
func (s *State) Excludes(symbol string) bool {
	return s.IsExcluded(instrument.BaseAsset(symbol))
}

// DayRanker returns the top n symbols by turnover of the daily candle ending at cutoff
type DayRanker interface {
	TopSymbols(ctx context.Context, cutoff time.Time, n int) ([]string, error)
}

// Engine maintains the volume history and the derived exclusion set. Writes
// are serialised; readers load the current State without locking.
type Engine struct {
	cfg     Config
	metrics *metrics.Registry
	now     func() time.Time

	mu    sync.Mutex
	state atomic.Pointer[State]
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records exclusion gauges
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an empty engine
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = def.MinOccurrences
	}
	if cfg.MinCoverage <= 0 || cfg.MinCoverage > 1 {
		cfg.MinCoverage = def.MinCoverage
	}

	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Store(e.build(nil))
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.cfg }

// Snapshot returns the current immutable state
func (e *Engine) Snapshot() *State {
	return e.state.Load()
}

// Backfill records the trailing WindowDays completed days, newest first.
// Days whose ranking fails are logged and skipped. It returns the number of
// records added.
func (e *Engine) Backfill(ctx context.Context, ranker DayRanker) (int, error) {
	today := market.StartOfDay(e.now())
	added := 0

	for k := 0; k < e.cfg.WindowDays; k++ {
		if k > 0 && e.cfg.BackfillPause > 0 {
			select {
			case <-ctx.Done():
				return added, ctx.Err()
			case <-time.After(e.cfg.BackfillPause):
			}
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}

		cutoff := today.AddDate(0, 0, -k).Add(-time.Millisecond)
		symbols, err := ranker.TopSymbols(ctx, cutoff, e.cfg.TopN)
		if err != nil {
			log.Warn().Err(err).
				Str("component", "exclusion").
				Time("day", market.StartOfDay(cutoff)).
				Msg("Backfill day failed")
			continue
		}
		if e.Observe(cutoff, symbols) {
			added++
		}
		log.Debug().
			Str("component", "exclusion").
			Time("day", market.StartOfDay(cutoff)).
			Int("symbols", len(symbols)).
			Msg("Backfill day recorded")
	}

	st := e.Snapshot()
	log.Info().
		Str("component", "exclusion").
		Int("records", len(st.Records)).
		Int("excluded", len(st.Excluded)).
		Msg("Volume history backfill complete")

	if added == 0 {
		return 0, ErrNoBackfill
	}
	return added, nil
}

// Observe offers the top list of the day ending at cutoff. A record is
// appended only if none exists for that UTC day. The window is then pruned
// and the set recomputed. It reports whether a record was appended.
func (e *Engine) Observe(cutoff time.Time, symbols []string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	records := append([]Record(nil), cur.Records...)

	day := market.StartOfDay(cutoff)
	appended := true
	for _, r := range records {
		if r.Day().Equal(day) {
			appended = false
			break
		}
	}
	if appended {
		top := symbols
		if len(top) > e.cfg.TopN {
			top = top[:e.cfg.TopN]
		}
		records = append(records, Record{
			Timestamp: cutoff.UTC(),
			Symbols:   append([]string(nil), top...),
		})
	}

	e.publish(e.build(e.prune(records)))
	return appended
}

// Prune drops expired records without adding any
func (e *Engine) Prune() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Load()
	e.publish(e.build(e.prune(append([]Record(nil), cur.Records...))))
}

// prune removes records older than WindowDays x 24h and keeps at most the
// newest WindowDays records, ordered oldest first
func (e *Engine) prune(records []Record) []Record {
	horizon := e.now().Add(-time.Duration(e.cfg.WindowDays) * 24 * time.Hour)

	kept := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(horizon) {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	if len(kept) > e.cfg.WindowDays {
		kept = kept[len(kept)-e.cfg.WindowDays:]
	}
	return kept
}

// build derives a fresh State from records. Nothing carries over from the
// previous exclusion set.
func (e *Engine) build(records []Record) *State {
	counts := make(map[string]int)
	for _, r := range records {
		seen := make(map[string]struct{}, len(r.Symbols))
		for _, sym := range r.Symbols {
			base := instrument.BaseAsset(sym)
			if _, dup := seen[base]; dup {
				continue
			}
			seen[base] = struct{}{}
			counts[base]++
		}
	}

	set := make(map[string]struct{})
	excluded := make([]string, 0)
	for base, n := range counts {
		if n >= e.cfg.MinOccurrences {
			set[base] = struct{}{}
			excluded = append(excluded, base)
		}
	}
	sort.Strings(excluded)

	if records == nil {
		records = []Record{}
	}
	return &State{
		Records:   records,
		Excluded:  excluded,
		Counts:    counts,
		UpdatedAt: e.now().UTC(),
		set:       set,
	}
}

func (e *Engine) publish(st *State) {
	prev := e.state.Swap(st)
	e.metrics.SetExclusion(len(st.Excluded), len(st.Records))

	if prev == nil || len(prev.Excluded) != len(st.Excluded) || len(prev.Records) != len(st.Records) {
		log.Info().
			Str("component", "exclusion").
			Int("records", len(st.Records)).
			Int("excluded", len(st.Excluded)).
			Strs("bases", st.Excluded).
			Msg("Exclusion set updated")
	}
}
