package exclusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpboard/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, now time.Time) (*Engine, *clock) {
	t.Helper()
	c := &clock{now: now}
	cfg := DefaultConfig()
	cfg.BackfillPause = 0
	return NewEngine(cfg, WithClock(c.Now)), c
}

// dayEnd returns the last millisecond of the day k days before now's day
func dayEnd(now time.Time, k int) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -k).Add(-time.Millisecond)
}

var noon = time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

func TestEngine_StartsEmpty(t *testing.T) {
	e, _ := newEngine(t, noon)
	st := e.Snapshot()
	assert.Empty(t, st.Records)
	assert.Empty(t, st.Excluded)
	assert.False(t, st.IsExcluded("BTC"))
}

func TestEngine_BoundaryFiveVersusFour(t *testing.T) {
	e, _ := newEngine(t, noon)

	for k := 0; k < 7; k++ {
		syms := []string{"FILLERUSDT"}
		if k < 5 {
			syms = append(syms, "BTCUSDT")
		}
		if k < 4 {
			syms = append(syms, "ETHUSDT")
		}
		require.True(t, e.Observe(dayEnd(noon, k), syms))
	}

	st := e.Snapshot()
	assert.True(t, st.IsExcluded("BTC"), "5 of 7 days is excluded")
	assert.False(t, st.IsExcluded("ETH"), "4 of 7 days is not")
	assert.True(t, st.IsExcluded("FILLER"))
	assert.Equal(t, 5, st.Counts["BTC"])
	assert.Equal(t, 4, st.Counts["ETH"])
	assert.True(t, st.Excludes("BTCUSDT"))
}

func TestEngine_BaseCountsOncePerRecord(t *testing.T) {
	e, _ := newEngine(t, noon)
	for k := 0; k < 3; k++ {
		e.Observe(dayEnd(noon, k), []string{"PEPEUSDT", "1000PEPEUSDT", "PEPEPERP"})
	}
	assert.Equal(t, 3, e.Snapshot().Counts["PEPE"])
	assert.False(t, e.Snapshot().IsExcluded("PEPE"))
}

func TestEngine_OneRecordPerDay(t *testing.T) {
	e, _ := newEngine(t, noon)

	assert.True(t, e.Observe(dayEnd(noon, 0), []string{"BTCUSDT"}))
	assert.False(t, e.Observe(dayEnd(noon, 0), []string{"ETHUSDT"}))
	assert.False(t, e.Observe(dayEnd(noon, 0).Add(-time.Hour), []string{"ETHUSDT"}), "same UTC day")

	st := e.Snapshot()
	require.Len(t, st.Records, 1)
	assert.Equal(t, []string{"BTCUSDT"}, st.Records[0].Symbols)
}

func TestEngine_CapsAtSevenRecords(t *testing.T) {
	e, c := newEngine(t, noon)

	for day := 0; day < 12; day++ {
		e.Observe(dayEnd(c.Now(), 0), []string{fmt.Sprintf("D%02dUSDT", day)})
		assert.LessOrEqual(t, len(e.Snapshot().Records), 7)
		c.Advance(24 * time.Hour)
	}

	st := e.Snapshot()
	assert.Len(t, st.Records, 7)
	assert.Equal(t, []string{"D05USDT"}, st.Records[0].Symbols, "oldest retained")
	assert.Equal(t, []string{"D11USDT"}, st.Records[6].Symbols, "newest retained")
}

func TestEngine_CapKeepsNewestWhenAllFresh(t *testing.T) {
	e, _ := newEngine(t, noon)
	e.cfg.WindowDays = 3

	for k := 0; k < 3; k++ {
		e.Observe(dayEnd(noon, k), []string{fmt.Sprintf("K%dUSDT", k)})
	}
	// A fourth record inside the age horizon still pushes out the oldest
	e.Observe(noon.Add(-time.Minute), []string{"TODAYUSDT"})

	st := e.Snapshot()
	require.Len(t, st.Records, 3)
	assert.Equal(t, []string{"K1USDT"}, st.Records[0].Symbols)
	assert.Equal(t, []string{"TODAYUSDT"}, st.Records[2].Symbols)
}

func TestEngine_PrunesOlderThanWindow(t *testing.T) {
	e, c := newEngine(t, noon)

	for k := 0; k < 7; k++ {
		e.Observe(dayEnd(noon, k), []string{"BTCUSDT"})
	}
	require.True(t, e.Snapshot().IsExcluded("BTC"))

	// Two days later the two oldest records fall out of the window
	c.Advance(48 * time.Hour)
	e.Prune()

	st := e.Snapshot()
	horizon := c.Now().Add(-7 * 24 * time.Hour)
	for _, r := range st.Records {
		assert.False(t, r.Timestamp.Before(horizon), "record %s older than horizon", r.Timestamp)
	}
	assert.Len(t, st.Records, 5)
	assert.True(t, st.IsExcluded("BTC"))

	c.Advance(24 * time.Hour)
	e.Prune()
	assert.Len(t, e.Snapshot().Records, 4)
	assert.False(t, e.Snapshot().IsExcluded("BTC"), "set is recomputed from retained records only")
}

func TestEngine_TruncatesToTopN(t *testing.T) {
	e, _ := newEngine(t, noon)
	syms := make([]string, 30)
	for i := range syms {
		syms[i] = fmt.Sprintf("S%02dUSDT", i)
	}
	e.Observe(dayEnd(noon, 0), syms)
	assert.Len(t, e.Snapshot().Records[0].Symbols, 20)
}

func TestEngine_SnapshotIsImmutable(t *testing.T) {
	e, _ := newEngine(t, noon)
	in := []string{"BTCUSDT"}
	e.Observe(dayEnd(noon, 0), in)
	before := e.Snapshot()

	in[0] = "MUTATED"
	e.Observe(dayEnd(noon, 1), []string{"ETHUSDT"})

	assert.Len(t, before.Records, 1, "old snapshot unchanged by later writes")
	assert.Equal(t, []string{"BTCUSDT"}, before.Records[0].Symbols)
}

type fakeRanker struct {
	mu      sync.Mutex
	cutoffs []time.Time
	fail    map[int]bool
	lists   map[int][]string
	today   time.Time
}

func (f *fakeRanker) TopSymbols(_ context.Context, cutoff time.Time, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	k := int(f.today.Sub(cutoff.Add(time.Millisecond)) / (24 * time.Hour))
	if f.fail[k] {
		return nil, errors.New("upstream down")
	}
	return f.lists[k], nil
}

func TestEngine_Backfill(t *testing.T) {
	m := metrics.NewRegistry()
	c := &clock{now: noon}
	e := NewEngine(Config{WindowDays: 7, TopN: 20, MinOccurrences: 5}, WithClock(c.Now), WithMetrics(m))

	today := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	r := &fakeRanker{
		today: today,
		fail:  map[int]bool{3: true},
		lists: map[int][]string{},
	}
	for k := 0; k < 7; k++ {
		r.lists[k] = []string{"BTCUSDT", fmt.Sprintf("DAY%dUSDT", k)}
	}

	added, err := e.Backfill(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 6, added, "failed day is skipped")

	require.Len(t, r.cutoffs, 7)
	for k, cut := range r.cutoffs {
		assert.Equal(t, today.AddDate(0, 0, -k).Add(-time.Millisecond), cut)
	}

	st := e.Snapshot()
	assert.Len(t, st.Records, 6)
	assert.True(t, st.IsExcluded("BTC"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExcludedAssets))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.HistoryRecords))
}

func TestEngine_BackfillAllFail(t *testing.T) {
	e, _ := newEngine(t, noon)
	r := &fakeRanker{today: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), fail: map[int]bool{}}
	for k := 0; k < 7; k++ {
		r.fail[k] = true
	}

	added, err := e.Backfill(context.Background(), r)
	assert.ErrorIs(t, err, ErrNoBackfill)
	assert.Zero(t, added)
	assert.Empty(t, e.Snapshot().Records)
}

func TestEngine_BackfillCancelled(t *testing.T) {
	c := &clock{now: noon}
	e := NewEngine(Config{BackfillPause: time.Second}, WithClock(c.Now))
	r := &fakeRanker{today: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), lists: map[int][]string{0: {"BTCUSDT"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	added, err := e.Backfill(ctx, r)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, added)
}

func TestNewEngine_MinCoverageDefaults(t *testing.T) {
	assert.Equal(t, 0.9, NewEngine(Config{}).Config().MinCoverage)
	assert.Equal(t, 0.9, NewEngine(Config{MinCoverage: 1.5}).Config().MinCoverage)
	assert.Equal(t, 0.5, NewEngine(Config{MinCoverage: 0.5}).Config().MinCoverage)
}
