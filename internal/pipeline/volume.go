package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/exclusion"
	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/publish"
	"github.com/sawpanic/perpboard/internal/ranking"
	"github.com/sawpanic/perpboard/internal/sampler"
	"github.com/sawpanic/perpboard/internal/store"
)

// volumeOrder runs the daily timeframe first so its top list reaches the
// exclusion engine before any table of the cycle is filtered
var volumeOrder = []market.Timeframe{market.TF1d, market.TF5m, market.TF15m, market.TF1h, market.TF4h}

// RefreshVolume recomputes the volume tables for every timeframe, folding
// the daily top list into the exclusion engine
func (p *Pipeline) RefreshVolume(ctx context.Context) (*store.VolumeSection, error) {
	return run(ctx, p, section[store.VolumeSection]{
		category: CategoryVolume,
		channel:  publish.ChannelVolume,
		cycle:    p.volumeCycle,
		commit:   p.store.CommitVolume,
		gauges: func(m *metrics.Registry, sec *store.VolumeSection) {
			for tf, t := range sec.Tables {
				m.SetTableRows(CategoryVolume, tf.String(), "gaining", len(t.Gaining))
				m.SetTableRows(CategoryVolume, tf.String(), "losing", len(t.Losing))
			}
		},
	})
}

func (p *Pipeline) volumeCycle(ctx context.Context) (*store.VolumeSection, error) {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	universe := snap.PerpetualSymbols(p.volumeQuote)
	now := p.now()

	sec := &store.VolumeSection{Tables: make(map[market.Timeframe]store.VolumeTable, len(volumeOrder))}
	var excl *exclusion.State

	for _, tf := range volumeOrder {
		w := market.VolumeWindow(tf, now)
		samples, stats := p.volume.Sample(ctx, universe, w)
		p.metrics.RecordSamples(CategoryVolume, stats.Succeeded, stats.Dropped)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(samples) == 0 && len(universe) > 0 {
			return nil, fmt.Errorf("timeframe %s: %d symbols: %w", tf, len(universe), ErrNoSamples)
		}

		rows := volumeRows(tf, samples, snap)
		if tf == market.TF1d && p.exclusion != nil {
			p.observeDay(w.End, rows, stats)
		}
		if excl == nil && p.exclusion != nil {
			excl = p.exclusion.Snapshot()
		}

		excluded := 0
		var isExcluded func(string) bool
		if excl != nil {
			isExcluded = excl.Excludes
			for _, r := range rows {
				if r.TimeframeVolume > 0 && excl.Excludes(r.Symbol) {
					excluded++
				}
			}
		}
		gaining, losing := ranking.RankVolume(rows, p.volumeSize, isExcluded)

		sec.Tables[tf] = store.VolumeTable{
			Timeframe: tf,
			Gaining:   gaining,
			Losing:    losing,
			Sampled:   len(samples),
			Excluded:  excluded,
		}

		log.Debug().
			Str("component", "pipeline").
			Str("category", CategoryVolume).
			Str("timeframe", tf.String()).
			Int("symbols", len(universe)).
			Int("samples", len(samples)).
			Int("excluded", excluded).
			Msg("Timeframe ranked")
	}

	sec.Excluded = []string{}
	if excl != nil {
		sec.Excluded = excl.Excluded
	}
	sec.LastUpdate = p.now().UTC()
	return sec, nil
}

// observeDay offers the daily top list to the exclusion engine unless too
// few symbols were sampled; the day is retried on the next cycle
func (p *Pipeline) observeDay(cutoff time.Time, rows []ranking.VolumeRow, stats sampler.BatchStats) {
	cfg := p.exclusion.Config()
	if cov := coverage(stats); cov < cfg.MinCoverage {
		log.Warn().
			Str("component", "pipeline").
			Time("day", market.StartOfDay(cutoff)).
			Int("attempted", stats.Attempted).
			Int("succeeded", stats.Succeeded).
			Float64("coverage", cov).
			Float64("min_coverage", cfg.MinCoverage).
			Msg("Daily coverage too low, not recording top volume")
		return
	}
	p.exclusion.Observe(cutoff, ranking.TopByVolume(rows, cfg.TopN))
}

func (p *Pipeline) minCoverage() float64 {
	if p.exclusion == nil {
		return exclusion.DefaultConfig().MinCoverage
	}
	return p.exclusion.Config().MinCoverage
}

// coverage is the share of attempted symbols that produced a sample
func coverage(stats sampler.BatchStats) float64 {
	if stats.Attempted == 0 {
		return 1
	}
	return float64(stats.Succeeded) / float64(stats.Attempted)
}

// volumeRows converts samples into table rows. The daily timeframe takes
// every figure from its single completed candle; shorter timeframes take the
// price and 24h turnover from the live ticker.
func volumeRows(tf market.Timeframe, samples []sampler.Sample, snap *market.Snapshot) []ranking.VolumeRow {
	rows := make([]ranking.VolumeRow, 0, len(samples))
	for _, s := range samples {
		row := ranking.VolumeRow{
			Symbol:          s.Symbol,
			TimeframeVolume: s.TimeframeVolume,
			PriceChange:     s.ChangePercent,
		}
		if tf == market.TF1d {
			row.LastPrice = s.ClosePrice
			row.Volume24h = s.TimeframeVolume
		} else {
			t := snap.Tickers[s.Symbol]
			row.LastPrice = t.LastPrice
			row.Volume24h = t.Turnover24h
		}
		if row.TimeframeVolume > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

// TopSymbols ranks the volume universe by the turnover of the daily candle
// ending at cutoff. It backs the exclusion engine's backfill.
func (p *Pipeline) TopSymbols(ctx context.Context, cutoff time.Time, n int) ([]string, error) {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	universe := snap.PerpetualSymbols(p.volumeQuote)

	samples, stats := p.volume.Sample(ctx, universe, market.DailyWindow(cutoff))
	p.metrics.RecordSamples(CategoryVolume, stats.Succeeded, stats.Dropped)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("day ending %s: %w", cutoff.UTC().Format(time.RFC3339), ErrNoSamples)
	}
	if coverage(stats) < p.minCoverage() {
		return nil, fmt.Errorf("day ending %s: %d of %d symbols: %w",
			cutoff.UTC().Format(time.RFC3339), stats.Succeeded, stats.Attempted, ErrLowCoverage)
	}
	return ranking.TopByVolume(volumeRows(market.TF1d, samples, snap), n), nil
}
