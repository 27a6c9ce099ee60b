package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/publish"
	"github.com/sawpanic/perpboard/internal/ranking"
	"github.com/sawpanic/perpboard/internal/store"
)

// RefreshMovers recomputes gainers and losers for every timeframe from one
// snapshot and commits them as a single section
func (p *Pipeline) RefreshMovers(ctx context.Context) (*store.MoversSection, error) {
	return run(ctx, p, section[store.MoversSection]{
		category: CategoryMovers,
		channel:  publish.ChannelMovers,
		cycle:    p.movers,
		commit:   p.store.CommitMovers,
		gauges: func(m *metrics.Registry, sec *store.MoversSection) {
			for tf, t := range sec.Tables {
				m.SetTableRows(CategoryMovers, tf.String(), "gainers", len(t.Gainers))
				m.SetTableRows(CategoryMovers, tf.String(), "losers", len(t.Losers))
			}
		},
	})
}

func (p *Pipeline) movers(ctx context.Context) (*store.MoversSection, error) {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	symbols := snap.RepresentativeSymbols()

	sec := &store.MoversSection{Tables: make(map[market.Timeframe]store.MoversTable, len(market.Timeframes()))}
	for _, tf := range market.Timeframes() {
		samples, stats := p.change.Sample(ctx, symbols, market.ChangeWindow(tf))
		p.metrics.RecordSamples(CategoryMovers, stats.Succeeded, stats.Dropped)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(samples) == 0 && len(symbols) > 0 {
			return nil, fmt.Errorf("timeframe %s: %d symbols: %w", tf, len(symbols), ErrNoSamples)
		}

		rows := make([]ranking.Mover, 0, len(samples))
		for _, s := range samples {
			current := snap.Prices[s.Symbol]
			rows = append(rows, ranking.Mover{
				Symbol:        s.Symbol,
				CurrentPrice:  current,
				ChangePercent: ranking.PercentChange(current, s.ReferencePrice),
			})
		}
		gainers, losers := ranking.RankMovers(rows, p.moversSize)

		sec.Tables[tf] = store.MoversTable{Timeframe: tf, Gainers: gainers, Losers: losers, Sampled: len(samples)}

		log.Debug().
			Str("component", "pipeline").
			Str("category", CategoryMovers).
			Str("timeframe", tf.String()).
			Int("symbols", len(symbols)).
			Int("samples", len(samples)).
			Msg("Timeframe ranked")
	}

	sec.LastUpdate = p.now().UTC()
	return sec, nil
}
