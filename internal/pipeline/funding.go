package pipeline

import (
	"context"

	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/publish"
	"github.com/sawpanic/perpboard/internal/ranking"
	"github.com/sawpanic/perpboard/internal/store"
)

// RefreshFunding recomputes the positive and negative funding tables
func (p *Pipeline) RefreshFunding(ctx context.Context) (*store.FundingSection, error) {
	return run(ctx, p, section[store.FundingSection]{
		category: CategoryFunding,
		channel:  publish.ChannelFunding,
		cycle:    p.funding,
		commit:   p.store.CommitFunding,
		gauges: func(m *metrics.Registry, sec *store.FundingSection) {
			m.SetTableRows(CategoryFunding, "", "positive", len(sec.Positive))
			m.SetTableRows(CategoryFunding, "", "negative", len(sec.Negative))
		},
	})
}

func (p *Pipeline) funding(ctx context.Context) (*store.FundingSection, error) {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	tickers := snap.Funding()
	if len(tickers) == 0 {
		return nil, ErrNoFundingData
	}

	rows := make([]ranking.FundingRow, 0, len(tickers))
	for _, t := range tickers {
		rows = append(rows, ranking.FundingRow{
			Symbol:         t.Symbol,
			FundingRate:    t.FundingRate,
			FundingRatePct: t.FundingRate * 100,
			LastPrice:      t.LastPrice,
		})
	}
	positive, negative := ranking.RankFunding(rows, p.fundingSize)

	return &store.FundingSection{
		Positive:   positive,
		Negative:   negative,
		LastUpdate: p.now().UTC(),
	}, nil
}
