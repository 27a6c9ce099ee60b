package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/instrument"
)

// Snapshot is one tickers fetch turned into lookup maps
type Snapshot struct {
	// Prices is keyed by the representative symbol of each base asset
	Prices map[string]float64
	// Tickers holds every contract from the fetch
	Tickers   map[string]Ticker
	FetchedAt time.Time
}

// Fetcher turns the tickers endpoint into snapshots
type Fetcher struct {
	source TickerSource
	now    func() time.Time
}

// NewFetcher creates a fetcher over source
func NewFetcher(source TickerSource) *Fetcher {
	return &Fetcher{source: source, now: time.Now}
}

// FetchSnapshot issues one tickers request. Tickers with no symbol or no
// positive last price are skipped.
func (f *Fetcher) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	tickers, err := f.source.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	all := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		if t.Symbol == "" || t.LastPrice <= 0 {
			continue
		}
		all[t.Symbol] = t
	}

	reps := Collapse(all)
	prices := make(map[string]float64, len(reps))
	for _, t := range reps {
		prices[t.Symbol] = t.LastPrice
	}

	log.Debug().
		Str("component", "snapshot").
		Int("contracts", len(all)).
		Int("bases", len(prices)).
		Msg("Snapshot fetched")

	return &Snapshot{Prices: prices, Tickers: all, FetchedAt: f.now().UTC()}, nil
}

// Collapse keeps, for every base asset, the contract with the highest 24h
// volume. Equal volumes resolve to the lexically smaller symbol.
func Collapse(tickers map[string]Ticker) map[string]Ticker {
	best := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		base := instrument.BaseAsset(t.Symbol)
		cur, ok := best[base]
		if !ok || t.Volume24h > cur.Volume24h || (t.Volume24h == cur.Volume24h && t.Symbol < cur.Symbol) {
			best[base] = t
		}
	}
	return best
}

// PerpetualSymbols lists the linear perpetuals quoted in quote, uncollapsed
// and sorted
func (s *Snapshot) PerpetualSymbols(quote string) []string {
	out := make([]string, 0, len(s.Tickers))
	for sym := range s.Tickers {
		if instrument.Parse(sym).IsLinearPerpetual(quote) {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// RepresentativeSymbols lists the keys of Prices, sorted
func (s *Snapshot) RepresentativeSymbols() []string {
	out := make([]string, 0, len(s.Prices))
	for sym := range s.Prices {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Funding returns every contract carrying a nonzero funding rate
func (s *Snapshot) Funding() []Ticker {
	out := make([]Ticker, 0, len(s.Tickers))
	for _, t := range s.Tickers {
		if t.HasFunding && t.FundingRate != 0 {
			out = append(out, t)
		}
	}
	return out
}
