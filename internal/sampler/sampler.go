package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/ranking"
)

// ErrInsufficientHistory is returned when upstream returned fewer candles
// than the window asked for
var ErrInsufficientHistory = errors.New("insufficient candle history")

// Sample is the derived view of one symbol's candle window
type Sample struct {
	Symbol          string          `json:"symbol"`
	ReferencePrice  float64         `json:"reference_price"`  // oldest candle open
	ClosePrice      float64         `json:"close_price"`      // newest candle close
	TimeframeVolume float64         `json:"timeframe_volume"` // sum of candle turnover
	ChangePercent   float64         `json:"change_percent"`
	Candles         []market.Candle `json:"-"`
}

// FromCandles builds a sample from candles ordered newest first
func FromCandles(symbol string, candles []market.Candle, limit int) (Sample, error) {
	if len(candles) == 0 || len(candles) < limit {
		return Sample{}, fmt.Errorf("%s: got %d candles, want %d: %w", symbol, len(candles), limit, ErrInsufficientHistory)
	}

	newest := candles[0]
	oldest := candles[len(candles)-1]

	var volume float64
	for _, c := range candles {
		volume += c.Turnover
	}

	return Sample{
		Symbol:          symbol,
		ReferencePrice:  oldest.Open,
		ClosePrice:      newest.Close,
		TimeframeVolume: volume,
		ChangePercent:   ranking.PercentChange(newest.Close, oldest.Open),
		Candles:         candles,
	}, nil
}

// Sampler fetches candle windows for many symbols under a batch profile
type Sampler struct {
	source market.CandleSource
	opts   BatchOptions
	name   string
}

// New creates a sampler. name labels log lines, e.g. "movers" or "volume".
func New(name string, source market.CandleSource, opts BatchOptions) *Sampler {
	return &Sampler{source: source, opts: opts, name: name}
}

// Sample returns one sample per symbol with enough history; failures are
// logged at debug level and dropped
func (s *Sampler) Sample(ctx context.Context, symbols []string, w market.Window) ([]Sample, BatchStats) {
	samples, stats := RunBatches(ctx, symbols, s.opts, func(ctx context.Context, symbol string) (Sample, bool) {
		candles, err := s.source.Klines(ctx, symbol, w)
		if err != nil {
			log.Debug().Err(err).
				Str("component", "sampler").
				Str("category", s.name).
				Str("symbol", symbol).
				Msg("Kline request failed")
			return Sample{}, false
		}
		sample, err := FromCandles(symbol, candles, w.Limit)
		if err != nil {
			log.Debug().Err(err).
				Str("component", "sampler").
				Str("category", s.name).
				Str("symbol", symbol).
				Msg("Sample dropped")
			return Sample{}, false
		}
		return sample, true
	})

	log.Debug().
		Str("component", "sampler").
		Str("category", s.name).
		Str("interval", w.Interval).
		Int("limit", w.Limit).
		Int("symbols", stats.Attempted).
		Int("samples", stats.Succeeded).
		Int("batches", stats.Batches).
		Dur("duration", stats.Elapsed).
		Msg("Sampling finished")

	return samples, stats
}
