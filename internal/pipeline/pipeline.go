package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/exclusion"
	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/publish"
	"github.com/sawpanic/perpboard/internal/sampler"
	"github.com/sawpanic/perpboard/internal/store"
)

// Categories name the three refresh cycles in logs, metrics and CLI flags
const (
	CategoryMovers  = "movers"
	CategoryVolume  = "volume"
	CategoryFunding = "funding"
)

var (
	// ErrNoFundingData is returned when no contract carries a nonzero funding rate
	ErrNoFundingData = errors.New("no funding data")
	// ErrNoSamples is returned when a timeframe produced no samples from a
	// non-empty universe, which usually means upstream is refusing requests
	ErrNoSamples = errors.New("no samples")
	// ErrLowCoverage is returned when too few symbols of a day were sampled
	// to rank its top list
	ErrLowCoverage = errors.New("daily coverage below threshold")
)

// Options wires a Pipeline
type Options struct {
	Tickers   market.TickerSource
	Candles   market.CandleSource
	Store     *store.MarketDataStore
	Exclusion *exclusion.Engine // nil disables volume exclusion
	Publisher publish.Publisher // nil disables publishing
	Metrics   *metrics.Registry

	ChangeBatch sampler.BatchOptions
	VolumeBatch sampler.BatchOptions

	MoversSize  int
	VolumeSize  int
	FundingSize int
	VolumeQuote string

	Now func() time.Time
}

// Pipeline runs the fetch, compute and commit cycles. Each Refresh method
// owns one store section; a failed cycle leaves that section untouched.
type Pipeline struct {
	fetcher   *market.Fetcher
	change    *sampler.Sampler
	volume    *sampler.Sampler
	store     *store.MarketDataStore
	exclusion *exclusion.Engine
	publisher publish.Publisher
	metrics   *metrics.Registry

	moversSize  int
	volumeSize  int
	fundingSize int
	volumeQuote string

	now func() time.Time
}

// New creates a pipeline, filling unset sizes with the standard tables
func New(opts Options) *Pipeline {
	if opts.MoversSize <= 0 {
		opts.MoversSize = 10
	}
	if opts.VolumeSize <= 0 {
		opts.VolumeSize = 10
	}
	if opts.FundingSize <= 0 {
		opts.FundingSize = 15
	}
	if opts.VolumeQuote == "" {
		opts.VolumeQuote = "USDT"
	}
	if opts.ChangeBatch.Size <= 0 {
		opts.ChangeBatch = sampler.BatchOptions{Size: 30, Pause: 100 * time.Millisecond}
	}
	if opts.VolumeBatch.Size <= 0 {
		opts.VolumeBatch = sampler.BatchOptions{Size: 50, Pause: 50 * time.Millisecond}
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Publisher == nil {
		opts.Publisher = publish.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		fetcher:     market.NewFetcher(opts.Tickers),
		change:      sampler.New(CategoryMovers, opts.Candles, opts.ChangeBatch),
		volume:      sampler.New(CategoryVolume, opts.Candles, opts.VolumeBatch),
		store:       opts.Store,
		exclusion:   opts.Exclusion,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		moversSize:  opts.MoversSize,
		volumeSize:  opts.VolumeSize,
		fundingSize: opts.FundingSize,
		volumeQuote: opts.VolumeQuote,
		now:         opts.Now,
	}
}

// Store returns the store the pipeline commits into
func (p *Pipeline) Store() *store.MarketDataStore { return p.store }

// section binds a cycle to the store section it commits
type section[S any] struct {
	category string
	channel  string
	cycle    func(context.Context) (*S, error)
	commit   func(*S)
	gauges   func(*metrics.Registry, *S)
}

// run times a cycle, records its result and commits and publishes on success.
// Table gauges follow the committed section only.
func run[S any](ctx context.Context, p *Pipeline, s section[S]) (*S, error) {
	timer := p.metrics.StartCycle(s.category)

	sec, err := s.cycle(ctx)
	if err == nil {
		// A cancelled context can cut sampling short; never commit a truncated cycle
		err = ctx.Err()
	}
	if err != nil {
		d := timer.Stop(metrics.ResultError)
		log.Error().Err(err).
			Str("component", "pipeline").
			Str("category", s.category).
			Dur("duration", d).
			Msg("Refresh cycle failed, keeping previous section")
		return nil, fmt.Errorf("%s cycle: %w", s.category, err)
	}

	s.commit(sec)
	if s.gauges != nil {
		s.gauges(p.metrics, sec)
	}
	d := timer.Stop(metrics.ResultSuccess)
	log.Info().
		Str("component", "pipeline").
		Str("category", s.category).
		Dur("duration", d).
		Msg("Refresh cycle committed")

	if perr := p.publisher.Publish(ctx, s.channel, sec); perr != nil {
		log.Warn().Err(perr).
			Str("component", "pipeline").
			Str("channel", s.channel).
			Msg("Snapshot publish failed")
	}
	return sec, nil
}
