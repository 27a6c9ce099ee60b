package main

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/config"
	"github.com/sawpanic/perpboard/internal/exclusion"
	"github.com/sawpanic/perpboard/internal/metrics"
	"github.com/sawpanic/perpboard/internal/net/circuit"
	"github.com/sawpanic/perpboard/internal/net/ratelimit"
	"github.com/sawpanic/perpboard/internal/pipeline"
	"github.com/sawpanic/perpboard/internal/providers/bybit"
	"github.com/sawpanic/perpboard/internal/publish"
	"github.com/sawpanic/perpboard/internal/sampler"
	"github.com/sawpanic/perpboard/internal/store"
)

// app is the wired object graph shared by serve and once
type app struct {
	cfg       *config.Config
	metrics   *metrics.Registry
	limiter   *ratelimit.Limiter
	breaker   *circuit.Breaker
	client    *bybit.Client
	store     *store.MarketDataStore
	exclusion *exclusion.Engine
	publisher publish.Publisher
	pipeline  *pipeline.Pipeline
}

func newApp(cfg *config.Config) *app {
	m := metrics.NewRegistry()
	limiter := ratelimit.NewLimiter(cfg.Bybit.RPS, cfg.Bybit.Burst)
	breaker := bybit.NewBreaker(cfg.Bybit.Circuit, m)

	client := bybit.NewClient(bybit.Config{
		BaseURL:        cfg.Bybit.BaseURL,
		Category:       cfg.Bybit.Category,
		RequestTimeout: cfg.Bybit.RequestTimeout,
		UserAgent:      cfg.Bybit.UserAgent,
		Limiter:        limiter,
		Breaker:        breaker,
		Metrics:        m,
	})

	st := store.New()
	engine := exclusion.NewEngine(exclusion.Config{
		WindowDays:     cfg.Exclusion.WindowDays,
		TopN:           cfg.Exclusion.TopN,
		MinOccurrences: cfg.Exclusion.MinOccurrences,
		BackfillPause:  cfg.Exclusion.BackfillPause,
		MinCoverage:    cfg.Exclusion.MinCoverage,
	}, exclusion.WithMetrics(m))
	pub := publish.New(cfg.Publish.Redis, m)

	p := pipeline.New(pipeline.Options{
		Tickers:     client,
		Candles:     client,
		Store:       st,
		Exclusion:   engine,
		Publisher:   pub,
		Metrics:     m,
		ChangeBatch: batchOptions(cfg.Sampler.Change),
		VolumeBatch: batchOptions(cfg.Sampler.Volume),
		MoversSize:  cfg.Ranking.MoversSize,
		VolumeSize:  cfg.Ranking.VolumeSize,
		FundingSize: cfg.Ranking.FundingSize,
		VolumeQuote: cfg.Ranking.VolumeQuote,
	})

	return &app{
		cfg:       cfg,
		metrics:   m,
		limiter:   limiter,
		breaker:   breaker,
		client:    client,
		store:     st,
		exclusion: engine,
		publisher: pub,
		pipeline:  p,
	}
}

func batchOptions(b config.BatchConfig) sampler.BatchOptions {
	return sampler.BatchOptions{Size: b.Size, Concurrency: b.Concurrency, Pause: b.Pause}
}

func (a *app) breakers() []*circuit.Breaker {
	if a.breaker == nil {
		return nil
	}
	return []*circuit.Breaker{a.breaker}
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Publisher close failed")
	}
}
