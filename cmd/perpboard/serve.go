package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/sawpanic/perpboard/internal/interfaces/http"
	"github.com/sawpanic/perpboard/internal/interfaces/http/handlers"
	"github.com/sawpanic/perpboard/internal/pipeline"
	"github.com/sawpanic/perpboard/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	noBackfill bool
	noHTTP     bool
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh loops and the read-only HTTP surface",
		Long: `Runs the movers, volume and funding loops at their configured cadence
until SIGINT or SIGTERM. The volume loop backfills the 7-day volume history
before its first cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noBackfill, "no-backfill", false, "Skip the startup volume history backfill")
	cmd.Flags().BoolVar(&opts.noHTTP, "no-http", false, "Do not start the HTTP server")
	return cmd
}

func runServe(cmd *cobra.Command, flags *rootFlags, opts serveOptions) error {
	cfg, closer, err := flags.load(cmd.Flags())
	if err != nil {
		return err
	}
	defer closer.Close()

	a := newApp(cfg)
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", version).
		Str("base_url", cfg.Bybit.BaseURL).
		Dur("gainers", cfg.Refresh.Gainers).
		Dur("volume", cfg.Refresh.Volume).
		Dur("funding", cfg.Refresh.Funding).
		Msg("perpboard starting")

	sched, err := newScheduler(a, cfg.Exclusion.Backfill && !opts.noBackfill)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled && !opts.noHTTP {
		srv := httpserver.NewServer(cfg.HTTP, handlers.NewHandlers(handlers.Options{
			Store:     a.store,
			Exclusion: a.exclusion,
			Breakers:  a.breakers(),
			Version:   version,
		}), a.metrics.Handler())

		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error { return sched.Start(gctx) })

	err = g.Wait()
	log.Info().Msg("perpboard stopped")
	return err
}

// newScheduler builds the three refresh loops. The volume history backfill
// is the volume job's setup, so movers and funding start immediately.
func newScheduler(a *app, backfill bool) (*scheduler.Scheduler, error) {
	volume := scheduler.Job{Name: pipeline.CategoryVolume, Interval: a.cfg.Refresh.Volume, Run: discard(a.pipeline.RefreshVolume)}
	if backfill {
		volume.Setup = func(ctx context.Context) error {
			// the live volume loop fills missing days one by one
			_, err := a.exclusion.Backfill(ctx, a.pipeline)
			return err
		}
	}
	return scheduler.New(a.metrics,
		scheduler.Job{Name: pipeline.CategoryMovers, Interval: a.cfg.Refresh.Gainers, Run: discard(a.pipeline.RefreshMovers)},
		volume,
		scheduler.Job{Name: pipeline.CategoryFunding, Interval: a.cfg.Refresh.Funding, Run: discard(a.pipeline.RefreshFunding)},
	)
}

// discard adapts a refresh method to a scheduler job
func discard[S any](refresh func(context.Context) (*S, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := refresh(ctx)
		return err
	}
}
