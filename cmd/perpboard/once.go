package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/perpboard/internal/pipeline"
)

func newOnceCmd(flags *rootFlags) *cobra.Command {
	var (
		category string
		backfill bool
	)
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one refresh cycle and print the resulting section as JSON",
		Example: `  perpboard once --category funding
  perpboard once --category volume --backfill`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			defer closer.Close()

			a := newApp(cfg)
			defer a.close()

			ctx := cmd.Context()
			if backfill {
				if _, err := a.exclusion.Backfill(ctx, a.pipeline); err != nil {
					return fmt.Errorf("backfill: %w", err)
				}
			}

			var run func(context.Context) (interface{}, error)
			switch strings.ToLower(category) {
			case pipeline.CategoryMovers, "gainers":
				run = func(ctx context.Context) (interface{}, error) { return a.pipeline.RefreshMovers(ctx) }
			case pipeline.CategoryVolume:
				run = func(ctx context.Context) (interface{}, error) { return a.pipeline.RefreshVolume(ctx) }
			case pipeline.CategoryFunding:
				run = func(ctx context.Context) (interface{}, error) { return a.pipeline.RefreshFunding(ctx) }
			default:
				return fmt.Errorf("unknown category %q (movers|volume|funding)", category)
			}

			sec, err := run(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sec)
		},
	}
	cmd.Flags().StringVar(&category, "category", pipeline.CategoryFunding, "Cycle to run (movers|volume|funding)")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "Backfill the volume history first")
	return cmd
}
