package sampler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchOptions defines batch processing parameters
type BatchOptions struct {
	Size        int           // Items per batch
	Concurrency int           // Concurrent calls within a batch, 0 means Size
	Pause       time.Duration // Delay between consecutive batches
}

// BatchStats summarises one RunBatches call
type BatchStats struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Dropped   int           `json:"dropped"`
	Batches   int           `json:"batches"`
	Cancelled bool          `json:"cancelled"`
	Elapsed   time.Duration `json:"elapsed"`
}

// BatchFunc processes one item. ok=false drops the item without affecting
// the rest of the batch.
type BatchFunc[T, R any] func(ctx context.Context, item T) (result R, ok bool)

// RunBatches applies fn to items in fixed-size batches, pausing between
// batches. Results keep the input order. When ctx is cancelled no further
// batch starts and the results gathered so far are returned.
func RunBatches[T, R any](ctx context.Context, items []T, opts BatchOptions, fn BatchFunc[T, R]) ([]R, BatchStats) {
	start := time.Now()
	size := opts.Size
	if size <= 0 {
		size = len(items)
	}
	limit := opts.Concurrency
	if limit <= 0 || limit > size {
		limit = size
	}

	var stats BatchStats
	results := make([]R, 0, len(items))

	for lo := 0; lo < len(items); lo += size {
		if lo > 0 && !pause(ctx, opts.Pause) {
			stats.Cancelled = true
			break
		}
		if ctx.Err() != nil {
			stats.Cancelled = true
			break
		}

		hi := lo + size
		if hi > len(items) {
			hi = len(items)
		}
		batch := items[lo:hi]

		slots := make([]R, len(batch))
		okay := make([]bool, len(batch))

		// Members never return errors so one failure cannot cancel its siblings
		var g errgroup.Group
		g.SetLimit(limit)
		for i, item := range batch {
			i, item := i, item
			g.Go(func() error {
				slots[i], okay[i] = fn(ctx, item)
				return nil
			})
		}
		_ = g.Wait()

		stats.Batches++
		for i := range batch {
			stats.Attempted++
			if okay[i] {
				stats.Succeeded++
				results = append(results, slots[i])
			} else {
				stats.Dropped++
			}
		}
	}

	stats.Elapsed = time.Since(start)
	return results, stats
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
