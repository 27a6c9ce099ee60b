package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpboard/internal/metrics"
)

func TestNew_RejectsInvalidJobs(t *testing.T) {
	run := func(context.Context) error { return nil }

	_, err := New(nil, Job{Name: "movers", Interval: 0, Run: run})
	assert.Error(t, err)

	_, err = New(nil, Job{Interval: time.Second, Run: run})
	assert.Error(t, err)

	_, err = New(nil,
		Job{Name: "movers", Interval: time.Second, Run: run},
		Job{Name: "movers", Interval: time.Second, Run: run},
	)
	assert.Error(t, err)
}

func TestStart_RunsImmediatelyThenRepeats(t *testing.T) {
	var runs atomic.Int32
	s, err := New(nil, Job{
		Name:     "funding",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.GetStatus().Running)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.GetStatus().Running)
}

func TestStart_RunsDoNotOverlap(t *testing.T) {
	var inFlight, maxInFlight, runs atomic.Int32
	s, err := New(nil, Job{
		Name:     "volume",
		Interval: time.Millisecond,
		Run: func(context.Context) error {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestStart_PanicAndErrorKeepLoopAlive(t *testing.T) {
	var calls atomic.Int32
	m := metrics.NewRegistry()
	s, err := New(m, Job{
		Name:     "movers",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("upstream down")
			}
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st := s.GetStatus().Jobs[0]
		return st.Runs >= 3 && st.LastResult != nil && st.LastResult.Success
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.GetStatus().Jobs[0].Failures)

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var panics float64
	for _, f := range families {
		if f.GetName() != "perpboard_cycles_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == metrics.ResultPanic {
					panics += metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, panics)
}

func TestRunJob(t *testing.T) {
	s, err := New(nil,
		Job{Name: "ok", Interval: time.Minute, Run: func(context.Context) error { return nil }},
		Job{Name: "bad", Interval: time.Minute, Run: func(context.Context) error { return errors.New("no funding data") }},
	)
	require.NoError(t, err)

	res, err := s.RunJob(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = s.RunJob(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no funding data", res.Error)

	_, err = s.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	st := s.GetStatus()
	require.Len(t, st.Jobs, 2)
	assert.Equal(t, "bad", st.Jobs[0].Name)
	assert.Equal(t, 1, st.Jobs[0].Failures)
}

func TestStart_SetupBlocksOnlyItsOwnJob(t *testing.T) {
	release := make(chan struct{})
	var volumeRuns, fundingRuns atomic.Int32
	s, err := New(nil,
		Job{
			Name:     "volume",
			Interval: 5 * time.Millisecond,
			Setup: func(ctx context.Context) error {
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			Run: func(context.Context) error {
				volumeRuns.Add(1)
				return nil
			},
		},
		Job{
			Name:     "funding",
			Interval: 5 * time.Millisecond,
			Run: func(context.Context) error {
				fundingRuns.Add(1)
				return nil
			},
		},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	require.Eventually(t, func() bool { return fundingRuns.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, volumeRuns.Load())
	assert.False(t, s.GetStatus().Jobs[1].SetupDone)

	close(release)
	require.Eventually(t, func() bool { return volumeRuns.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.GetStatus().Jobs[1].SetupDone)
}

func TestStart_FailedSetupStillRuns(t *testing.T) {
	var runs atomic.Int32
	s, err := New(nil, Job{
		Name:     "volume",
		Interval: 5 * time.Millisecond,
		Setup:    func(context.Context) error { panic("backfill exploded") },
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, s.GetStatus().Jobs[0].Failures)
}
