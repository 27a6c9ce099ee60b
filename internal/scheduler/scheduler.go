package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/perpboard/internal/metrics"
)

// ErrUnknownJob is returned by RunJob for a name no job carries
var ErrUnknownJob = errors.New("unknown job")

// Job is one periodic refresh loop. Setup, when set, runs once inside the
// job's own loop before the first Run; a failed Setup is logged and the
// loop proceeds.
type Job struct {
	Name     string
	Interval time.Duration
	Setup    func(ctx context.Context) error
	Run      func(ctx context.Context) error
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobStatus is the per-job view of Status
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Runs       int           `json:"runs"`
	Failures   int           `json:"failures"`
	Running    bool          `json:"running"`
	SetupDone  bool          `json:"setup_done"`
	LastResult *JobResult    `json:"last_result,omitempty"`
	NextRun    time.Time     `json:"next_run,omitempty"`
}

// Status represents scheduler status
type Status struct {
	Running bool          `json:"running"`
	Uptime  time.Duration `json:"uptime"`
	Jobs    []JobStatus   `json:"jobs"`
}

// Scheduler runs each job in its own loop. A job runs once immediately and
// then Interval after its previous run completed, so runs of the same job
// never overlap. A failing or panicking run does not stop its loop.
type Scheduler struct {
	jobs    []Job
	metrics *metrics.Registry

	mu        sync.Mutex
	running   bool
	startTime time.Time
	status    map[string]*JobStatus
}

// New creates a scheduler for jobs
func New(m *metrics.Registry, jobs ...Job) (*Scheduler, error) {
	s := &Scheduler{metrics: m, status: make(map[string]*JobStatus, len(jobs))}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, fmt.Errorf("job needs a name and a run function")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive, got %s", j.Name, j.Interval)
		}
		if _, dup := s.status[j.Name]; dup {
			return nil, fmt.Errorf("job %s registered twice", j.Name)
		}
		s.jobs = append(s.jobs, j)
		s.status[j.Name] = &JobStatus{Name: j.Name, Interval: j.Interval}
	}
	return s, nil
}

// ListJobs returns the registered jobs
func (s *Scheduler) ListJobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Start runs every loop until ctx is cancelled. It returns nil on
// cancellation once every in-flight run has returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler starting")

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.loop(gctx, job)
			return nil
		})
	}
	err := g.Wait()

	log.Info().Msg("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.Setup != nil {
		s.setup(ctx, job)
		if ctx.Err() != nil {
			return
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.execute(ctx, job)

		s.mu.Lock()
		s.status[job.Name].NextRun = time.Now().Add(job.Interval)
		s.mu.Unlock()
		timer.Reset(job.Interval)
	}
}

func (s *Scheduler) setup(ctx context.Context, job Job) {
	start := time.Now()
	err := guard(s.metrics, job.Name, func() error { return job.Setup(ctx) })
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("job", job.Name).Dur("duration", time.Since(start)).Msg("Job setup failed")
	} else if err == nil {
		log.Info().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("Job setup complete")
	}

	s.mu.Lock()
	s.status[job.Name].SetupDone = true
	s.mu.Unlock()
}

// RunJob executes a specific job immediately, outside its loop
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	for _, job := range s.jobs {
		if job.Name == name {
			res := s.execute(ctx, job)
			if !res.Success {
				return res, errors.New(res.Error)
			}
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// execute runs one job invocation, converting a panic into a failed result
func (s *Scheduler) execute(ctx context.Context, job Job) *JobResult {
	res := &JobResult{JobName: job.Name, StartTime: time.Now()}

	s.mu.Lock()
	s.status[job.Name].Running = true
	s.mu.Unlock()

	err := guard(s.metrics, job.Name, func() error { return job.Run(ctx) })

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("job", job.Name).Dur("duration", res.Duration).Msg("Job failed")
		}
	}

	s.mu.Lock()
	st := s.status[job.Name]
	st.Running = false
	st.Runs++
	if err != nil {
		st.Failures++
	}
	st.LastResult = res
	s.mu.Unlock()

	return res
}

// guard calls fn, converting a panic into an error
func guard(m *metrics.Registry, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.RecordPanic(name)
			log.Error().
				Str("job", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Job panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.status))}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	for _, js := range s.status {
		cp := *js
		if js.LastResult != nil {
			r := *js.LastResult
			cp.LastResult = &r
		}
		st.Jobs = append(st.Jobs, cp)
	}
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].Name < st.Jobs[j].Name })
	return st
}
