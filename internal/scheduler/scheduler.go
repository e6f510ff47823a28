package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is one schedulable unit of work.
type JobFunc func(ctx context.Context) error

// Job is a named recurring task. The running flag makes each job non-reentrant:
// a tick that arrives while the previous run is still going is dropped rather
// than queued, so a slow portal cannot build a backlog.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       JobFunc

	running atomic.Bool
}

// Scheduler runs registered jobs on their intervals over a bounded worker
// pool. Pool admission happens before the run, so at most PoolSize jobs touch
// the portal concurrently no matter how their tickers align.
type Scheduler struct {
	jobs   []*Job
	sem    chan struct{}
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func New(poolSize int, logger *zerolog.Logger) *Scheduler {
	if poolSize <= 0 {
		poolSize = 2
	}
	return &Scheduler{
		sem:    make(chan struct{}, poolSize),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Fn: fn})
}

// Start launches one ticker loop per job and blocks until the context is
// cancelled and all in-flight runs have finished.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	// Run once at startup instead of waiting a full interval.
	s.dispatch(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, job)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		s.logger.Warn().Str("job", job.Name).Msg("previous run still active, skipping tick")
		return
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		job.running.Store(false)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		defer job.running.Store(false)

		start := time.Now()
		if err := job.Fn(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("job failed")
			return
		}
		s.logger.Debug().
			Str("job", job.Name).
			Dur("took", time.Since(start)).
			Msg("job finished")
	}()
}
