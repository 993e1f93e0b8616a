package scheduler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"crop-sell-advisor/internal/storage"
)

var (
	// ErrUnknownJob is returned for ids that were never registered.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrJobBusy is returned when the job is already running here or elsewhere.
	ErrJobBusy = errors.New("scheduler: job already running")
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job binds an id to a cron expression and its body.
type Job struct {
	ID   string
	Spec string
	Run  JobFunc
}

// JobInfo describes a registered job.
type JobInfo struct {
	ID      string
	Spec    string
	Next    time.Time
	LastRun time.Time
	LastErr error
}

// Options tune scheduler behaviour.
type Options struct {
	Location     *time.Location
	StartupDelay time.Duration
	// AdvisoryLockKey enables a cross-process lock per job when Locker is set.
	AdvisoryLockKey int64
	Locker          storage.AdvisoryLocker
}

type entry struct {
	job      Job
	schedule cron.Schedule
	running  sync.Mutex

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Scheduler owns the job registry. At most one run per job id is in flight;
// different ids run concurrently.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	parser cron.Parser

	mu   sync.RWMutex
	jobs map[string]*entry
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   make(map[string]*entry),
	}
}

// Register adds a job. Ids must be unique and specs valid cron expressions.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" || job.Run == nil {
		return errors.New("scheduler: job id and body are required")
	}
	schedule, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("parse schedule for %s: %w", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %s already registered", job.ID)
	}
	s.jobs[job.ID] = &entry{job: job, schedule: schedule}
	return nil
}

// Jobs lists registered jobs ordered by id with their next fire time.
func (s *Scheduler) Jobs() []JobInfo {
	now := time.Now().In(s.opts.Location)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		e.mu.Lock()
		out = append(out, JobInfo{
			ID:      e.job.ID,
			Spec:    e.job.Spec,
			Next:    e.schedule.Next(now),
			LastRun: e.lastRun,
			LastErr: e.lastErr,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunNow executes a job immediately, without waiting for its schedule. It
// returns ErrJobBusy instead of queueing when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	if !e.running.TryLock() {
		return fmt.Errorf("%w: %s", ErrJobBusy, id)
	}
	defer e.running.Unlock()

	unlock, proceed, err := s.acquireLock(ctx, id)
	if err != nil {
		return err
	}
	if !proceed {
		return fmt.Errorf("%w: %s holds the advisory lock elsewhere", ErrJobBusy, id)
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	log := s.logger.With().Str("job", id).Logger()
	log.Info().Msg("executing job")
	err = e.job.Run(ctx)

	e.mu.Lock()
	e.lastRun, e.lastErr = start, err
	e.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job execution failed")
		return err
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("job finished")
	return nil
}

// Run blocks, firing each job on its schedule until ctx is cancelled. Running
// jobs are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithParser(s.parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	s.mu.RLock()
	for id, e := range s.jobs {
		c.Schedule(e.schedule, cron.FuncJob(func() {
			err := s.RunNow(ctx, id)
			if errors.Is(err, ErrJobBusy) {
				s.logger.Warn().Str("job", id).Msg("skip tick because previous run is still active")
			}
		}))
		s.logger.Info().Str("job", id).Str("spec", e.job.Spec).Time("next", e.schedule.Next(time.Now().In(s.opts.Location))).Msg("job scheduled")
	}
	s.mu.RUnlock()

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// LockKey derives the advisory lock key of a job.
func LockKey(base int64, id string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return base + int64(h.Sum32())
}

func (s *Scheduler) acquireLock(ctx context.Context, id string) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, LockKey(s.opts.AdvisoryLockKey, id))
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
