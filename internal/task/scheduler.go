package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/robfig/cron/v3"
)

// Job is a unit of periodic work.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Run performs one execution. ctx is cancelled when the scheduler stops
	// and the shutdown grace period runs out.
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (f JobFunc) Name() string { return f.JobName }

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// ErrSchedulerStarted is returned when a job is registered after Start.
var ErrSchedulerStarted = errors.New("scheduler already started")

// Scheduler runs registered jobs on their cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	jobs    map[string]cron.EntryID
}

// NewScheduler creates a scheduler in UTC. Each job is wrapped so that a
// panic is logged instead of crashing the process and a run is skipped while
// the previous run of the same job is still going.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{l: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Register schedules job on spec, which accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 15m".
func (s *Scheduler) Register(spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}
	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}
	id, err := s.cron.AddJob(spec, cron.FuncJob(func() { s.run(job) }))
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", spec, job.Name(), err)
	}
	s.jobs[job.Name()] = id
	s.logger.Info("job registered", slog.String("job", job.Name()), slog.String("schedule", spec))
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
}

// Stop stops scheduling new runs and waits for running jobs. If ctx ends
// first, running jobs have their context cancelled and ctx's error is
// returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	defer s.cancel()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

// NextRun reports when the named job runs next. It is zero before Start.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) run(job Job) {
	log := s.logger.With(slog.String("job", job.Name()))
	start := time.Now()
	log.Debug("job started")

	if err := job.Run(s.ctx); err != nil {
		log.Error("job failed", redact.Attr(err), slog.Duration("duration", time.Since(start)))
		return
	}
	log.Info("job finished", slog.Duration("duration", time.Since(start)))
}

// cronLogger adapts slog to cron.Logger. Cron's own informational messages
// are demoted to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{redact.Attr(err)}, keysAndValues...)...)
}
