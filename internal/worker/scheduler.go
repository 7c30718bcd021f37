package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrUnknownJob = errors.New("unknown scheduled job")

// cronLogger adapts zap to cron.Logger. cron's per-tick info lines go to
// debug.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error

	// inFlight is held for the duration of a run, whether cron or a manual
	// trigger started it.
	inFlight sync.Mutex
}

// Scheduler runs the periodic cycles. At most one run of each job is in
// flight; a tick that fires while the previous run is still going is
// skipped, not queued.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	baseCtx context.Context
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	cl := cronLogger{l: logger.Sugar()}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:    make(map[string]*job),
		baseCtx: context.Background(),
	}
}

// Add registers fn under name on a cron spec such as "@every 5m" or
// "0 3 * * *". timeout bounds a single run; zero means unbounded.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, timeout: timeout, run: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.exec(j) }); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	s.jobs[name] = j
	return nil
}

// Start begins firing jobs. Runs use ctx, so cancelling it aborts them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Strings("jobs", names))
}

// Stop stops firing new runs and waits for running ones until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts name now in the background unless a run is already in
// flight. It reports whether a run was started.
func (s *Scheduler) Trigger(name string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.inFlight.TryLock() {
		s.logger.Info("manual trigger skipped; run in flight", zap.String("job", name))
		return false, nil
	}
	go func() {
		defer j.inFlight.Unlock()
		s.runLocked(j)
	}()
	return true, nil
}

func (s *Scheduler) exec(j *job) {
	if !j.inFlight.TryLock() {
		s.logger.Info("tick skipped; previous run still in flight", zap.String("job", j.name))
		return
	}
	defer j.inFlight.Unlock()
	s.runLocked(j)
}

func (s *Scheduler) runLocked(j *job) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.run(ctx)
	log := s.logger.With(zap.String("job", j.name), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		log.Error("scheduled job failed", zap.Error(err))
		return
	}
	log.Debug("scheduled job finished")
}

// TriggerCheck starts the check cycle out of schedule.
func (s *Scheduler) TriggerCheck() (bool, error) {
	return s.Trigger(JobCheck)
}
