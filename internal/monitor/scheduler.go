package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/metorial/beacon/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type SchedulerOptions struct {
	OfflineThreshold  time.Duration
	SweepInterval     time.Duration
	Retention         time.Duration
	RetentionInterval time.Duration
}

// Scheduler runs the periodic jobs: a sweep immediately followed by a reconcile pass
// and, when retention is enabled, sample pruning. A job still running when its next
// tick fires is skipped rather than stacked.
type Scheduler struct {
	evaluator *Evaluator
	tracker   *Tracker
	store     store.StatusStore
	clock     clock.Clock
	opts      SchedulerOptions
	logger    *zap.Logger
}

func NewScheduler(ev *Evaluator, tr *Tracker, st store.StatusStore, clk clock.Clock, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		evaluator: ev,
		tracker:   tr,
		store:     st,
		clock:     clk,
		opts:      opts,
		logger:    logger.Named("scheduler"),
	}
}

// Check runs one sweep and one reconcile pass at the current clock time.
func (s *Scheduler) Check(ctx context.Context) error {
	now := s.clock.Now()
	if _, err := s.evaluator.Sweep(ctx, now, s.opts.OfflineThreshold); err != nil {
		return err
	}
	return s.tracker.Reconcile(ctx, now)
}

// Prune deletes samples older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) error {
	if s.opts.Retention <= 0 {
		return nil
	}
	before := s.clock.Now().Add(-s.opts.Retention).Unix()
	n, err := s.store.PruneSamples(ctx, before)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("pruned samples", zap.Int64("deleted", n), zap.Int64("before", before))
	}
	return nil
}

// Run schedules the jobs and blocks until ctx is cancelled and running jobs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(every(s.opts.SweepInterval), s.job(ctx, "check", s.Check)); err != nil {
		return fmt.Errorf("schedule check: %w", err)
	}
	if s.opts.Retention > 0 {
		if _, err := c.AddFunc(every(s.opts.RetentionInterval), s.job(ctx, "prune", s.Prune)); err != nil {
			return fmt.Errorf("schedule prune: %w", err)
		}
	}

	s.logger.Info("scheduler started",
		zap.Duration("sweep_interval", s.opts.SweepInterval),
		zap.Duration("offline_threshold", s.opts.OfflineThreshold),
		zap.Duration("retention", s.opts.Retention))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) job(ctx context.Context, name string, fn func(context.Context) error) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
