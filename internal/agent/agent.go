package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxFailures is the number of consecutive failed sends after which the agent drops its
// connection and dials again, picking up a moved collector.
const maxFailures = 3

// Dialer opens a Sender. It is called at startup and after repeated failures.
type Dialer func(ctx context.Context) (Sender, error)

type Options struct {
	HostID   string
	Secret   string
	Interval time.Duration
	// SendTimeout bounds a single report. Defaults to the interval.
	SendTimeout time.Duration
}

type Agent struct {
	sampler Sampler
	dial    Dialer
	opts    Options
	logger  *zap.Logger

	sender     Sender
	failures   int
	staticSent bool
}

func New(sampler Sampler, dial Dialer, opts Options, logger *zap.Logger) *Agent {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = opts.Interval
	}
	return &Agent{sampler: sampler, dial: dial, opts: opts, logger: logger.Named("agent")}
}

// Run reports once immediately and then every interval until ctx is cancelled. Send
// failures are logged and retried on the next tick.
func (a *Agent) Run(ctx context.Context) error {
	defer a.closeSender()

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		if err := a.Tick(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("report failed", zap.Error(err), zap.Int("consecutive_failures", a.failures))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick collects and sends a single report.
func (a *Agent) Tick(ctx context.Context) error {
	if a.sender == nil {
		s, err := a.dial(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		a.sender = s
	}

	r, err := a.sampler.Collect(ctx, !a.staticSent)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	r.HostID = a.opts.HostID
	r.Secret = a.opts.Secret

	sendCtx, cancel := context.WithTimeout(ctx, a.opts.SendTimeout)
	defer cancel()

	if err := a.sender.Send(sendCtx, r); err != nil {
		a.failures++
		if a.failures >= maxFailures {
			a.closeSender()
		}
		return err
	}

	if r.StaticInfo != nil {
		a.staticSent = true
	}
	if a.failures > 0 {
		a.logger.Info("reporting recovered", zap.Int("failed_attempts", a.failures))
	}
	a.failures = 0
	return nil
}

func (a *Agent) closeSender() {
	if a.sender == nil {
		return
	}
	if err := a.sender.Close(); err != nil {
		a.logger.Debug("close sender", zap.Error(err))
	}
	a.sender = nil
}
