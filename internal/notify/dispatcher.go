package notify

import (
	"context"
	"errors"
	"time"

	"github.com/metorial/beacon/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher decouples delivery from the caller. Notify only enqueues; a fixed set of
// workers sends each message with a bounded timeout, so a hung destination never
// stalls the reconciliation loop.
type Dispatcher struct {
	next    Notifier
	queue   chan Message
	opts    DispatcherOptions
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(next Notifier, opts DispatcherOptions, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		next:    next,
		queue:   make(chan Message, opts.QueueSize),
		opts:    opts,
		logger:  logger.Named("notify"),
		metrics: m,
	}
}

func (d *Dispatcher) Notify(_ context.Context, msg Message) error {
	select {
	case d.queue <- msg:
		return nil
	default:
		d.metrics.NotifyDropped.Inc()
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled. Messages still queued at that
// point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-d.queue:
					d.deliver(ctx, msg)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	err := d.next.Notify(ctx, msg)
	switch {
	case err == nil:
		d.metrics.Notifications.WithLabelValues("sent").Inc()
		d.logger.Info("notification sent",
			zap.String("host_id", msg.HostID), zap.String("kind", string(msg.Kind)))
	case errors.Is(err, ErrNotConfigured):
		d.metrics.Notifications.WithLabelValues("skipped").Inc()
		d.logger.Warn("notification skipped, notifier not configured",
			zap.String("host_id", msg.HostID), zap.String("kind", string(msg.Kind)))
	default:
		d.metrics.Notifications.WithLabelValues("failed").Inc()
		d.logger.Error("notification failed",
			zap.String("host_id", msg.HostID), zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}
