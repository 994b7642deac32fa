package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/models"
	"github.com/metorial/beacon/internal/notify"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap"
)

const (
	offlineTitle   = "Host offline"
	offlineContent = "The host stopped reporting data."
)

type Tracker struct {
	store    store.StatusStore
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewTracker(st store.StatusStore, n notify.Notifier, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{store: st, notifier: n, logger: logger.Named("tracker"), metrics: m}
}

// Reconcile brings the outage history of every host in line with its current status.
// A failure on one host is logged and counted, and the pass moves on to the next.
func (t *Tracker) Reconcile(ctx context.Context, now time.Time) error {
	states, err := t.store.HostStates(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	for _, st := range states {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.reconcile(ctx, st, now); err != nil {
			t.metrics.ReconcileErrors.Inc()
			t.logger.Error("reconcile host failed", zap.String("host_id", st.HostID), zap.Error(err))
		}
	}
	return nil
}

// ReconcileHost reconciles a single host, typically right after it reported.
func (t *Tracker) ReconcileHost(ctx context.Context, hostID string, now time.Time) error {
	st, err := t.store.HostState(ctx, hostID)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", hostID, err)
	}
	return t.reconcile(ctx, *st, now)
}

func (t *Tracker) reconcile(ctx context.Context, st models.HostState, now time.Time) error {
	// never reported
	if st.IsOnline == nil {
		return nil
	}

	switch {
	case !*st.IsOnline && !st.OutageOpen:
		return t.open(ctx, st, now)
	case *st.IsOnline && st.OutageOpen:
		return t.close(ctx, st, now)
	}
	return nil
}

func (t *Tracker) open(ctx context.Context, st models.HostState, now time.Time) error {
	o := &models.Outage{
		HostID:    st.HostID,
		StartTime: now.Unix(),
		Title:     offlineTitle,
		Content:   offlineContent,
	}
	opened, err := t.store.OpenOutage(ctx, o)
	if err != nil {
		return err
	}
	// another pass got there first, or the host came back in between
	if !opened {
		return nil
	}

	t.metrics.OutagesOpened.Inc()
	t.logger.Warn("outage opened", zap.String("host_id", st.HostID), zap.Int64("outage_id", o.ID))
	t.send(ctx, notify.Message{
		Kind:     notify.KindOffline,
		HostID:   st.HostID,
		HostName: st.Name,
		Text:     offlineText(st),
	})
	return nil
}

func (t *Tracker) close(ctx context.Context, st models.HostState, now time.Time) error {
	o, err := t.store.CloseOutage(ctx, st.HostID, now.Unix())
	if err != nil {
		return err
	}
	if o == nil {
		return nil
	}

	duration := *o.EndTime - o.StartTime
	t.metrics.OutagesClosed.Inc()
	t.logger.Info("outage closed",
		zap.String("host_id", st.HostID),
		zap.Int64("outage_id", o.ID),
		zap.Int64("duration_seconds", duration))
	t.send(ctx, notify.Message{
		Kind:     notify.KindRecovered,
		HostID:   st.HostID,
		HostName: st.Name,
		Text:     recoveredText(st, duration),
	})
	return nil
}

// send never fails the state change that triggered it.
func (t *Tracker) send(ctx context.Context, msg notify.Message) {
	if err := t.notifier.Notify(ctx, msg); err != nil {
		t.logger.Warn("notification not delivered",
			zap.String("host_id", msg.HostID), zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}

func offlineText(st models.HostState) string {
	return fmt.Sprintf("🔴 *Host offline*\n\nHost `%s` (`%s`) stopped responding.", st.Name, st.HostID)
}

func recoveredText(st models.HostState, seconds int64) string {
	return fmt.Sprintf("✅ *Host recovered*\n\nHost `%s` (`%s`) is back online.\nOffline for about %s.",
		st.Name, st.HostID, FormatDuration(seconds))
}
