// Package monitor turns report recency into host status and outage history.
//
// The Evaluator flips hosts that stopped reporting to offline. The Tracker then opens
// or closes outage records to match each host's status and notifies on every
// transition. Both rely on conditional single-statement writes in the store, so they
// may run concurrently with ingestion and with each other.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap"
)

type Evaluator struct {
	store   store.StatusStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewEvaluator(st store.StatusStore, logger *zap.Logger, m *metrics.Metrics) *Evaluator {
	return &Evaluator{store: st, logger: logger.Named("evaluator"), metrics: m}
}

// Sweep marks offline every online host whose last report is more than threshold
// older than now, and returns the ids flipped by this call.
func (e *Evaluator) Sweep(ctx context.Context, now time.Time, threshold time.Duration) ([]string, error) {
	cutoff := now.Unix() - int64(threshold/time.Second)

	ids, err := e.store.MarkStale(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	for _, id := range ids {
		e.logger.Info("host marked offline", zap.String("host_id", id), zap.Duration("threshold", threshold))
	}
	e.metrics.HostsOffline.Add(float64(len(ids)))
	return ids, nil
}
