// Package collector accepts reports from monitored hosts over HTTP and gRPC and serves
// the read and admin APIs on top of the store.
package collector

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/models"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap"
)

type IngestRequest struct {
	HostID     string
	Secret     string
	SourceAddr string
	Sample     models.Sample
	Static     *models.StaticInfo
}

// ReportHook runs after a report is committed.
type ReportHook func(ctx context.Context, hostID string, now time.Time)

type Ingestor struct {
	store    store.ReportStore
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	onReport ReportHook
}

// compared against when the host is unknown, so both paths hash and compare
var dummyDigest = sha256.Sum256([]byte("beacon-unknown-host"))

func NewIngestor(st store.ReportStore, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics, onReport ReportHook) *Ingestor {
	if clk == nil {
		clk = clock.New()
	}
	return &Ingestor{
		store:    st,
		clock:    clk,
		logger:   logger.Named("ingest"),
		metrics:  m,
		onReport: onReport,
	}
}

// Ingest authenticates req and stores its sample, static info and online status in one
// transaction. It returns *ValidationError, ErrUnauthorized or *PersistenceError.
func (in *Ingestor) Ingest(ctx context.Context, req *IngestRequest) error {
	start := in.clock.Now()
	err := in.ingest(ctx, req)
	in.metrics.IngestDuration.Observe(in.clock.Since(start).Seconds())
	in.metrics.Reports.WithLabelValues(resultLabel(err)).Inc()
	return err
}

func (in *Ingestor) ingest(ctx context.Context, req *IngestRequest) error {
	if strings.TrimSpace(req.HostID) == "" {
		return &ValidationError{Field: "host_id", Reason: "is required"}
	}
	if req.Secret == "" {
		return &ValidationError{Field: "secret", Reason: "is required"}
	}

	requestID := uuid.NewString()
	log := in.logger.With(
		zap.String("request_id", requestID),
		zap.String("host_id", req.HostID),
		zap.String("source", req.SourceAddr))

	host, err := in.store.GetHost(ctx, req.HostID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("host lookup failed", zap.Error(err))
		return &PersistenceError{Err: err}
	}

	if reason := authenticate(host, req); reason != "" {
		log.Warn("report rejected", zap.String("reason", reason))
		return ErrUnauthorized
	}

	now := in.clock.Now()
	sample := req.Sample
	sample.HostID = host.ID
	sample.Timestamp = now.Unix()

	if err := in.store.RecordReport(ctx, &store.Report{Sample: sample, Static: req.Static}); err != nil {
		log.Error("report not stored", zap.Error(err))
		return &PersistenceError{Err: err}
	}
	log.Debug("report stored", zap.Bool("static_info", req.Static != nil))

	if in.onReport != nil {
		in.onReport(ctx, host.ID, now)
	}
	return nil
}

// authenticate returns a non-empty reason when req may not report for host. host is
// nil when the id is unknown.
func authenticate(host *models.Host, req *IngestRequest) string {
	want := dummyDigest
	if host != nil && host.Secret != "" {
		want = sha256.Sum256([]byte(host.Secret))
	}
	got := sha256.Sum256([]byte(req.Secret))
	match := subtle.ConstantTimeCompare(want[:], got[:]) == 1

	switch {
	case host == nil:
		return "unknown host"
	case host.Secret == "" || !match:
		return "secret mismatch"
	case host.IP != "" && !sameAddr(host.IP, req.SourceAddr):
		return "source address mismatch"
	}
	return ""
}

// sameAddr compares an expected address with a source that may carry a port or use a
// different textual form of the same IP.
func sameAddr(expected, source string) bool {
	if h, _, err := net.SplitHostPort(source); err == nil {
		source = h
	}
	a, b := net.ParseIP(strings.TrimSpace(expected)), net.ParseIP(source)
	if a == nil || b == nil {
		return strings.TrimSpace(expected) == source
	}
	return a.Equal(b)
}

func resultLabel(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}
