// Package store persists hosts, samples, status rows and outage records behind a
// backend-neutral Repository. SQLite and PostgreSQL are supported; callers never see
// which dialect is in use.
package store

import (
	"context"
	"errors"

	"github.com/metorial/beacon/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Report is everything one accepted report writes.
type Report struct {
	Sample models.Sample
	Static *models.StaticInfo
}

// ReportStore is used by the ingestor.
type ReportStore interface {
	GetHost(ctx context.Context, id string) (*models.Host, error)
	// RecordReport inserts the sample, applies static info when present and marks the
	// host online, all in one transaction.
	RecordReport(ctx context.Context, r *Report) error
}

// StatusStore is used by the evaluator and the outage tracker. Every method that
// changes state is a single conditional statement, so concurrent callers cannot
// double-apply a transition.
type StatusStore interface {
	MarkStale(ctx context.Context, cutoff int64) ([]string, error)
	HostStates(ctx context.Context) ([]models.HostState, error)
	HostState(ctx context.Context, hostID string) (*models.HostState, error)
	OpenOutage(ctx context.Context, o *models.Outage) (bool, error)
	CloseOutage(ctx context.Context, hostID string, end int64) (*models.Outage, error)
	PruneSamples(ctx context.Context, before int64) (int64, error)
}

// QueryStore backs the read-only API.
type QueryStore interface {
	ListHostViews(ctx context.Context, now int64) ([]models.HostView, error)
	GetHostView(ctx context.Context, id string, now int64) (*models.HostView, error)
	RecentSamples(ctx context.Context, hostID string, limit int) ([]models.Sample, error)
	Outages(ctx context.Context, hostID string, limit int) ([]models.Outage, error)
	Stats(ctx context.Context, now int64) (*models.Stats, error)
	Settings(ctx context.Context) (models.Settings, error)
	Ping(ctx context.Context) error
}

// AdminStore backs host registration and global settings.
type AdminStore interface {
	CreateHost(ctx context.Context, h *models.Host) error
	UpdateHost(ctx context.Context, h *models.Host) error
	DeleteHost(ctx context.Context, id string) error
	SetSecret(ctx context.Context, id, secret string, now int64) error
	Settings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, s models.Settings) error
}

type Repository interface {
	ReportStore
	StatusStore
	QueryStore
	AdminStore
	Close() error
}

var _ Repository = (*DB)(nil)
