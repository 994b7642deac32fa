package integration

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/metorial/beacon/internal/collector"
	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/monitor"
	"github.com/metorial/beacon/internal/notify"
	"github.com/metorial/beacon/internal/rpc"
	"github.com/metorial/beacon/internal/store"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
)

const adminToken = "integration-token"

// recorder collects notifications in delivery order.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

// controller is the full collector stack on a temp SQLite database, serving HTTP and
// gRPC on loopback listeners and driven by a mock clock.
type controller struct {
	db        *store.DB
	clock     *clock.Mock
	notifier  *recorder
	scheduler *monitor.Scheduler
	httpURL   string
	grpcAddr  string
}

func startController(t *testing.T, start time.Time) *controller {
	t.Helper()
	logger := zaptest.NewLogger(t)

	db, err := store.NewDB(t.TempDir() + "/beacon.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMock()
	clk.Set(start)
	m := metrics.New()
	rec := &recorder{}

	evaluator := monitor.NewEvaluator(db, logger, m)
	tracker := monitor.NewTracker(db, rec, logger, m)
	scheduler := monitor.NewScheduler(evaluator, tracker, db, clk, monitor.SchedulerOptions{
		OfflineThreshold: 35 * time.Second,
		SweepInterval:    5 * time.Second,
	}, logger)

	ingestor := collector.NewIngestor(db, clk, logger, m, func(ctx context.Context, hostID string, now time.Time) {
		if err := tracker.ReconcileHost(ctx, hostID, now); err != nil {
			t.Errorf("ReconcileHost(%s) failed: %v", hostID, err)
		}
	})

	mux := http.NewServeMux()
	collector.NewAPI(db, ingestor, clk, logger, m).RegisterRoutes(mux)
	collector.NewAdminAPI(db, adminToken, clk, logger).RegisterRoutes(mux)
	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterReporterServer(grpcServer, collector.NewServer(ingestor))
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			t.Logf("Server error: %v", err)
		}
	}()
	t.Cleanup(grpcServer.Stop)

	return &controller{
		db:        db,
		clock:     clk,
		notifier:  rec,
		scheduler: scheduler,
		httpURL:   httpServer.URL,
		grpcAddr:  listener.Addr().String(),
	}
}
