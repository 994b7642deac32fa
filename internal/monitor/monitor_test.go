package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/metorial/beacon/internal/metrics"
	"github.com/metorial/beacon/internal/models"
	"github.com/metorial/beacon/internal/notify"
	"github.com/metorial/beacon/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var base = time.Unix(1_700_000_000, 0)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []notify.Kind
	for _, m := range r.msgs {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

type fixture struct {
	db        *store.DB
	clock     *clock.Mock
	notifier  *recorder
	metrics   *metrics.Metrics
	evaluator *Evaluator
	tracker   *Tracker
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewDB(t.TempDir() + "/monitor.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	clk := clock.NewMock()
	clk.Set(base)
	m := metrics.New()
	rec := &recorder{}

	ev := NewEvaluator(db, logger, m)
	tr := NewTracker(db, rec, logger, m)
	return &fixture{
		db:        db,
		clock:     clk,
		notifier:  rec,
		metrics:   m,
		evaluator: ev,
		tracker:   tr,
		scheduler: NewScheduler(ev, tr, db, clk, SchedulerOptions{
			OfflineThreshold: 35 * time.Second,
			SweepInterval:    5 * time.Second,
			Retention:        time.Hour,
		}, logger),
	}
}

func (f *fixture) addHost(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, f.db.CreateHost(context.Background(), &models.Host{
		ID: id, Name: name, Secret: "s3cret", CreatedAt: base.Unix(), UpdatedAt: base.Unix(),
	}))
}

// report records a sample stamped with the current mock time.
func (f *fixture) report(t *testing.T, id string) {
	t.Helper()
	cpu := 12.5
	require.NoError(t, f.db.RecordReport(context.Background(), &store.Report{
		Sample: models.Sample{HostID: id, Timestamp: f.clock.Now().Unix(), CPUUsage: &cpu},
	}))
}

func TestSweepBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")

	ids, err := f.evaluator.Sweep(ctx, base.Add(34*time.Second), 35*time.Second)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = f.evaluator.Sweep(ctx, base.Add(35*time.Second), 35*time.Second)
	require.NoError(t, err)
	assert.Empty(t, ids, "exactly at the threshold the host is still online")

	ids, err = f.evaluator.Sweep(ctx, base.Add(36*time.Second), 35*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge-1"}, ids)

	ids, err = f.evaluator.Sweep(ctx, base.Add(37*time.Second), 35*time.Second)
	require.NoError(t, err)
	assert.Empty(t, ids, "a second sweep reports no new transitions")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HostsOffline))
}

func TestReconcileIgnoresHostsThatNeverReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "fresh", "Fresh")

	require.NoError(t, f.tracker.Reconcile(ctx, base.Add(time.Hour)))

	outages, err := f.db.Outages(ctx, "fresh", 10)
	require.NoError(t, err)
	assert.Empty(t, outages)
	assert.Empty(t, f.notifier.kinds())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")

	now := base.Add(40 * time.Second)
	_, err := f.evaluator.Sweep(ctx, now, 35*time.Second)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.tracker.Reconcile(ctx, now.Add(time.Duration(i)*time.Second)))
	}

	outages, err := f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	require.Len(t, outages, 1)
	assert.True(t, outages[0].Open())
	assert.Equal(t, now.Unix(), outages[0].StartTime)
	assert.Equal(t, []notify.Kind{notify.KindOffline}, f.notifier.kinds())
}

func TestConcurrentReconcileOpensOneOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")

	now := base.Add(time.Minute)
	_, err := f.evaluator.Sweep(ctx, now, 35*time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.tracker.Reconcile(ctx, now))
		}()
	}
	wg.Wait()

	outages, err := f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	assert.Len(t, outages, 1)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestOutageScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")

	// last report at t=0, silence until the check at t=40
	f.report(t, "edge-1")
	f.clock.Add(40 * time.Second)
	require.NoError(t, f.scheduler.Check(ctx))

	st, err := f.db.HostState(ctx, "edge-1")
	require.NoError(t, err)
	require.NotNil(t, st.IsOnline)
	assert.False(t, *st.IsOnline)
	assert.True(t, st.OutageOpen)

	// back at t=100
	f.clock.Add(60 * time.Second)
	f.report(t, "edge-1")
	require.NoError(t, f.scheduler.Check(ctx))

	outages, err := f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	require.Len(t, outages, 1)
	o := outages[0]
	require.NotNil(t, o.EndTime)
	assert.Equal(t, base.Add(40*time.Second).Unix(), o.StartTime)
	assert.Equal(t, base.Add(100*time.Second).Unix(), *o.EndTime)

	require.Equal(t, []notify.Kind{notify.KindOffline, notify.KindRecovered}, f.notifier.kinds())
	assert.Contains(t, f.notifier.msgs[0].Text, "`Edge 1` (`edge-1`)")
	assert.Contains(t, f.notifier.msgs[1].Text, "60 seconds")

	// nothing left to do
	require.NoError(t, f.scheduler.Check(ctx))
	assert.Len(t, f.notifier.kinds(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutagesOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutagesClosed))
}

func TestReconcileHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")
	f.clock.Add(time.Minute)
	require.NoError(t, f.scheduler.Check(ctx))

	f.clock.Add(time.Minute)
	f.report(t, "edge-1")
	require.NoError(t, f.tracker.ReconcileHost(ctx, "edge-1", f.clock.Now()))

	st, err := f.db.HostState(ctx, "edge-1")
	require.NoError(t, err)
	assert.False(t, st.OutageOpen)

	err = f.tracker.ReconcileHost(ctx, "ghost", f.clock.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotifierFailureKeepsOutageState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errors.New("telegram unreachable")
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")

	f.clock.Add(time.Minute)
	require.NoError(t, f.scheduler.Check(ctx))

	outages, err := f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	require.Len(t, outages, 1)
	assert.True(t, outages[0].Open())

	// a later pass does not retry the notification or open a second outage
	require.NoError(t, f.scheduler.Check(ctx))
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.report(t, "edge-1")
	f.clock.Add(2 * time.Hour)
	f.report(t, "edge-1")

	require.NoError(t, f.scheduler.Prune(ctx))

	samples, err := f.db.RecentSamples(ctx, "edge-1", 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, f.clock.Now().Unix(), samples[0].Timestamp)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0 seconds"},
		{45, "45 seconds"},
		{59, "59 seconds"},
		{60, "1 minutes"},
		{125, "2 minutes"},
		{150, "3 minutes"},
		{3599, "60 minutes"},
		{3600, "1.0 hours"},
		{7200, "2.0 hours"},
		{5400, "1.5 hours"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// flakyStore fails OpenOutage for one host and passes everything else through.
type flakyStore struct {
	store.StatusStore
	failHost string
}

func (s *flakyStore) OpenOutage(ctx context.Context, o *models.Outage) (bool, error) {
	if o.HostID == s.failHost {
		return false, errors.New("disk I/O error")
	}
	return s.StatusStore.OpenOutage(ctx, o)
}

func TestReconcileIsolatesHostFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addHost(t, "edge-1", "Edge 1")
	f.addHost(t, "edge-2", "Edge 2")
	f.report(t, "edge-1")
	f.report(t, "edge-2")

	ids, err := f.evaluator.Sweep(ctx, base.Add(36*time.Second), 35*time.Second)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	tracker := NewTracker(&flakyStore{StatusStore: f.db, failHost: "edge-1"}, f.notifier, zaptest.NewLogger(t), f.metrics)
	require.NoError(t, tracker.Reconcile(ctx, base.Add(36*time.Second)))

	failed, err := f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	opened, err := f.db.Outages(ctx, "edge-2", 10)
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.True(t, opened[0].Open())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutagesOpened))
	assert.Equal(t, []notify.Kind{notify.KindOffline}, f.notifier.kinds())

	// the next pass picks up the host that failed
	require.NoError(t, f.tracker.Reconcile(ctx, base.Add(41*time.Second)))
	failed, err = f.db.Outages(ctx, "edge-1", 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}
