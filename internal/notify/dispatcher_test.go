package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/metorial/beacon/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
	got  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	rec := newRecorder()
	m := metrics.New()
	d := NewDispatcher(rec, DispatcherOptions{Workers: 2, QueueSize: 4, Timeout: time.Second}, zaptest.NewLogger(t), m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Notify(context.Background(), Message{Kind: KindOffline, HostID: "edge-1"}))

	select {
	case <-rec.got:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))
}

func TestDispatcherQueueFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(newRecorder(), DispatcherOptions{Workers: 1, QueueSize: 1}, zaptest.NewLogger(t), m)

	// no workers running, so the second message cannot be queued
	require.NoError(t, d.Notify(context.Background(), Message{HostID: "a"}))
	assert.ErrorIs(t, d.Notify(context.Background(), Message{HostID: "b"}), ErrQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyDropped))
}

func TestDispatcherTimesOutSlowNotifier(t *testing.T) {
	m := metrics.New()
	failed := make(chan error, 1)
	slow := Func(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		failed <- ctx.Err()
		return &Error{Err: ctx.Err()}
	})
	d := NewDispatcher(slow, DispatcherOptions{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Notify(context.Background(), Message{HostID: "edge-1"}))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("slow notifier was not cancelled")
	}
}
