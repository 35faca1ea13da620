package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-ingest/internal/infra/metrics"
)

type fakeRequeuer struct {
	mu     sync.Mutex
	calls  int
	leases []time.Duration
	n      int
	err    error
}

func (f *fakeRequeuer) RequeueStale(ctx context.Context, lease time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.leases = append(f.leases, lease)
	return f.n, f.err
}

func (f *fakeRequeuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func TestStaleJobReaper_RunTicksUntilCancelled(t *testing.T) {
	q := &fakeRequeuer{n: 2}
	r := NewStaleJobReaper(5*time.Millisecond, time.Minute, q, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return q.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.leases {
		assert.Equal(t, time.Minute, l)
	}
}

func TestStaleJobReaper_ErrorsDoNotStopLoop(t *testing.T) {
	q := &fakeRequeuer{err: errors.New("db down")}
	r := NewStaleJobReaper(5*time.Millisecond, time.Minute, q, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool { return q.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestPoolStatsWorker_SamplesImmediately(t *testing.T) {
	var calls atomic.Int32
	stat := func() metrics.DBPoolStats {
		calls.Add(1)
		return metrics.DBPoolStats{Total: 10, Idle: 7, InUse: 3, Max: 10}
	}
	w := NewPoolStatsWorker(time.Hour, stat, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPoolStatsWorker_SampleReturnsSnapshot(t *testing.T) {
	w := NewPoolStatsWorker(time.Hour, func() metrics.DBPoolStats {
		return metrics.DBPoolStats{Total: 4, InUse: 4, Max: 4, EmptyAcquires: 12}
	}, nopLogger())
	s := w.sample()
	assert.Equal(t, int32(4), s.InUse)
	assert.Equal(t, int64(12), s.EmptyAcquires)
}
