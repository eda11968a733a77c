package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"pacebot/internal/storage"
	logx "pacebot/pkg/logx"
)

// fakeClock advances virtual time whenever the queue sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	onWait func(d time.Duration)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	hook := c.onWait
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	at := c.now
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	ch := make(chan time.Time, 1)
	ch <- at
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu    sync.Mutex
	snaps map[string][]storage.Record
	saves int
	fail  error
}

func newMemStore() *memStore { return &memStore{snaps: map[string][]storage.Record{}} }

func (s *memStore) LoadSnapshot(ctx context.Context, name string) ([]storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return append([]storage.Record(nil), s.snaps[name]...), nil
}

func (s *memStore) SaveSnapshot(ctx context.Context, name string, recs []storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.fail != nil {
		return s.fail
	}
	s.snaps[name] = append([]storage.Record(nil), recs...)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) snapshot(name string) []storage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Record(nil), s.snaps[name]...)
}

func newTestQueue(t *testing.T, cfg Config, opts ...Option) *Queue {
	t.Helper()
	base := []Option{WithLogger(logx.Nop()), WithRand(rand.New(rand.NewSource(42)))}
	q, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return q
}

func waitSettled(t *testing.T, h *Handle) (any, error) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("handle did not settle")
	}
	return h.Result()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
