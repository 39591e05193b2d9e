package application

import (
	"context"
	"errors"
	"testing"
	"time"

	health "homewatch/internal/health/domain"
	"homewatch/internal/health/infrastructure/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestReconciler(t *testing.T, clock *fakeClock) *Reconciler {
	t.Helper()
	r, err := NewReconciler(memory.NewRepository(), health.Policy{FailureThreshold: 3, StaleAfter: 5 * time.Minute}, WithClock(clock))
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return r
}

func TestNewReconcilerValidates(t *testing.T) {
	if _, err := NewReconciler(nil, health.Policy{FailureThreshold: 1, StaleAfter: time.Second}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
	if _, err := NewReconciler(memory.NewRepository(), health.Policy{}); err == nil {
		t.Fatalf("expected error for empty policy")
	}
}

func TestReconcilerScenario(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	r := newTestReconciler(t, clock)

	rec, err := r.Init(ctx, "D")
	if err != nil || rec.Status != health.StatusOffline {
		t.Fatalf("init: %+v %v", rec, err)
	}

	tr, err := r.Observe(ctx, "D", health.Observation{At: start, Success: true})
	if err != nil || tr == nil || tr.To != health.StatusOnline {
		t.Fatalf("expected online, got %+v %v", tr, err)
	}

	timeout := errors.New("timeout")
	var last *health.Transition
	for i := 1; i <= 3; i++ {
		tr, err := r.Observe(ctx, "D", health.Observation{At: start.Add(time.Duration(i) * 10 * time.Second), Err: timeout})
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if tr != nil {
			last = tr
		}
	}
	if last == nil || last.To != health.StatusError {
		t.Fatalf("expected error after 3 failures, got %+v", last)
	}

	tr, _ = r.Observe(ctx, "D", health.Observation{At: start.Add(6 * time.Minute), Err: timeout})
	if tr == nil || tr.To != health.StatusOffline {
		t.Fatalf("expected offline, got %+v", tr)
	}

	tr, _ = r.Observe(ctx, "D", health.Observation{At: start.Add(7 * time.Minute), Success: true})
	if tr == nil || tr.From != health.StatusOffline || tr.To != health.StatusOnline {
		t.Fatalf("expected online, got %+v", tr)
	}

	got, err := r.Get(ctx, "D")
	if err != nil || got.ConsecutiveFailures != 0 || got.LastError != "" {
		t.Fatalf("unexpected record %+v %v", got, err)
	}
}

func TestReconcilerSweep(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newTestReconciler(t, &fakeClock{now: start})
	_, _ = r.Init(ctx, "D")
	_, _ = r.Observe(ctx, "D", health.Observation{At: start, Success: true})

	if tr, _ := r.Sweep(ctx, "D", start.Add(time.Minute)); tr != nil {
		t.Fatalf("unexpected transition %+v", tr)
	}
	tr, err := r.Sweep(ctx, "D", start.Add(5*time.Minute))
	if err != nil || tr == nil || tr.To != health.StatusOffline {
		t.Fatalf("expected offline, got %+v %v", tr, err)
	}
}

func TestReconcilerRemove(t *testing.T) {
	ctx := context.Background()
	r := newTestReconciler(t, &fakeClock{now: time.Now()})
	_, _ = r.Init(ctx, "D")
	if err := r.Remove(ctx, "D"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := r.Remove(ctx, "D"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := r.Get(ctx, "D"); !errors.Is(err, health.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
