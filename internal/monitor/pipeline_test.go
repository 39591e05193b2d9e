package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	alertsapp "homewatch/internal/alerts/application"
	alerts "homewatch/internal/alerts/domain"
	alertsmem "homewatch/internal/alerts/infrastructure/memory"
	devices "homewatch/internal/devices/domain"
	healthapp "homewatch/internal/health/application"
	health "homewatch/internal/health/domain"
	healthmem "homewatch/internal/health/infrastructure/memory"
	polling "homewatch/internal/polling/domain"
	telemetrymem "homewatch/internal/telemetry/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type stubScheduler struct {
	mu      sync.Mutex
	added   []string
	removed []string
	pauses  []string
}

func (s *stubScheduler) AddDevice(device devices.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, device.ID)
	return nil
}

func (s *stubScheduler) UpdateDevice(device devices.Device) error {
	return s.AddDevice(device)
}

func (s *stubScheduler) RemoveDevice(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, deviceID)
	return 1
}

func (s *stubScheduler) SetPaused(deviceID string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, fmt.Sprintf("%s:%v", deviceID, paused))
}

type harness struct {
	pipeline  *Pipeline
	scheduler *stubScheduler
	clock     *fakeClock
	status    *healthmem.Repository
	store     *telemetrymem.Store
	rules     *alertsmem.RuleRepository
	alerts    *alertsmem.AlertRepository
	history   *alertsmem.HistoryRepository
	queries   *alertsapp.Queries
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		scheduler: &stubScheduler{},
		clock:     &fakeClock{now: t0},
		status:    healthmem.NewRepository(),
		store:     telemetrymem.NewStore(),
		rules:     alertsmem.NewRuleRepository(),
		alerts:    alertsmem.NewAlertRepository(),
		history:   alertsmem.NewHistoryRepository(),
	}
	reconciler, err := healthapp.NewReconciler(h.status, health.Policy{FailureThreshold: 3, StaleAfter: 5 * time.Minute}, healthapp.WithClock(h.clock))
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	engine, err := alertsapp.NewEngine(h.rules, h.alerts, h.history, alertsapp.WithClock(h.clock))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h.queries, err = alertsapp.NewQueries(h.rules, h.alerts, h.history)
	if err != nil {
		t.Fatalf("queries: %v", err)
	}
	h.pipeline, err = NewPipeline(reconciler, engine, h.store,
		WithClock(h.clock),
		WithOfflineGrace(10*time.Minute),
		WithRuleStore(h.queries),
	)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	h.pipeline.AttachScheduler(h.scheduler)
	return h
}

func (h *harness) register(t *testing.T, id string) devices.Device {
	t.Helper()
	device := devices.Device{ID: id, UserID: "u1", Type: devices.TypePlus1PM, Address: "10.0.0." + id}
	if err := h.pipeline.DeviceRegistered(context.Background(), device); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return device
}

func (h *harness) addRule(t *testing.T, rule alerts.Rule) {
	t.Helper()
	rule.UserID = "u1"
	rule.Enabled = true
	rule.Severity = alerts.SeverityHigh
	if err := h.rules.Create(context.Background(), &rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
}

func (h *harness) statusOf(t *testing.T, id string) health.Status {
	t.Helper()
	rec, err := h.status.Get(context.Background(), id)
	if err != nil || rec == nil {
		t.Fatalf("status of %s: %+v %v", id, rec, err)
	}
	return rec.Status
}

func (h *harness) openAlerts(t *testing.T, id string) []alerts.Alert {
	t.Helper()
	open, err := h.alerts.ListOpenByDevice(context.Background(), id)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	return open
}

func powerResult(id string, watts float64, at time.Time) polling.Result {
	return polling.Result{
		Key:   polling.Key{DeviceID: id, Category: devices.CategoryPower},
		At:    at,
		Power: &polling.PowerSample{TS: at, Watts: watts},
	}
}

func statusFailure(id string, at time.Time) polling.Result {
	return polling.Result{
		Key: polling.Key{DeviceID: id, Category: devices.CategoryStatus},
		At:  at,
		Err: fmt.Errorf("%w: timeout", polling.ErrTransientNetwork),
	}
}

func statusSuccess(id string, at time.Time) polling.Result {
	return polling.Result{Key: polling.Key{DeviceID: id, Category: devices.CategoryStatus}, At: at}
}

func TestErrorOfflineOnlineScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "D")
	h.addRule(t, alerts.Rule{ID: "R", DeviceID: "D", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 1000})

	h.pipeline.HandlePollResult(ctx, powerResult("D", 1200, t0))
	if got := h.statusOf(t, "D"); got != health.StatusOnline {
		t.Fatalf("expected online after first contact, got %s", got)
	}
	if len(h.openAlerts(t, "D")) != 1 {
		t.Fatalf("expected power alert open")
	}

	for i := 1; i <= 3; i++ {
		h.pipeline.HandlePollResult(ctx, statusFailure("D", t0.Add(time.Duration(i)*10*time.Second)))
	}
	if got := h.statusOf(t, "D"); got != health.StatusError {
		t.Fatalf("expected error after 3 failures, got %s", got)
	}
	if len(h.openAlerts(t, "D")) != 1 {
		t.Fatalf("power alert should stay open while in error")
	}

	h.pipeline.HandlePollResult(ctx, statusFailure("D", t0.Add(6*time.Minute)))
	if got := h.statusOf(t, "D"); got != health.StatusOffline {
		t.Fatalf("expected offline once stale, got %s", got)
	}

	h.pipeline.HandlePollResult(ctx, statusSuccess("D", t0.Add(7*time.Minute)))
	if got := h.statusOf(t, "D"); got != health.StatusOnline {
		t.Fatalf("expected online after success, got %s", got)
	}
	if open := h.openAlerts(t, "D"); len(open) != 0 {
		t.Fatalf("power alerts should be force-resolved, got %+v", open)
	}
	resolved, _ := h.alerts.List(ctx, alerts.AlertFilter{DeviceID: "D"})
	if len(resolved) != 1 || resolved[0].ResolveReason != alerts.ReasonSignalLost {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
}

func TestDeregistrationStopsWritesAndResolvesAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "D")
	h.addRule(t, alerts.Rule{ID: "R", DeviceID: "D", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 1000})

	h.pipeline.HandlePollResult(ctx, powerResult("D", 1500, t0))
	if h.store.Count("D") != 1 || len(h.openAlerts(t, "D")) != 1 {
		t.Fatalf("expected one reading and one open alert")
	}

	if err := h.pipeline.DeviceRemoved(ctx, "D"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(h.scheduler.removed) != 1 {
		t.Fatalf("scheduler tasks not removed")
	}
	all, _ := h.alerts.List(ctx, alerts.AlertFilter{DeviceID: "D"})
	if len(all) != 1 || all[0].Open() || all[0].ResolveReason != alerts.ReasonDeviceRemoved {
		t.Fatalf("expected alert resolved with device removed, got %+v", all)
	}
	if rec, _ := h.status.Get(ctx, "D"); rec != nil {
		t.Fatalf("status record should be removed, got %+v", rec)
	}

	h.pipeline.HandlePollResult(ctx, powerResult("D", 1600, t0.Add(time.Second)))
	if h.store.Count("D") != 1 {
		t.Fatalf("late result written after deregistration")
	}
	if len(h.openAlerts(t, "D")) != 0 {
		t.Fatalf("late result opened an alert")
	}
}

func TestUpdateAfterRemovalDoesNotRestartPolling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	device := h.register(t, "D")
	if err := h.pipeline.DeviceRemoved(ctx, "D"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	moved := device
	moved.Address = "10.0.0.99"
	if err := h.pipeline.DeviceUpdated(ctx, device, moved); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(h.scheduler.added) != 1 {
		t.Fatalf("update of removed device scheduled tasks: %v", h.scheduler.added)
	}
	if len(h.pipeline.Devices()) != 0 {
		t.Fatalf("removed device tracked again: %+v", h.pipeline.Devices())
	}

	h.pipeline.HandlePollResult(ctx, powerResult("D", 100, t0))
	if h.store.Count("D") != 0 {
		t.Fatalf("telemetry written for removed device")
	}
	if rec, _ := h.status.Get(ctx, "D"); rec != nil {
		t.Fatalf("status record recreated: %+v", rec)
	}
}

func TestCancelledResultIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.register(t, "D")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.pipeline.HandlePollResult(ctx, powerResult("D", 10, t0))
	if h.store.Count("D") != 0 {
		t.Fatalf("cancelled result was stored")
	}
	if got := h.statusOf(t, "D"); got != health.StatusOffline {
		t.Fatalf("cancelled result changed status to %s", got)
	}
}

func TestDuplicateReadingStoredOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "D")

	h.pipeline.HandlePollResult(ctx, powerResult("D", 42, t0))
	h.pipeline.HandlePollResult(ctx, powerResult("D", 42, t0))
	if got := h.store.Count("D"); got != 1 {
		t.Fatalf("expected one stored reading, got %d", got)
	}
}

func TestSweepMarksOfflineAndPausesDataTasks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "D")
	h.addRule(t, alerts.Rule{ID: "R", DeviceID: "D", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 100})

	h.pipeline.HandlePollResult(ctx, powerResult("D", 500, t0))
	h.clock.Set(t0.Add(5 * time.Minute))
	h.pipeline.Sweep(ctx)
	if got := h.statusOf(t, "D"); got != health.StatusOffline {
		t.Fatalf("expected sweep to mark offline, got %s", got)
	}
	if len(h.openAlerts(t, "D")) != 0 {
		t.Fatalf("offline sweep should force-resolve live data alerts")
	}
	if h.pipeline.Paused("D") {
		t.Fatalf("paused before grace elapsed")
	}

	h.clock.Set(t0.Add(15 * time.Minute))
	h.pipeline.Sweep(ctx)
	if !h.pipeline.Paused("D") {
		t.Fatalf("expected data polling paused after grace")
	}

	h.pipeline.HandlePollResult(ctx, statusSuccess("D", t0.Add(16*time.Minute)))
	if h.pipeline.Paused("D") {
		t.Fatalf("expected data polling resumed once online")
	}
	want := []string{"D:true", "D:false"}
	if len(h.scheduler.pauses) != 2 || h.scheduler.pauses[0] != want[0] || h.scheduler.pauses[1] != want[1] {
		t.Fatalf("unexpected pause calls %v", h.scheduler.pauses)
	}
}

func TestSweepEscalatesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	engine, err := alertsapp.NewEngine(h.rules, h.alerts, h.history, alertsapp.WithClock(h.clock), alertsapp.WithEscalateAfter(2*time.Minute))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h.pipeline.engine = engine
	h.register(t, "D")
	h.addRule(t, alerts.Rule{ID: "R", DeviceID: "D", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 100})

	h.pipeline.HandlePollResult(ctx, powerResult("D", 500, t0))
	for i := 1; i <= 4; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		h.pipeline.HandlePollResult(ctx, powerResult("D", 500, at))
		h.clock.Set(at)
		h.pipeline.Sweep(ctx)
	}
	open := h.openAlerts(t, "D")
	if len(open) != 1 || open[0].Severity != alerts.SeverityCritical {
		t.Fatalf("expected one escalated alert, got %+v", open)
	}
	escalations := 0
	for _, entry := range h.history.All() {
		if entry.Kind == alerts.HistoryEscalated {
			escalations++
		}
	}
	if escalations != 1 {
		t.Fatalf("expected one escalation, got %d", escalations)
	}
}

func TestDeleteRuleResolvesOpenAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "A")
	h.register(t, "B")
	h.addRule(t, alerts.Rule{ID: "R", DeviceID: alerts.WildcardDevice, Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 100})

	h.pipeline.HandlePollResult(ctx, powerResult("A", 500, t0))
	h.pipeline.HandlePollResult(ctx, powerResult("B", 500, t0))
	if err := h.pipeline.DeleteRule(ctx, "R"); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	for _, id := range []string{"A", "B"} {
		if open := h.openAlerts(t, id); len(open) != 0 {
			t.Fatalf("device %s still has open alerts %+v", id, open)
		}
	}
	if err := h.pipeline.DeleteRule(ctx, "R"); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// Random trigger/clear interleavings across goroutines never produce two open
// alerts for one (rule, device) pair.
func TestAtMostOneOpenAlertUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids := []string{"A", "B", "C"}
	for _, id := range ids {
		h.register(t, id)
	}
	h.addRule(t, alerts.Rule{ID: "R1", DeviceID: alerts.WildcardDevice, Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 50})
	h.addRule(t, alerts.Rule{ID: "R2", DeviceID: "A", Category: "power", Comparator: alerts.ComparatorGreaterOrEqual, Threshold: 80})
	h.addRule(t, alerts.Rule{ID: "R3", DeviceID: alerts.WildcardDevice, Category: "status", Comparator: alerts.ComparatorGreaterOrEqual, Threshold: 1})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				id := ids[rng.Intn(len(ids))]
				at := t0.Add(time.Duration(rng.Intn(3600)) * time.Second)
				switch rng.Intn(4) {
				case 0:
					h.pipeline.HandlePollResult(ctx, statusFailure(id, at))
				case 1:
					h.pipeline.HandlePollResult(ctx, statusSuccess(id, at))
				default:
					h.pipeline.HandlePollResult(ctx, powerResult(id, float64(rng.Intn(100)), at))
				}
				if rng.Intn(20) == 0 {
					h.pipeline.Sweep(ctx)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	open := make(map[string]bool)
	for _, entry := range h.history.All() {
		pair := entry.RuleID + "/" + entry.DeviceID
		switch entry.Kind {
		case alerts.HistoryOpened:
			if open[pair] {
				t.Fatalf("second alert opened for %s while one was open", pair)
			}
			open[pair] = true
		case alerts.HistoryResolved:
			if !open[pair] {
				t.Fatalf("resolved %s without an open alert", pair)
			}
			open[pair] = false
		}
	}
	for _, id := range ids {
		seen := make(map[string]bool)
		for _, alert := range h.openAlerts(t, id) {
			if seen[alert.RuleID] {
				t.Fatalf("duplicate open alert for rule %s on %s", alert.RuleID, id)
			}
			seen[alert.RuleID] = true
		}
	}
}
