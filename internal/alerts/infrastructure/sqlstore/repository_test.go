package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	alerts "homewatch/internal/alerts/domain"
	"homewatch/internal/platform/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRuleRepositoryCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewRuleRepository(openTestDB(t))
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rules := []alerts.Rule{
		{ID: "r-exact", UserID: "u1", DeviceID: "d1", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 1000, Cooldown: 10 * time.Minute, Severity: alerts.SeverityHigh, Enabled: true},
		{ID: "r-wild", UserID: "u1", DeviceID: alerts.WildcardDevice, Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 2000, Severity: alerts.SeverityLow, Enabled: true},
		{ID: "r-other-user", UserID: "u2", DeviceID: alerts.WildcardDevice, Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 1, Severity: alerts.SeverityLow, Enabled: true},
		{ID: "r-disabled", UserID: "u1", DeviceID: "d1", Category: "power", Comparator: alerts.ComparatorGreater, Threshold: 1, Severity: alerts.SeverityLow},
		{ID: "r-motion", UserID: "u1", DeviceID: "d1", Category: "motion", Comparator: alerts.ComparatorEqual, Threshold: 1, Severity: alerts.SeverityLow, Enabled: true},
	}
	for i := range rules {
		rules[i].CreatedAt = now
		rules[i].UpdatedAt = now
		if err := repo.Create(ctx, &rules[i]); err != nil {
			t.Fatalf("create %s: %v", rules[i].ID, err)
		}
	}

	got, err := repo.ListCandidates(ctx, "d1", "u1", "power")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r-exact" || got[1].ID != "r-wild" {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if got[0].Cooldown != 10*time.Minute || got[0].Comparator != alerts.ComparatorGreater {
		t.Fatalf("unexpected rule fields %+v", got[0])
	}

	all, err := repo.List(ctx, "u1")
	if err != nil || len(all) != 4 {
		t.Fatalf("list: %d %v", len(all), err)
	}
	if err := repo.Delete(ctx, "r-wild"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "r-wild"); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertRepositoryOneOpenPerRuleDevice(t *testing.T) {
	ctx := context.Background()
	repo := NewAlertRepository(openTestDB(t))
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	first := &alerts.Alert{
		ID: "a1", RuleID: "r1", DeviceID: "d1", Category: "power", Severity: alerts.SeverityHigh,
		Value: 1200, Payload: map[string]any{"watts": 1200.0}, TriggeredAt: at, CreatedAt: at, UpdatedAt: at,
	}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := *first
	second.ID = "a2"
	if err := repo.Create(ctx, &second); !errors.Is(err, alerts.ErrAlertAlreadyOpen) {
		t.Fatalf("expected ErrAlertAlreadyOpen, got %v", err)
	}

	open, err := repo.FindOpen(ctx, "r1", "d1")
	if err != nil || open == nil || open.ID != "a1" {
		t.Fatalf("find open: %+v %v", open, err)
	}
	if open.Payload["watts"] != 1200.0 {
		t.Fatalf("unexpected payload %+v", open.Payload)
	}

	open.ResolvedAt = at.Add(time.Minute)
	open.ResolveReason = alerts.ReasonConditionCleared
	open.UpdatedAt = at.Add(time.Minute)
	if err := repo.Update(ctx, open); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := repo.Create(ctx, &second); err != nil {
		t.Fatalf("create after resolve: %v", err)
	}

	last, err := repo.LastResolved(ctx, "r1", "d1", alerts.ReasonConditionCleared)
	if err != nil || last == nil || last.ID != "a1" || !last.ResolvedAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("last resolved: %+v %v", last, err)
	}
	if none, _ := repo.LastResolved(ctx, "r1", "d1", alerts.ReasonSignalLost); none != nil {
		t.Fatalf("expected no signal-lost resolution, got %+v", none)
	}

	openList, err := repo.ListOpenByDevice(ctx, "d1")
	if err != nil || len(openList) != 1 || openList[0].ID != "a2" {
		t.Fatalf("open by device: %+v %v", openList, err)
	}
	all, err := repo.List(ctx, alerts.AlertFilter{DeviceID: "d1"})
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %+v %v", all, err)
	}
	onlyOpen, _ := repo.List(ctx, alerts.AlertFilter{RuleID: "r1", OpenOnly: true})
	if len(onlyOpen) != 1 {
		t.Fatalf("expected one open alert, got %d", len(onlyOpen))
	}
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	entries := []alerts.HistoryEntry{
		{ID: "h2", AlertID: "a1", RuleID: "r1", DeviceID: "d1", Kind: alerts.HistoryResolved, Severity: alerts.SeverityHigh, Reason: alerts.ReasonConditionCleared, Value: 900, At: at.Add(time.Minute)},
		{ID: "h1", AlertID: "a1", RuleID: "r1", DeviceID: "d1", Kind: alerts.HistoryOpened, Severity: alerts.SeverityHigh, Value: 1200, At: at},
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := repo.ListByAlert(ctx, "a1")
	if err != nil || len(got) != 2 {
		t.Fatalf("list: %+v %v", got, err)
	}
	if got[0].Kind != alerts.HistoryOpened || got[1].Reason != alerts.ReasonConditionCleared {
		t.Fatalf("unexpected order %+v", got)
	}
}
