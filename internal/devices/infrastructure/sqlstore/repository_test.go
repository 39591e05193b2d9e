package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	devices "homewatch/internal/devices/domain"
	"homewatch/internal/platform/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "devices.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	device := &devices.Device{
		ID:           "d1",
		UserID:       "u1",
		Name:         "Kitchen plug",
		Type:         devices.TypePlus1PM,
		Address:      "192.168.1.20",
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, "d1")
	if err != nil || got == nil {
		t.Fatalf("get: %+v %v", got, err)
	}
	if got.Type != devices.TypePlus1PM || got.Address != "192.168.1.20" || !got.RegisteredAt.Equal(now) {
		t.Fatalf("unexpected device %+v", got)
	}

	byAddr, err := repo.FindByAddress(ctx, "192.168.1.20")
	if err != nil || byAddr == nil || byAddr.ID != "d1" {
		t.Fatalf("find by address: %+v %v", byAddr, err)
	}
	missing, err := repo.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, got %+v %v", missing, err)
	}

	dup := *device
	dup.ID = "d2"
	if err := repo.Create(ctx, &dup); !errors.Is(err, devices.ErrDuplicateAddress) {
		t.Fatalf("expected duplicate address, got %v", err)
	}

	device.Name = "Hall plug"
	device.Address = "192.168.1.21"
	device.UpdatedAt = now.Add(time.Hour)
	if err := repo.Update(ctx, device); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "Hall plug" || list[0].Address != "192.168.1.21" {
		t.Fatalf("list after update: %+v %v", list, err)
	}

	if err := repo.Delete(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "d1"); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Update(ctx, device); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}
