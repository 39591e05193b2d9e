package memory

import (
	"context"
	"testing"
	"time"

	telemetry "homewatch/internal/telemetry/domain"
)

func TestStoreIdempotentAppend(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ts := time.Unix(1700000000, 0).UTC()
	_ = store.AppendPowerReading(ctx, telemetry.PowerReading{DeviceID: "d", TS: ts, Watts: 10})
	_ = store.AppendPowerReading(ctx, telemetry.PowerReading{DeviceID: "d", TS: ts, Watts: 20})
	readings, _ := store.ListPowerReadings(ctx, "d", telemetry.Range{})
	if len(readings) != 1 || readings[0].Watts != 10 {
		t.Fatalf("unexpected readings %+v", readings)
	}
	if store.Count("d") != 1 {
		t.Fatalf("expected count 1, got %d", store.Count("d"))
	}
}
