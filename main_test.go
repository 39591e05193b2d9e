package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"homewatch/internal/config"
	devices "homewatch/internal/devices/domain"
	"homewatch/internal/devices/infrastructure/memory"
)

func TestNewLoggerLevel(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		logger := newLogger(config.LogConfig{Level: tc.level})
		if got := logger.GetLevel(); got != tc.want {
			t.Fatalf("level %q: got %s, want %s", tc.level, got, tc.want)
		}
	}
	if pretty := newLogger(config.LogConfig{Level: "error", Pretty: true}); pretty.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("pretty logger level = %s", pretty.GetLevel())
	}
}

func TestDeviceNamer(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	device := devices.Device{ID: "d1", UserID: "u1", Name: "Kitchen plug", Type: devices.TypePlus1PM, Address: "10.0.0.1"}
	if err := repo.Create(ctx, &device); err != nil {
		t.Fatalf("create: %v", err)
	}

	name := deviceNamer(repo)
	if got := name(ctx, "d1"); got != "Kitchen plug" {
		t.Fatalf("name = %q", got)
	}
	if got := name(ctx, "missing"); got != "" {
		t.Fatalf("missing device name = %q", got)
	}
}
