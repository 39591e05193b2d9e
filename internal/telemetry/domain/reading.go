package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrStorage wraps every failure of the telemetry sink.
var ErrStorage = errors.New("telemetry: storage error")

// PowerReading is an instantaneous power sample.
type PowerReading struct {
	DeviceID string    `json:"device_id"`
	TS       time.Time `json:"ts"`
	Watts    float64   `json:"watts"`
	Voltage  *float64  `json:"voltage,omitempty"`
	Current  *float64  `json:"current,omitempty"`
}

// EnergyReading is a cumulative energy counter sample.
type EnergyReading struct {
	DeviceID string    `json:"device_id"`
	TS       time.Time `json:"ts"`
	TotalWh  float64   `json:"total_wh"`
}

// MotionEvent is a motion sensor sample.
type MotionEvent struct {
	DeviceID    string    `json:"device_id"`
	TS          time.Time `json:"ts"`
	Detected    bool      `json:"detected"`
	Lux         *float64  `json:"lux,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Store is the append side of the telemetry sink. Appends are idempotent on
// (device id, timestamp): re-delivering a sample is a no-op.
type Store interface {
	AppendPowerReading(ctx context.Context, reading PowerReading) error
	AppendEnergyReading(ctx context.Context, reading EnergyReading) error
	AppendMotionEvent(ctx context.Context, event MotionEvent) error
}

// Range bounds a query. Zero values are open ends.
type Range struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Contains reports whether ts falls inside the range, inclusive.
func (r Range) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ts.After(r.To) {
		return false
	}
	return true
}

// Query reads stored telemetry in ascending timestamp order.
type Query interface {
	ListPowerReadings(ctx context.Context, deviceID string, r Range) ([]PowerReading, error)
	ListEnergyReadings(ctx context.Context, deviceID string, r Range) ([]EnergyReading, error)
	ListMotionEvents(ctx context.Context, deviceID string, r Range) ([]MotionEvent, error)
}
