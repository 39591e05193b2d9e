package health

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a device without a status record.
var ErrNotFound = errors.New("health: status record not found")

// Status is a device health state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Level maps the status onto the numeric value status rules compare against.
func (s Status) Level() float64 {
	switch s {
	case StatusOnline:
		return 0
	case StatusError:
		return 1
	default:
		return 2
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOnline || s == StatusError || s == StatusOffline
}

// Record is the current health of one device.
type Record struct {
	DeviceID            string    `json:"device_id"`
	Status              Status    `json:"status"`
	LastContactAt       time.Time `json:"last_contact_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ChangedAt           time.Time `json:"changed_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewRecord returns the initial record of a freshly registered device.
func NewRecord(deviceID string, now time.Time) Record {
	return Record{
		DeviceID:  deviceID,
		Status:    StatusOffline,
		ChangedAt: now,
		UpdatedAt: now,
	}
}

// Transition is a status change of one device.
type Transition struct {
	DeviceID string    `json:"device_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason,omitempty"`
}

// Repository persists status records. Save is an upsert.
type Repository interface {
	Get(ctx context.Context, deviceID string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, record Record) error
	Delete(ctx context.Context, deviceID string) error
}
