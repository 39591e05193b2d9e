package commands

import (
	"errors"
	"time"

	devices "homewatch/internal/devices/domain"
)

var (
	// ErrUnsupportedAction indicates the device type has no such control.
	ErrUnsupportedAction = errors.New("commands: unsupported action")

	// ErrInvalidCommand indicates a malformed command request.
	ErrInvalidCommand = errors.New("commands: invalid command")
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Command is one control request delivered to a device.
type Command struct {
	CommandID      string         `json:"command_id"`
	DeviceID       string         `json:"device_id"`
	Action         devices.Action `json:"action"`
	Value          *int           `json:"value,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         time.Time      `json:"sent_at,omitempty"`
}
