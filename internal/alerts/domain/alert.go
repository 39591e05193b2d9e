package alerts

import (
	"context"
	"time"
)

// Resolve reasons.
const (
	ReasonConditionCleared = "condition cleared"
	ReasonSignalLost       = "signal lost"
	ReasonDeviceRemoved    = "device removed"
	ReasonRuleDeleted      = "rule deleted"
)

// Alert is one firing of a rule on a device. It is open while ResolvedAt is zero.
type Alert struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	DeviceID      string         `json:"device_id"`
	Category      string         `json:"category"`
	Severity      Severity       `json:"severity"`
	Value         float64        `json:"value"`
	Payload       map[string]any `json:"payload,omitempty"`
	TriggeredAt   time.Time      `json:"triggered_at"`
	ResolvedAt    time.Time      `json:"resolved_at,omitempty"`
	ResolveReason string         `json:"resolve_reason,omitempty"`
	EscalatedAt   time.Time      `json:"escalated_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Open reports whether the alert is unresolved.
func (a Alert) Open() bool {
	return a.ResolvedAt.IsZero()
}

// HistoryKind labels an alert history entry.
type HistoryKind string

const (
	HistoryOpened    HistoryKind = "opened"
	HistoryResolved  HistoryKind = "resolved"
	HistoryEscalated HistoryKind = "escalated"
)

// HistoryEntry is an immutable alert lifecycle record.
type HistoryEntry struct {
	ID       string      `json:"id"`
	AlertID  string      `json:"alert_id"`
	RuleID   string      `json:"rule_id"`
	DeviceID string      `json:"device_id"`
	Kind     HistoryKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Reason   string      `json:"reason,omitempty"`
	Value    float64     `json:"value"`
	At       time.Time   `json:"at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	DeviceID string
	RuleID   string
	OpenOnly bool
	Limit    int
}

// RuleRepository persists alert rules.
type RuleRepository interface {
	Create(ctx context.Context, rule *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]Rule, error)
	// ListCandidates returns enabled rules of a category that name the device
	// or are wildcards owned by ownerID.
	ListCandidates(ctx context.Context, deviceID, ownerID, category string) ([]Rule, error)
}

// AlertRepository persists alerts. Create fails with ErrAlertAlreadyOpen when
// the rule already has an open alert on the device.
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	FindOpen(ctx context.Context, ruleID, deviceID string) (*Alert, error)
	ListOpenByDevice(ctx context.Context, deviceID string) ([]Alert, error)
	// LastResolved returns the most recently resolved alert with the reason.
	LastResolved(ctx context.Context, ruleID, deviceID, reason string) (*Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
}

// HistoryRepository appends and reads alert history.
type HistoryRepository interface {
	Append(ctx context.Context, entry HistoryEntry) error
	ListByAlert(ctx context.Context, alertID string) ([]HistoryEntry, error)
}
