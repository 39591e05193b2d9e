package alerts

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// WildcardDevice matches every device owned by the rule's user.
const WildcardDevice = "*"

// Comparator compares a value against a threshold.
type Comparator string

const (
	ComparatorGreater        Comparator = ">"
	ComparatorGreaterOrEqual Comparator = ">="
	ComparatorLess           Comparator = "<"
	ComparatorLessOrEqual    Comparator = "<="
	ComparatorEqual          Comparator = "=="
	ComparatorNotEqual       Comparator = "!="
)

// Valid returns true when the comparator is supported.
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGreater, ComparatorGreaterOrEqual, ComparatorLess, ComparatorLessOrEqual, ComparatorEqual, ComparatorNotEqual:
		return true
	default:
		return false
	}
}

// Compare evaluates value <c> threshold.
func (c Comparator) Compare(value, threshold float64) bool {
	switch c {
	case ComparatorGreater:
		return value > threshold
	case ComparatorGreaterOrEqual:
		return value >= threshold
	case ComparatorLess:
		return value < threshold
	case ComparatorLessOrEqual:
		return value <= threshold
	case ComparatorEqual:
		return value == threshold
	case ComparatorNotEqual:
		return value != threshold
	default:
		return false
	}
}

// Severity ranks alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid returns true for known severities.
func (s Severity) Valid() bool {
	for _, known := range severityOrder {
		if s == known {
			return true
		}
	}
	return false
}

// Escalate returns the next severity level, saturating at critical.
func (s Severity) Escalate() Severity {
	for i, known := range severityOrder {
		if s == known && i+1 < len(severityOrder) {
			return severityOrder[i+1]
		}
	}
	return SeverityCritical
}

// Rule is a user-owned threshold rule.
type Rule struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id" validate:"required"`
	DeviceID   string        `json:"device_id" validate:"required"`
	Name       string        `json:"name" validate:"max=128"`
	Category   string        `json:"category" validate:"required,oneof=status power energy motion battery"`
	Comparator Comparator    `json:"comparator" validate:"required"`
	Threshold  float64       `json:"threshold"`
	Cooldown   time.Duration `json:"cooldown" validate:"min=0"`
	Severity   Severity      `json:"severity" validate:"required"`
	Enabled    bool          `json:"enabled"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

var validate = validator.New()

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if !r.Comparator.Valid() {
		return fmt.Errorf("%w: unsupported comparator %q", ErrInvalidRule, r.Comparator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unsupported severity %q", ErrInvalidRule, r.Severity)
	}
	return nil
}

// Wildcard reports whether the rule targets all devices of its owner.
func (r Rule) Wildcard() bool {
	return r.DeviceID == WildcardDevice
}

// Matches reports whether the rule applies to a device owned by ownerID.
func (r Rule) Matches(deviceID, ownerID string) bool {
	if !r.Enabled {
		return false
	}
	if r.Wildcard() {
		return r.UserID == ownerID
	}
	return r.DeviceID == deviceID
}
