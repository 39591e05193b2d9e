package alerts

import "errors"

var (
	// ErrNotFound indicates a missing rule or alert.
	ErrNotFound = errors.New("alerts: not found")

	// ErrAlertAlreadyOpen indicates an open alert already exists for the rule and device.
	ErrAlertAlreadyOpen = errors.New("alerts: alert already open")

	// ErrInvalidRule indicates a rule failed validation.
	ErrInvalidRule = errors.New("alerts: invalid rule")
)
