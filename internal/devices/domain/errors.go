package devices

import "errors"

var (
	// ErrNotFound indicates a missing device.
	ErrNotFound = errors.New("devices: not found")

	// ErrDuplicateAddress indicates another device already uses the address.
	ErrDuplicateAddress = errors.New("devices: duplicate address")

	// ErrUnknownType indicates a device type without a catalog entry.
	ErrUnknownType = errors.New("devices: unknown device type")

	// ErrInvalidDevice indicates a device failed validation.
	ErrInvalidDevice = errors.New("devices: invalid device")
)
