package memory

import (
	"context"
	"sort"
	"sync"

	devices "homewatch/internal/devices/domain"
)

// Repository keeps devices in memory.
type Repository struct {
	mu      sync.RWMutex
	devices map[string]devices.Device
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{devices: make(map[string]devices.Device)}
}

// Create inserts a device.
func (r *Repository) Create(_ context.Context, device *devices.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addressTaken(device.Address, device.ID) {
		return devices.ErrDuplicateAddress
	}
	r.devices[device.ID] = *device
	return nil
}

// Get returns nil when the device is missing.
func (r *Repository) Get(_ context.Context, id string) (*devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

// FindByAddress returns nil when no device uses address.
func (r *Repository) FindByAddress(_ context.Context, address string) (*devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, device := range r.devices {
		if device.Address == address {
			found := device
			return &found, nil
		}
	}
	return nil, nil
}

// List returns devices in registration order.
func (r *Repository) List(_ context.Context) ([]devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]devices.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// Update replaces a stored device.
func (r *Repository) Update(_ context.Context, device *devices.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.devices[device.ID]
	if !ok {
		return devices.ErrNotFound
	}
	if r.addressTaken(device.Address, device.ID) {
		return devices.ErrDuplicateAddress
	}
	updated := *device
	updated.UserID = current.UserID
	updated.RegisteredAt = current.RegisteredAt
	r.devices[device.ID] = updated
	return nil
}

// Delete removes a device.
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return devices.ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

func (r *Repository) addressTaken(address, exceptID string) bool {
	for id, device := range r.devices {
		if id != exceptID && device.Address == address {
			return true
		}
	}
	return false
}
