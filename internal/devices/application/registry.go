package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	devices "homewatch/internal/devices/domain"
	"homewatch/internal/platform/devicelock"
)

// Lifecycle receives registry side effects. Hooks run before the repository
// change on removal and after it on registration and update.
type Lifecycle interface {
	DeviceRegistered(ctx context.Context, device devices.Device) error
	DeviceUpdated(ctx context.Context, previous, current devices.Device) error
	DeviceRemoved(ctx context.Context, deviceID string) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Patch carries optional device field changes.
type Patch struct {
	Name    *string       `json:"name"`
	Type    *devices.Type `json:"type"`
	Address *string       `json:"address"`
}

// Registry owns device registration. Update and Deregister of the same device
// are serialized, lifecycle hooks included.
type Registry struct {
	locks     *devicelock.Locker
	repo      devices.Repository
	catalog   *devices.Catalog
	lifecycle Lifecycle
	clock     Clock
	logger    zerolog.Logger
	newID     func() string
}

// Option customizes the registry.
type Option func(*Registry)

// WithLifecycle installs the lifecycle hook.
func WithLifecycle(lifecycle Lifecycle) Option {
	return func(r *Registry) {
		r.lifecycle = lifecycle
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithIDGenerator overrides device id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRegistry constructs a registry.
func NewRegistry(repo devices.Repository, catalog *devices.Catalog, opts ...Option) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repository")
	}
	if catalog == nil {
		return nil, errors.New("devices: nil catalog")
	}
	r := &Registry{
		locks:   devicelock.New(),
		repo:    repo,
		catalog: catalog,
		clock:   systemClock{},
		logger:  zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With().Str("component", "registry").Logger()
	return r, nil
}

// Register validates and stores a new device, then starts monitoring it.
func (r *Registry) Register(ctx context.Context, device devices.Device) (devices.Device, error) {
	device.Normalize()
	if device.ID == "" {
		device.ID = r.newID()
	}
	now := r.clock.Now()
	device.RegisteredAt = now
	device.UpdatedAt = now
	if err := r.check(ctx, device); err != nil {
		return devices.Device{}, err
	}
	if err := r.repo.Create(ctx, &device); err != nil {
		return devices.Device{}, err
	}
	if r.lifecycle != nil {
		if err := r.lifecycle.DeviceRegistered(ctx, device); err != nil {
			if delErr := r.repo.Delete(ctx, device.ID); delErr != nil {
				r.logger.Error().Err(delErr).Str("device_id", device.ID).Msg("rollback registration failed")
			}
			return devices.Device{}, fmt.Errorf("devices: start monitoring: %w", err)
		}
	}
	r.logger.Info().
		Str("device_id", device.ID).
		Str("type", string(device.Type)).
		Str("address", device.Address).
		Msg("device registered")
	return device, nil
}

// Update applies patch to a device. Address or type changes restart polling.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (devices.Device, error) {
	id = strings.TrimSpace(id)
	unlock := r.locks.Lock(id)
	defer unlock()

	current, err := r.Get(ctx, id)
	if err != nil {
		return devices.Device{}, err
	}
	updated := current
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Type != nil {
		updated.Type = *patch.Type
	}
	if patch.Address != nil {
		updated.Address = *patch.Address
	}
	updated.Normalize()
	updated.UpdatedAt = r.clock.Now()
	if err := r.check(ctx, updated); err != nil {
		return devices.Device{}, err
	}
	if err := r.repo.Update(ctx, &updated); err != nil {
		return devices.Device{}, err
	}
	if r.lifecycle != nil {
		if err := r.lifecycle.DeviceUpdated(ctx, current, updated); err != nil {
			return devices.Device{}, fmt.Errorf("devices: restart monitoring: %w", err)
		}
	}
	r.logger.Info().Str("device_id", id).Msg("device updated")
	return updated, nil
}

// Deregister stops monitoring a device and deletes it.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	unlock := r.locks.Lock(id)
	defer unlock()

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if r.lifecycle != nil {
		if err := r.lifecycle.DeviceRemoved(ctx, id); err != nil {
			return fmt.Errorf("devices: stop monitoring: %w", err)
		}
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info().Str("device_id", id).Msg("device deregistered")
	return nil
}

// Get loads a device.
func (r *Registry) Get(ctx context.Context, id string) (devices.Device, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return devices.Device{}, devices.ErrNotFound
	}
	device, err := r.repo.Get(ctx, id)
	if err != nil {
		return devices.Device{}, err
	}
	if device == nil {
		return devices.Device{}, devices.ErrNotFound
	}
	return *device, nil
}

// List returns every registered device.
func (r *Registry) List(ctx context.Context) ([]devices.Device, error) {
	return r.repo.List(ctx)
}

// Catalog exposes the capability catalog.
func (r *Registry) Catalog() *devices.Catalog {
	return r.catalog
}

func (r *Registry) check(ctx context.Context, device devices.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if !r.catalog.Supports(device.Type) {
		return fmt.Errorf("%w: %s", devices.ErrUnknownType, device.Type)
	}
	existing, err := r.repo.FindByAddress(ctx, device.Address)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != device.ID {
		return devices.ErrDuplicateAddress
	}
	return nil
}
