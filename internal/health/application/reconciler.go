package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	health "homewatch/internal/health/domain"
	"homewatch/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Reconciler turns poll outcomes into device health. It keeps no locks of its
// own: callers serialize access per device.
type Reconciler struct {
	repo   health.Repository
	policy health.Policy
	clock  Clock
	logger zerolog.Logger
}

// ReconcilerOption customizes the reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock assigns a clock.
func WithClock(clock Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler constructs a status reconciler.
func NewReconciler(repo health.Repository, policy health.Policy, opts ...ReconcilerOption) (*Reconciler, error) {
	if repo == nil {
		return nil, errors.New("health: nil repository")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &Reconciler{
		repo:   repo,
		policy: policy,
		clock:  systemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With().Str("component", "health").Logger()
	return r, nil
}

// Init creates the offline record of a newly registered device. An existing
// record is kept.
func (r *Reconciler) Init(ctx context.Context, deviceID string) (health.Record, error) {
	existing, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return health.Record{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	rec := health.NewRecord(deviceID, r.clock.Now())
	if err := r.repo.Save(ctx, rec); err != nil {
		return health.Record{}, fmt.Errorf("health: init %s: %w", deviceID, err)
	}
	return rec, nil
}

// Observe folds one poll outcome into the device record.
func (r *Reconciler) Observe(ctx context.Context, deviceID string, obs health.Observation) (*health.Transition, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	next, tr := r.policy.Apply(rec, obs)
	if next == rec {
		return nil, nil
	}
	if err := r.repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("health: save %s: %w", deviceID, err)
	}
	r.record(tr)
	return tr, nil
}

// Sweep applies the staleness rule to one device at now.
func (r *Reconciler) Sweep(ctx context.Context, deviceID string, now time.Time) (*health.Transition, error) {
	rec, err := r.load(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	next, tr := r.policy.Sweep(rec, now)
	if tr == nil {
		return nil, nil
	}
	if err := r.repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("health: save %s: %w", deviceID, err)
	}
	r.record(tr)
	return tr, nil
}

// Remove deletes the record of a deregistered device.
func (r *Reconciler) Remove(ctx context.Context, deviceID string) error {
	if err := r.repo.Delete(ctx, deviceID); err != nil && !errors.Is(err, health.ErrNotFound) {
		return fmt.Errorf("health: remove %s: %w", deviceID, err)
	}
	return nil
}

// Get returns the current record.
func (r *Reconciler) Get(ctx context.Context, deviceID string) (health.Record, error) {
	rec, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return health.Record{}, err
	}
	if rec == nil {
		return health.Record{}, health.ErrNotFound
	}
	return *rec, nil
}

// List returns every record.
func (r *Reconciler) List(ctx context.Context) ([]health.Record, error) {
	return r.repo.List(ctx)
}

func (r *Reconciler) load(ctx context.Context, deviceID string) (health.Record, error) {
	rec, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return health.Record{}, err
	}
	if rec == nil {
		return health.NewRecord(deviceID, r.clock.Now()), nil
	}
	return *rec, nil
}

func (r *Reconciler) record(tr *health.Transition) {
	if tr == nil {
		return
	}
	metrics.IncStatusTransition(string(tr.To))
	r.logger.Info().
		Str("device_id", tr.DeviceID).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("reason", tr.Reason).
		Msg("device status changed")
}
