// Package monitor routes poll results through status reconciliation,
// telemetry storage and alert evaluation, one device at a time.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	alertsapp "homewatch/internal/alerts/application"
	alerts "homewatch/internal/alerts/domain"
	devices "homewatch/internal/devices/domain"
	healthapp "homewatch/internal/health/application"
	health "homewatch/internal/health/domain"
	"homewatch/internal/observability/metrics"
	"homewatch/internal/platform/devicelock"
	polling "homewatch/internal/polling/domain"
	telemetry "homewatch/internal/telemetry/domain"
)

// Scheduler manages the poll tasks of a device.
type Scheduler interface {
	AddDevice(device devices.Device) error
	UpdateDevice(device devices.Device) error
	RemoveDevice(deviceID string) int
	SetPaused(deviceID string, paused bool)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Pipeline is the single writer of device status and the open-alert set.
// Every mutation of a device's state happens under that device's lock.
type Pipeline struct {
	locks        *devicelock.Locker
	reconciler   *healthapp.Reconciler
	engine       *alertsapp.Engine
	store        telemetry.Store
	scheduler    Scheduler
	rules        RuleStore
	offlineGrace time.Duration
	clock        Clock
	logger       zerolog.Logger

	mu      sync.RWMutex
	devices map[string]devices.Device
	paused  map[string]bool
}

// Option customizes the pipeline.
type Option func(*Pipeline)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithOfflineGrace sets how long a device stays offline before its data
// polling pauses. Zero disables pausing.
func WithOfflineGrace(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.offlineGrace = d
		}
	}
}

// WithRuleStore enables rule deletion through the pipeline.
func WithRuleStore(rules RuleStore) Option {
	return func(p *Pipeline) {
		p.rules = rules
	}
}

// NewPipeline constructs a pipeline. AttachScheduler must be called before
// devices are registered.
func NewPipeline(reconciler *healthapp.Reconciler, engine *alertsapp.Engine, store telemetry.Store, opts ...Option) (*Pipeline, error) {
	if reconciler == nil {
		return nil, errors.New("monitor: nil reconciler")
	}
	if engine == nil {
		return nil, errors.New("monitor: nil alert engine")
	}
	if store == nil {
		return nil, errors.New("monitor: nil telemetry store")
	}
	p := &Pipeline{
		locks:      devicelock.New(),
		reconciler: reconciler,
		engine:     engine,
		store:      store,
		clock:      systemClock{},
		logger:     zerolog.Nop(),
		devices:    make(map[string]devices.Device),
		paused:     make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With().Str("component", "monitor").Logger()
	return p, nil
}

// AttachScheduler wires the poll scheduler.
func (p *Pipeline) AttachScheduler(scheduler Scheduler) {
	p.scheduler = scheduler
}

// DeviceRegistered initialises the status record and starts polling.
func (p *Pipeline) DeviceRegistered(ctx context.Context, device devices.Device) error {
	if p.scheduler == nil {
		return errors.New("monitor: scheduler not attached")
	}
	unlock := p.locks.Lock(device.ID)
	if _, err := p.reconciler.Init(ctx, device.ID); err != nil {
		unlock()
		return err
	}
	p.track(device)
	unlock()

	if err := p.scheduler.AddDevice(device); err != nil {
		p.untrack(device.ID)
		unlock := p.locks.Lock(device.ID)
		defer unlock()
		if rmErr := p.reconciler.Remove(ctx, device.ID); rmErr != nil {
			p.logger.Error().Err(rmErr).Str("device_id", device.ID).Msg("remove status record")
		}
		return err
	}
	return nil
}

// DeviceUpdated refreshes the cached device and restarts polling when the
// address or type changed.
func (p *Pipeline) DeviceUpdated(_ context.Context, previous, current devices.Device) error {
	if p.scheduler == nil {
		return errors.New("monitor: scheduler not attached")
	}
	if !p.retrack(current) {
		return devices.ErrNotFound
	}
	if previous.Address == current.Address && previous.Type == current.Type {
		return nil
	}
	p.mu.Lock()
	delete(p.paused, current.ID)
	p.mu.Unlock()
	return p.scheduler.UpdateDevice(current)
}

// DeviceRemoved stops polling, waits for in-flight polls, then force-resolves
// open alerts and drops the status record.
func (p *Pipeline) DeviceRemoved(ctx context.Context, deviceID string) error {
	p.untrack(deviceID)
	if p.scheduler != nil {
		p.scheduler.RemoveDevice(deviceID)
	}

	unlock := p.locks.Lock(deviceID)
	defer unlock()
	var errs []error
	if err := p.engine.ForceResolveDevice(ctx, deviceID, alerts.ReasonDeviceRemoved); err != nil {
		errs = append(errs, err)
	}
	if err := p.reconciler.Remove(ctx, deviceID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HandlePollResult applies one poll outcome. Results of untracked devices and
// results whose task context is cancelled are discarded.
func (p *Pipeline) HandlePollResult(ctx context.Context, result polling.Result) {
	deviceID := result.Key.DeviceID
	unlock := p.locks.Lock(deviceID)
	defer unlock()

	if ctx.Err() != nil {
		return
	}
	device, ok := p.lookup(deviceID)
	if !ok {
		return
	}
	log := p.logger.With().Str("device_id", deviceID).Str("category", string(result.Key.Category)).Logger()

	tr, err := p.reconciler.Observe(ctx, deviceID, health.Observation{At: result.At, Success: result.OK(), Err: result.Err})
	if err != nil {
		log.Error().Err(err).Msg("update device status")
	}
	if tr != nil {
		p.onTransition(ctx, device, *tr)
	}
	if result.OK() {
		p.record(ctx, device, result, log)
	}
}

// Devices returns the tracked devices ordered by id.
func (p *Pipeline) Devices() []devices.Device {
	p.mu.RLock()
	out := make([]devices.Device, 0, len(p.devices))
	for _, device := range p.devices {
		out = append(out, device)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Paused reports whether the device's data polling is paused.
func (p *Pipeline) Paused(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[deviceID]
}

func (p *Pipeline) onTransition(ctx context.Context, device devices.Device, tr health.Transition) {
	target := alertsapp.Target{DeviceID: device.ID, OwnerID: device.UserID}
	if err := p.engine.EvaluateStatus(ctx, target, tr); err != nil {
		p.logger.Error().Err(err).Str("device_id", device.ID).Msg("evaluate status rules")
	}
	if tr.To == health.StatusOnline {
		p.setPaused(device.ID, false)
	}
}

func (p *Pipeline) record(ctx context.Context, device devices.Device, result polling.Result, log zerolog.Logger) {
	target := alertsapp.Target{DeviceID: device.ID, OwnerID: device.UserID}
	var (
		kind   string
		stored error
		sample alertsapp.Sample
	)
	switch {
	case result.Power != nil:
		s := result.Power
		kind = "power"
		stored = p.store.AppendPowerReading(ctx, telemetry.PowerReading{
			DeviceID: device.ID, TS: s.TS, Watts: s.Watts, Voltage: s.Voltage, Current: s.Current,
		})
		payload := map[string]any{"watts": s.Watts}
		if s.Voltage != nil {
			payload["voltage"] = *s.Voltage
		}
		if s.Current != nil {
			payload["current"] = *s.Current
		}
		sample = alertsapp.Sample{Category: devices.CategoryPower, Value: s.Watts, At: s.TS, Payload: payload}
	case result.Energy != nil:
		s := result.Energy
		kind = "energy"
		stored = p.store.AppendEnergyReading(ctx, telemetry.EnergyReading{DeviceID: device.ID, TS: s.TS, TotalWh: s.TotalWh})
		sample = alertsapp.Sample{Category: devices.CategoryEnergy, Value: s.TotalWh, At: s.TS, Payload: map[string]any{"total_wh": s.TotalWh}}
	case result.Motion != nil:
		s := result.Motion
		kind = "motion"
		stored = p.store.AppendMotionEvent(ctx, telemetry.MotionEvent{
			DeviceID: device.ID, TS: s.TS, Detected: s.Detected, Lux: s.Lux, Temperature: s.Temperature,
		})
		value := 0.0
		if s.Detected {
			value = 1
		}
		payload := map[string]any{"detected": s.Detected}
		if s.Lux != nil {
			payload["lux"] = *s.Lux
		}
		if s.Temperature != nil {
			payload["temperature"] = *s.Temperature
		}
		sample = alertsapp.Sample{Category: devices.CategoryMotion, Value: value, At: s.TS, Payload: payload}
	case result.Battery != nil:
		s := result.Battery
		sample = alertsapp.Sample{Category: devices.CategoryBattery, Value: s.Percent, At: s.TS, Payload: map[string]any{"percent": s.Percent}}
	default:
		return
	}

	if kind != "" {
		if stored != nil {
			metrics.IncTelemetryDropped(kind, "storage")
			log.Error().Err(stored).Time("ts", sample.At).Msg("telemetry sample dropped")
			return
		}
		metrics.IncTelemetryWrite(kind)
	}
	if err := p.engine.EvaluateSample(ctx, target, sample); err != nil {
		log.Error().Err(err).Msg("evaluate rules")
	}
}

func (p *Pipeline) setPaused(deviceID string, paused bool) {
	p.mu.Lock()
	if p.paused[deviceID] == paused {
		p.mu.Unlock()
		return
	}
	if paused {
		p.paused[deviceID] = true
	} else {
		delete(p.paused, deviceID)
	}
	p.mu.Unlock()
	if p.scheduler != nil {
		p.scheduler.SetPaused(deviceID, paused)
	}
}

func (p *Pipeline) track(device devices.Device) {
	p.mu.Lock()
	p.devices[device.ID] = device
	p.mu.Unlock()
}

// retrack replaces a tracked device. It reports false once the device was
// removed.
func (p *Pipeline) retrack(device devices.Device) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.devices[device.ID]; !ok {
		return false
	}
	p.devices[device.ID] = device
	return true
}

func (p *Pipeline) untrack(deviceID string) {
	p.mu.Lock()
	delete(p.devices, deviceID)
	delete(p.paused, deviceID)
	p.mu.Unlock()
}

func (p *Pipeline) lookup(deviceID string) (devices.Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	device, ok := p.devices[deviceID]
	return device, ok
}
