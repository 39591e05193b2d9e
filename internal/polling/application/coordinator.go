package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	devices "homewatch/internal/devices/domain"
	"homewatch/internal/observability/metrics"
	polling "homewatch/internal/polling/domain"
)

// Fetcher performs one poll of a device category.
type Fetcher interface {
	Fetch(ctx context.Context, key polling.Key, address, endpoint string) (polling.Result, error)
}

// Sink receives every poll result. ctx is the task context; once it is
// cancelled the result must be discarded.
type Sink interface {
	HandlePollResult(ctx context.Context, result polling.Result)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type task struct {
	mu         sync.Mutex
	state      polling.Task
	backoff    *backoff.ExponentialBackOff
	lastSample time.Time

	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) snapshot() polling.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Coordinator owns the live set of poll tasks, one goroutine per task.
type Coordinator struct {
	fetcher    Fetcher
	sink       Sink
	catalog    *devices.Catalog
	intervals  polling.Intervals
	maxBackoff time.Duration
	clock      Clock
	logger     zerolog.Logger

	mu      sync.Mutex
	tasks   map[polling.Key]*task
	devices map[string][]polling.Key
	root    context.Context
	stop    context.CancelFunc
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMaxBackoff caps the failure backoff.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// NewCoordinator constructs a coordinator. Tasks added before Start are
// scheduled once Start runs.
func NewCoordinator(fetcher Fetcher, sink Sink, catalog *devices.Catalog, intervals polling.Intervals, opts ...Option) (*Coordinator, error) {
	if fetcher == nil {
		return nil, errors.New("polling: nil fetcher")
	}
	if sink == nil {
		return nil, errors.New("polling: nil sink")
	}
	if catalog == nil {
		return nil, errors.New("polling: nil catalog")
	}
	if err := intervals.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		fetcher:    fetcher,
		sink:       sink,
		catalog:    catalog,
		intervals:  intervals,
		maxBackoff: 2 * time.Minute,
		clock:      systemClock{},
		logger:     zerolog.Nop(),
		tasks:      make(map[polling.Key]*task),
		devices:    make(map[string][]polling.Key),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With().Str("component", "poller").Logger()
	return c, nil
}

// Start launches the task goroutines. It returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root != nil {
		return
	}
	c.root, c.stop = context.WithCancel(ctx)
	for _, t := range c.tasks {
		c.launchLocked(t)
	}
}

// Stop cancels every task and waits for the goroutines to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stop := c.stop
	running := make([]<-chan struct{}, 0, len(c.tasks))
	for _, t := range c.tasks {
		if t.done != nil {
			running = append(running, t.done)
		}
		t.cancel, t.done = nil, nil
	}
	c.root, c.stop = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	for _, done := range running {
		<-done
	}
}

// AddDevice creates one task per capability of the device. Existing tasks of
// the device are replaced.
func (c *Coordinator) AddDevice(device devices.Device) error {
	caps, err := c.catalog.CapabilitiesFor(device.Type)
	if err != nil {
		return err
	}
	c.RemoveDevice(device.ID)

	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]polling.Key, 0, len(caps))
	for _, capability := range caps {
		key := polling.Key{DeviceID: device.ID, Category: capability.Category}
		interval := c.intervals.For(capability.Interval)
		t := &task{
			state: polling.Task{
				Key:      key,
				Address:  device.Address,
				Endpoint: capability.Endpoint,
				Interval: interval,
				NextDue:  now,
			},
			backoff: c.newBackoff(interval),
			wake:    make(chan struct{}, 1),
		}
		c.tasks[key] = t
		keys = append(keys, key)
		if c.root != nil {
			c.launchLocked(t)
		}
	}
	c.devices[device.ID] = keys
	metrics.AddPollTasks(len(keys))
	c.logger.Debug().Str("device_id", device.ID).Int("tasks", len(keys)).Msg("poll tasks created")
	return nil
}

// UpdateDevice re-creates the device's tasks for a changed address or type.
func (c *Coordinator) UpdateDevice(device devices.Device) error {
	return c.AddDevice(device)
}

// RemoveDevice cancels the device's tasks and waits for in-flight polls to
// finish. It returns the number of removed tasks.
func (c *Coordinator) RemoveDevice(deviceID string) int {
	c.mu.Lock()
	keys := c.devices[deviceID]
	delete(c.devices, deviceID)
	removed := make([]handle, 0, len(keys))
	for _, key := range keys {
		if t, ok := c.tasks[key]; ok {
			removed = append(removed, handle{cancel: t.cancel, done: t.done})
			delete(c.tasks, key)
		}
	}
	c.mu.Unlock()

	for _, h := range removed {
		if h.cancel != nil {
			h.cancel()
		}
	}
	for _, h := range removed {
		if h.done != nil {
			<-h.done
		}
	}
	if len(removed) > 0 {
		metrics.AddPollTasks(-len(removed))
	}
	return len(removed)
}

// SetPaused pauses or resumes the device's data and energy tasks. The status
// task is never paused. Resumed tasks fire immediately.
func (c *Coordinator) SetPaused(deviceID string, paused bool) {
	c.mu.Lock()
	keys := c.devices[deviceID]
	targets := make([]*task, 0, len(keys))
	for _, key := range keys {
		if key.Category == devices.CategoryStatus {
			continue
		}
		if t, ok := c.tasks[key]; ok {
			targets = append(targets, t)
		}
	}
	c.mu.Unlock()

	now := c.clock.Now()
	for _, t := range targets {
		t.mu.Lock()
		changed := t.state.Paused != paused
		t.state.Paused = paused
		if changed && !paused {
			t.state.NextDue = now
		}
		t.mu.Unlock()
		if changed {
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
	}
	if len(targets) > 0 {
		c.logger.Info().Str("device_id", deviceID).Bool("paused", paused).Msg("data polling paused state changed")
	}
}

// Tasks returns a snapshot of the device's tasks in catalog order. An empty
// device id returns every task.
func (c *Coordinator) Tasks(deviceID string) []polling.Task {
	c.mu.Lock()
	var selected []*task
	if deviceID == "" {
		for _, t := range c.tasks {
			selected = append(selected, t)
		}
	} else {
		for _, key := range c.devices[deviceID] {
			if t, ok := c.tasks[key]; ok {
				selected = append(selected, t)
			}
		}
	}
	c.mu.Unlock()

	out := make([]polling.Task, 0, len(selected))
	for _, t := range selected {
		out = append(out, t.snapshot())
	}
	if deviceID == "" {
		sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	}
	return out
}

func (c *Coordinator) newBackoff(interval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = c.maxBackoff
	if b.MaxInterval < interval {
		b.MaxInterval = interval
	}
	b.Reset()
	return b
}

func (c *Coordinator) launchLocked(t *task) {
	ctx, cancel := context.WithCancel(c.root)
	t.cancel = cancel
	t.done = make(chan struct{})
	go c.run(ctx, t, t.done)
}

func (c *Coordinator) run(ctx context.Context, t *task, done chan struct{}) {
	defer close(done)
	for {
		snap := t.snapshot()
		if snap.Paused {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
				continue
			}
		}
		wait := snap.NextDue.Sub(c.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}
		c.step(ctx, t, c.clock.Now())
	}
}

// step fires the task once if it is due at now. It reports whether a poll ran.
func (c *Coordinator) step(ctx context.Context, t *task, now time.Time) bool {
	snap := t.snapshot()
	if !snap.Due(now) {
		return false
	}

	started := time.Now()
	result, err := c.fetcher.Fetch(ctx, snap.Key, snap.Address, snap.Endpoint)
	elapsed := time.Since(started)
	if ctx.Err() != nil {
		return true
	}
	finished := c.clock.Now()

	t.mu.Lock()
	t.state.LastPoll = finished
	if err != nil {
		t.state.Failures++
		t.state.NextDue = finished.Add(t.backoff.NextBackOff())
		result = polling.Result{Key: snap.Key, At: finished, Err: err, Failures: t.state.Failures}
	} else {
		t.state.Failures = 0
		t.backoff.Reset()
		t.state.NextDue = finished.Add(t.state.Interval)
		result.Key = snap.Key
		result.At = finished
		stampSample(&result, finished)
		sampleAt := result.SampleTime()
		if sampleAt.Before(t.lastSample) {
			c.logger.Debug().
				Str("device_id", snap.Key.DeviceID).
				Str("category", string(snap.Key.Category)).
				Time("sample_ts", sampleAt).
				Time("last_ts", t.lastSample).
				Msg("out-of-order sample dropped")
			dropSample(&result)
		} else {
			t.lastSample = sampleAt
		}
	}
	nextDue := t.state.NextDue
	t.mu.Unlock()

	c.observe(snap.Key, err, elapsed, nextDue)
	c.sink.HandlePollResult(ctx, result)
	return true
}

func (c *Coordinator) observe(key polling.Key, err error, elapsed time.Duration, nextDue time.Time) {
	switch {
	case err == nil:
		metrics.ObservePoll(string(key.Category), metrics.PollResultSuccess, elapsed)
	case errors.Is(err, polling.ErrMalformedResponse):
		metrics.ObservePoll(string(key.Category), metrics.PollResultMalformed, elapsed)
		c.logger.Warn().
			Err(err).
			Str("device_id", key.DeviceID).
			Str("category", string(key.Category)).
			Time("next_due", nextDue).
			Msg("malformed device response")
	default:
		metrics.ObservePoll(string(key.Category), metrics.PollResultTransient, elapsed)
		c.logger.Debug().
			Err(err).
			Str("device_id", key.DeviceID).
			Str("category", string(key.Category)).
			Time("next_due", nextDue).
			Msg("device poll failed")
	}
}

func stampSample(result *polling.Result, at time.Time) {
	switch {
	case result.Power != nil && result.Power.TS.IsZero():
		result.Power.TS = at
	case result.Energy != nil && result.Energy.TS.IsZero():
		result.Energy.TS = at
	case result.Motion != nil && result.Motion.TS.IsZero():
		result.Motion.TS = at
	case result.Battery != nil && result.Battery.TS.IsZero():
		result.Battery.TS = at
	}
}

func dropSample(result *polling.Result) {
	result.Power = nil
	result.Energy = nil
	result.Motion = nil
	result.Battery = nil
}
