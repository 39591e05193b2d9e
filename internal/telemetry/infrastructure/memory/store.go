package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "homewatch/internal/telemetry/domain"
)

type sampleKey struct {
	deviceID string
	ts       int64
}

// Store is an in-process telemetry sink used for tests and dry runs.
type Store struct {
	mu     sync.RWMutex
	power  map[sampleKey]telemetry.PowerReading
	energy map[sampleKey]telemetry.EnergyReading
	motion map[sampleKey]telemetry.MotionEvent
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		power:  make(map[sampleKey]telemetry.PowerReading),
		energy: make(map[sampleKey]telemetry.EnergyReading),
		motion: make(map[sampleKey]telemetry.MotionEvent),
	}
}

func keyOf(deviceID string, ts time.Time) sampleKey {
	return sampleKey{deviceID: deviceID, ts: ts.UnixNano()}
}

// AppendPowerReading stores a power sample once.
func (s *Store) AppendPowerReading(_ context.Context, reading telemetry.PowerReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOf(reading.DeviceID, reading.TS)
	if _, ok := s.power[key]; !ok {
		s.power[key] = reading
	}
	return nil
}

// AppendEnergyReading stores an energy sample once.
func (s *Store) AppendEnergyReading(_ context.Context, reading telemetry.EnergyReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOf(reading.DeviceID, reading.TS)
	if _, ok := s.energy[key]; !ok {
		s.energy[key] = reading
	}
	return nil
}

// AppendMotionEvent stores a motion sample once.
func (s *Store) AppendMotionEvent(_ context.Context, event telemetry.MotionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyOf(event.DeviceID, event.TS)
	if _, ok := s.motion[key]; !ok {
		s.motion[key] = event
	}
	return nil
}

// ListPowerReadings returns stored power samples in time order.
func (s *Store) ListPowerReadings(_ context.Context, deviceID string, r telemetry.Range) ([]telemetry.PowerReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []telemetry.PowerReading
	for key, reading := range s.power {
		if key.deviceID == deviceID && r.Contains(reading.TS) {
			out = append(out, reading)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return limit(out, r.Limit), nil
}

// ListEnergyReadings returns stored energy samples in time order.
func (s *Store) ListEnergyReadings(_ context.Context, deviceID string, r telemetry.Range) ([]telemetry.EnergyReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []telemetry.EnergyReading
	for key, reading := range s.energy {
		if key.deviceID == deviceID && r.Contains(reading.TS) {
			out = append(out, reading)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return limit(out, r.Limit), nil
}

// ListMotionEvents returns stored motion samples in time order.
func (s *Store) ListMotionEvents(_ context.Context, deviceID string, r telemetry.Range) ([]telemetry.MotionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []telemetry.MotionEvent
	for key, event := range s.motion {
		if key.deviceID == deviceID && r.Contains(event.TS) {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return limit(out, r.Limit), nil
}

// Count returns the number of stored samples of all kinds for a device.
func (s *Store) Count(deviceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.power {
		if key.deviceID == deviceID {
			n++
		}
	}
	for key := range s.energy {
		if key.deviceID == deviceID {
			n++
		}
	}
	for key := range s.motion {
		if key.deviceID == deviceID {
			n++
		}
	}
	return n
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
