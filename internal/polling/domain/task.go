package polling

import (
	"errors"
	"time"

	devices "homewatch/internal/devices/domain"
)

var (
	// ErrTransientNetwork covers timeouts, refused connections and 5xx replies.
	ErrTransientNetwork = errors.New("polling: transient network error")

	// ErrMalformedResponse covers non-JSON bodies, schema mismatches and 4xx replies.
	ErrMalformedResponse = errors.New("polling: malformed response")

	// ErrTaskNotFound indicates a missing poll task.
	ErrTaskNotFound = errors.New("polling: task not found")
)

// Key identifies a poll task.
type Key struct {
	DeviceID string           `json:"device_id"`
	Category devices.Category `json:"category"`
}

func (k Key) String() string {
	return k.DeviceID + "/" + string(k.Category)
}

// Intervals holds the three cadence classes.
type Intervals struct {
	Status time.Duration
	Data   time.Duration
	Energy time.Duration
}

// For returns the interval of a class.
func (i Intervals) For(class devices.IntervalClass) time.Duration {
	switch class {
	case devices.IntervalStatus:
		return i.Status
	case devices.IntervalEnergy:
		return i.Energy
	default:
		return i.Data
	}
}

// Validate checks every interval is positive.
func (i Intervals) Validate() error {
	if i.Status <= 0 || i.Data <= 0 || i.Energy <= 0 {
		return errors.New("polling: intervals must be positive")
	}
	return nil
}

// Task is a snapshot of one scheduled fetch.
type Task struct {
	Key      Key           `json:"key"`
	Address  string        `json:"address"`
	Endpoint string        `json:"endpoint"`
	Interval time.Duration `json:"interval"`
	NextDue  time.Time     `json:"next_due"`
	Failures int           `json:"consecutive_failures"`
	Paused   bool          `json:"paused"`
	LastPoll time.Time     `json:"last_poll,omitempty"`
}

// Due reports whether the task should fire at now.
func (t Task) Due(now time.Time) bool {
	return !t.Paused && !t.NextDue.After(now)
}

// Result is the outcome of one poll firing. Exactly one sample field is set on
// success for data categories; status polls carry none.
type Result struct {
	Key      Key       `json:"key"`
	At       time.Time `json:"at"`
	Err      error     `json:"-"`
	Failures int       `json:"consecutive_failures"`

	Power   *PowerSample   `json:"power,omitempty"`
	Energy  *EnergySample  `json:"energy,omitempty"`
	Motion  *MotionSample  `json:"motion,omitempty"`
	Battery *BatterySample `json:"battery,omitempty"`
}

// OK reports whether the poll succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// PowerSample is a decoded power payload.
type PowerSample struct {
	TS      time.Time
	Watts   float64
	Voltage *float64
	Current *float64
}

// EnergySample is a decoded energy payload.
type EnergySample struct {
	TS      time.Time
	TotalWh float64
}

// MotionSample is a decoded motion payload.
type MotionSample struct {
	TS          time.Time
	Detected    bool
	Lux         *float64
	Temperature *float64
}

// BatterySample is a decoded battery payload.
type BatterySample struct {
	TS      time.Time
	Percent float64
}

// SampleTime returns the timestamp of the carried sample, or the poll time.
func (r Result) SampleTime() time.Time {
	switch {
	case r.Power != nil && !r.Power.TS.IsZero():
		return r.Power.TS
	case r.Energy != nil && !r.Energy.TS.IsZero():
		return r.Energy.TS
	case r.Motion != nil && !r.Motion.TS.IsZero():
		return r.Motion.TS
	case r.Battery != nil && !r.Battery.TS.IsZero():
		return r.Battery.TS
	default:
		return r.At
	}
}
