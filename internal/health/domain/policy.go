package health

import (
	"errors"
	"time"
)

// Observation is one poll outcome as seen by the reconciler.
type Observation struct {
	At      time.Time
	Success bool
	Err     error
}

// Policy holds the state machine thresholds.
type Policy struct {
	FailureThreshold int
	StaleAfter       time.Duration
}

// Validate checks the thresholds.
func (p Policy) Validate() error {
	if p.FailureThreshold <= 0 {
		return errors.New("health: failure threshold must be positive")
	}
	if p.StaleAfter <= 0 {
		return errors.New("health: stale duration must be positive")
	}
	return nil
}

// Apply folds an observation into the record. It returns the new record and
// the transition, if any. A failure older than the last contact is ignored.
func (p Policy) Apply(rec Record, obs Observation) (Record, *Transition) {
	if obs.Success {
		if obs.At.Before(rec.LastContactAt) {
			return rec, nil
		}
		rec.LastContactAt = obs.At
		rec.ConsecutiveFailures = 0
		rec.LastError = ""
		rec.UpdatedAt = obs.At
		return p.move(rec, StatusOnline, obs.At, "poll succeeded")
	}

	if !rec.LastContactAt.IsZero() && obs.At.Before(rec.LastContactAt) {
		return rec, nil
	}
	rec.ConsecutiveFailures++
	if obs.Err != nil {
		rec.LastError = obs.Err.Error()
	}
	rec.UpdatedAt = obs.At

	if p.stale(rec, obs.At) && rec.Status != StatusOffline {
		return p.move(rec, StatusOffline, obs.At, "no contact within staleness window")
	}
	if rec.Status == StatusOnline && rec.ConsecutiveFailures >= p.FailureThreshold {
		return p.move(rec, StatusError, obs.At, "consecutive poll failures")
	}
	return rec, nil
}

// Sweep applies the staleness rule at now without a new observation.
func (p Policy) Sweep(rec Record, now time.Time) (Record, *Transition) {
	if rec.Status == StatusOffline || !p.stale(rec, now) {
		return rec, nil
	}
	rec.UpdatedAt = now
	return p.move(rec, StatusOffline, now, "no contact within staleness window")
}

// stale reports whether the last contact is outside the staleness window. A
// device never contacted is always stale, so it cannot reach error.
func (p Policy) stale(rec Record, now time.Time) bool {
	if rec.LastContactAt.IsZero() {
		return true
	}
	return now.Sub(rec.LastContactAt) >= p.StaleAfter
}

func (p Policy) move(rec Record, to Status, at time.Time, reason string) (Record, *Transition) {
	if rec.Status == to {
		return rec, nil
	}
	tr := &Transition{DeviceID: rec.DeviceID, From: rec.Status, To: to, At: at, Reason: reason}
	rec.Status = to
	rec.ChangedAt = at
	return rec, tr
}
