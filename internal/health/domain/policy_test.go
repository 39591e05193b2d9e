package health

import (
	"errors"
	"testing"
	"time"
)

var errTimeout = errors.New("timeout")

func testPolicy() Policy {
	return Policy{FailureThreshold: 3, StaleAfter: 5 * time.Minute}
}

func TestInitialRecordIsOffline(t *testing.T) {
	rec := NewRecord("d1", time.Unix(0, 0))
	if rec.Status != StatusOffline {
		t.Fatalf("expected offline, got %s", rec.Status)
	}
}

func TestSuccessGoesOnlineImmediately(t *testing.T) {
	p := testPolicy()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecord("d1", now)
	rec.ConsecutiveFailures = 9

	rec, tr := p.Apply(rec, Observation{At: now.Add(time.Second), Success: true})
	if tr == nil || tr.From != StatusOffline || tr.To != StatusOnline {
		t.Fatalf("expected offline->online, got %+v", tr)
	}
	if rec.ConsecutiveFailures != 0 || !rec.LastContactAt.Equal(now.Add(time.Second)) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestThresholdFailuresThenStaleness(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, _ := p.Apply(NewRecord("d1", start), Observation{At: start, Success: true})

	var transitions []Transition
	for i := 1; i <= 3; i++ {
		var tr *Transition
		rec, tr = p.Apply(rec, Observation{At: start.Add(time.Duration(i) * 10 * time.Second), Err: errTimeout})
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	if len(transitions) != 1 || transitions[0].To != StatusError {
		t.Fatalf("expected one transition to error, got %+v", transitions)
	}
	if rec.LastError != "timeout" || rec.ConsecutiveFailures != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, tr := p.Apply(rec, Observation{At: start.Add(6 * time.Minute), Err: errTimeout})
	if tr == nil || tr.From != StatusError || tr.To != StatusOffline {
		t.Fatalf("expected error->offline, got %+v", tr)
	}

	rec, tr = p.Apply(rec, Observation{At: start.Add(7 * time.Minute), Success: true})
	if tr == nil || tr.From != StatusOffline || tr.To != StatusOnline {
		t.Fatalf("expected offline->online, got %+v", tr)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Fatalf("failures not reset")
	}
}

func TestNeverContactedStaysOffline(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecord("d1", start)

	for i := 1; i <= 3; i++ {
		var tr *Transition
		rec, tr = p.Apply(rec, Observation{At: start.Add(time.Duration(i) * 10 * time.Second), Err: errTimeout})
		if tr != nil {
			t.Fatalf("failure %d: unexpected transition %+v", i, tr)
		}
	}
	if rec.Status != StatusOffline || rec.ConsecutiveFailures != 3 || rec.LastError != errTimeout.Error() {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, tr := p.Sweep(rec, start.Add(time.Hour)); tr != nil {
		t.Fatalf("sweep of offline record transitioned: %+v", tr)
	}
}

func TestFailuresBelowThresholdStayOnline(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, _ := p.Apply(NewRecord("d1", start), Observation{At: start, Success: true})
	for i := 1; i <= 2; i++ {
		var tr *Transition
		rec, tr = p.Apply(rec, Observation{At: start.Add(time.Duration(i) * time.Second), Err: errTimeout})
		if tr != nil {
			t.Fatalf("unexpected transition %+v", tr)
		}
	}
	if rec.Status != StatusOnline {
		t.Fatalf("expected online, got %s", rec.Status)
	}
}

func TestStaleFailureIgnored(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, _ := p.Apply(NewRecord("d1", start), Observation{At: start.Add(time.Minute), Success: true})
	next, tr := p.Apply(rec, Observation{At: start, Err: errTimeout})
	if tr != nil || next.ConsecutiveFailures != 0 {
		t.Fatalf("failure before last contact must be ignored, got %+v %+v", next, tr)
	}
}

func TestSweepMarksOfflineFromError(t *testing.T) {
	p := testPolicy()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{DeviceID: "d1", Status: StatusError, LastContactAt: start, ConsecutiveFailures: 3}

	if _, tr := p.Sweep(rec, start.Add(4*time.Minute)); tr != nil {
		t.Fatalf("sweep before staleness must not transition")
	}
	rec, tr := p.Sweep(rec, start.Add(5*time.Minute))
	if tr == nil || tr.To != StatusOffline || rec.Status != StatusOffline {
		t.Fatalf("expected offline after sweep, got %+v", tr)
	}
	if _, tr := p.Sweep(rec, start.Add(10*time.Minute)); tr != nil {
		t.Fatalf("offline device must not transition again")
	}
}

func TestStatusLevels(t *testing.T) {
	if StatusOnline.Level() != 0 || StatusError.Level() != 1 || StatusOffline.Level() != 2 {
		t.Fatalf("unexpected levels")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{}).Validate(); err == nil {
		t.Fatalf("expected error for zero policy")
	}
	if err := testPolicy().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
