package application

import (
	"context"
	"errors"
	"testing"
	"time"

	commands "homewatch/internal/commands/domain"
	devices "homewatch/internal/devices/domain"
)

type stubLookup map[string]devices.Device

func (s stubLookup) Get(_ context.Context, id string) (devices.Device, error) {
	device, ok := s[id]
	if !ok {
		return devices.Device{}, devices.ErrNotFound
	}
	return device, nil
}

type sentCommand struct {
	address string
	control devices.Control
	value   *int
}

type stubSender struct {
	sent []sentCommand
	err  error
}

func (s *stubSender) Command(_ context.Context, address string, control devices.Control, value *int) error {
	s.sent = append(s.sent, sentCommand{address: address, control: control, value: value})
	return s.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, sender *stubSender) *Service {
	t.Helper()
	lookup := stubLookup{
		"plug":   {ID: "plug", Type: devices.TypePlus1PM, Address: "10.0.0.2"},
		"dimmer": {ID: "dimmer", Type: devices.TypeDimmer2, Address: "10.0.0.3"},
		"motion": {ID: "motion", Type: devices.TypeMotion, Address: "10.0.0.4"},
	}
	svc, err := NewService(lookup, devices.DefaultCatalog(), sender, WithClock(fixedClock{now: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func intPtr(v int) *int { return &v }

func TestIssueCommandRoutesToControl(t *testing.T) {
	sender := &stubSender{}
	svc := newTestService(t, sender)

	cmd, err := svc.IssueCommand(context.Background(), IssueRequest{DeviceID: "plug", Action: "Turn_On"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cmd.Status != commands.StatusSent || cmd.Action != devices.ActionTurnOn {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if len(sender.sent) != 1 || sender.sent[0].address != "10.0.0.2" || sender.sent[0].control.Endpoint != "/relay" {
		t.Fatalf("unexpected send %+v", sender.sent)
	}

	if _, err := svc.IssueCommand(context.Background(), IssueRequest{DeviceID: "dimmer", Action: devices.ActionBrightness, Value: intPtr(40)}); err != nil {
		t.Fatalf("brightness: %v", err)
	}
	if got := sender.sent[1]; got.control.ValueParam != "brightness" || *got.value != 40 {
		t.Fatalf("unexpected brightness send %+v", got)
	}
}

func TestIssueCommandErrors(t *testing.T) {
	cases := []struct {
		name string
		req  IssueRequest
		want error
	}{
		{"unsupported action", IssueRequest{DeviceID: "motion", Action: devices.ActionTurnOn}, commands.ErrUnsupportedAction},
		{"missing value", IssueRequest{DeviceID: "dimmer", Action: devices.ActionBrightness}, commands.ErrInvalidCommand},
		{"value out of range", IssueRequest{DeviceID: "dimmer", Action: devices.ActionBrightness, Value: intPtr(120)}, commands.ErrInvalidCommand},
		{"missing action", IssueRequest{DeviceID: "plug"}, commands.ErrInvalidCommand},
		{"unknown device", IssueRequest{DeviceID: "ghost", Action: devices.ActionToggle}, devices.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &stubSender{}
			svc := newTestService(t, sender)
			if _, err := svc.IssueCommand(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(sender.sent) != 0 {
				t.Fatalf("nothing should be sent")
			}
		})
	}
}

func TestIssueCommandIdempotencyKeyReplays(t *testing.T) {
	sender := &stubSender{}
	svc := newTestService(t, sender)
	req := IssueRequest{DeviceID: "plug", Action: devices.ActionToggle, IdempotencyKey: "k1"}

	first, err := svc.IssueCommand(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.IssueCommand(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.CommandID != second.CommandID || len(sender.sent) != 1 {
		t.Fatalf("expected replay without resend, sent %d", len(sender.sent))
	}
}

func TestIssueCommandSendFailure(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused")}
	svc := newTestService(t, sender)

	cmd, err := svc.IssueCommand(context.Background(), IssueRequest{DeviceID: "plug", Action: devices.ActionReboot})
	if err == nil {
		t.Fatalf("expected send error")
	}
	if cmd == nil || cmd.Status != commands.StatusFailed || cmd.Error == "" {
		t.Fatalf("unexpected failed command %+v", cmd)
	}
}
