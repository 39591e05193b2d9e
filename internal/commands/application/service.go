package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	commands "homewatch/internal/commands/domain"
	devices "homewatch/internal/devices/domain"
	"homewatch/internal/observability/metrics"
)

// IssueRequest represents a command issue request.
type IssueRequest struct {
	DeviceID       string         `json:"-"`
	Action         devices.Action `json:"action" binding:"required"`
	Value          *int           `json:"value"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// DeviceLookup resolves registered devices.
type DeviceLookup interface {
	Get(ctx context.Context, id string) (devices.Device, error)
}

// Sender delivers a control to a device.
type Sender interface {
	Command(ctx context.Context, address string, control devices.Control, value *int) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service handles command issuance.
type Service struct {
	devices        DeviceLookup
	catalog        *devices.Catalog
	sender         Sender
	clock          Clock
	logger         zerolog.Logger
	idempotencyTTL time.Duration

	mu     sync.Mutex
	recent map[string]commands.Command
}

// Option customizes the service.
type Option func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithIdempotencyTTL sets how long an idempotency key replays its command.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idempotencyTTL = d
		}
	}
}

// NewService constructs a command service.
func NewService(lookup DeviceLookup, catalog *devices.Catalog, sender Sender, opts ...Option) (*Service, error) {
	if lookup == nil {
		return nil, errors.New("commands: nil device lookup")
	}
	if catalog == nil {
		return nil, errors.New("commands: nil catalog")
	}
	if sender == nil {
		return nil, errors.New("commands: nil sender")
	}
	s := &Service{
		devices:        lookup,
		catalog:        catalog,
		sender:         sender,
		clock:          systemClock{},
		logger:         zerolog.Nop(),
		idempotencyTTL: 10 * time.Minute,
		recent:         make(map[string]commands.Command),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With().Str("component", "commands").Logger()
	return s, nil
}

// IssueCommand sends a control to a device. A request repeating a recent
// idempotency key returns the earlier command without resending it.
func (s *Service) IssueCommand(ctx context.Context, req IssueRequest) (*commands.Command, error) {
	if err := validateIssue(req); err != nil {
		return nil, err
	}
	device, err := s.devices.Get(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	action := devices.Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	control, ok := s.catalog.Control(device.Type, action)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", commands.ErrUnsupportedAction, action, device.Type)
	}
	if control.ValueParam != "" && req.Value == nil {
		return nil, fmt.Errorf("%w: %s requires a value", commands.ErrInvalidCommand, action)
	}

	now := s.clock.Now()
	key := req.IdempotencyKey
	if key != "" {
		if existing, ok := s.lookupRecent(key, now); ok {
			return &existing, nil
		}
	}
	if key == "" {
		key = buildIdempotencyKey(device.ID, action, req.Value, now)
	}

	cmd := commands.Command{
		CommandID:      "cmd-" + buildShortID(device.ID+string(action)+now.Format(time.RFC3339Nano)),
		DeviceID:       device.ID,
		Action:         action,
		Value:          req.Value,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	sendErr := s.sender.Command(ctx, device.Address, control, req.Value)
	cmd.SentAt = s.clock.Now()
	if sendErr != nil {
		cmd.Status = commands.StatusFailed
		cmd.Error = sendErr.Error()
		metrics.IncCommand(string(action), metrics.ResultError)
		s.logger.Warn().Err(sendErr).Str("device_id", device.ID).Str("action", string(action)).Msg("command failed")
	} else {
		cmd.Status = commands.StatusSent
		metrics.IncCommand(string(action), metrics.ResultSuccess)
		s.logger.Info().Str("device_id", device.ID).Str("action", string(action)).Str("command_id", cmd.CommandID).Msg("command sent")
	}
	if req.IdempotencyKey != "" {
		s.remember(cmd)
	}
	if sendErr != nil {
		return &cmd, sendErr
	}
	return &cmd, nil
}

func (s *Service) lookupRecent(key string, now time.Time) (commands.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, cmd := range s.recent {
		if now.Sub(cmd.CreatedAt) > s.idempotencyTTL {
			delete(s.recent, k)
		}
	}
	cmd, ok := s.recent[key]
	return cmd, ok
}

func (s *Service) remember(cmd commands.Command) {
	s.mu.Lock()
	s.recent[cmd.IdempotencyKey] = cmd
	s.mu.Unlock()
}

func validateIssue(req IssueRequest) error {
	if strings.TrimSpace(req.DeviceID) == "" {
		return fmt.Errorf("%w: device_id required", commands.ErrInvalidCommand)
	}
	if strings.TrimSpace(string(req.Action)) == "" {
		return fmt.Errorf("%w: action required", commands.ErrInvalidCommand)
	}
	if req.Value != nil && (*req.Value < 0 || *req.Value > 100) {
		return fmt.Errorf("%w: value must be between 0 and 100", commands.ErrInvalidCommand)
	}
	return nil
}

func buildIdempotencyKey(deviceID string, action devices.Action, value *int, at time.Time) string {
	v := ""
	if value != nil {
		v = strconv.Itoa(*value)
	}
	hash := sha1.Sum([]byte(deviceID + "|" + string(action) + "|" + v + "|" + at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(hash[:])
}

func buildShortID(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:8])
}
