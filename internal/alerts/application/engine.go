package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerts "homewatch/internal/alerts/domain"
	devices "homewatch/internal/devices/domain"
	health "homewatch/internal/health/domain"
	"homewatch/internal/observability/metrics"
)

// Event types handed to notifiers.
const (
	EventOpened    = "opened"
	EventResolved  = "resolved"
	EventEscalated = "escalated"
)

// Notifier publishes alert lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Event represents an alert lifecycle update.
type Event struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
	Rule  alerts.Rule  `json:"rule"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Target identifies the device being evaluated and its owner.
type Target struct {
	DeviceID string
	OwnerID  string
}

// Sample is one value of a category observed on a device.
type Sample struct {
	Category devices.Category
	Value    float64
	At       time.Time
	Payload  map[string]any
}

// Engine evaluates rules and owns the alert lifecycle. Callers serialize calls
// per device; the engine itself holds no locks.
type Engine struct {
	rules         alerts.RuleRepository
	alerts        alerts.AlertRepository
	history       alerts.HistoryRepository
	notifier      Notifier
	clock         Clock
	logger        zerolog.Logger
	escalateAfter time.Duration
	newID         func() string
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEscalateAfter sets how long an alert stays open before it escalates.
// Zero disables escalation.
func WithEscalateAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.escalateAfter = d
		}
	}
}

// WithIDGenerator overrides alert and history id generation.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine constructs an alert engine.
func NewEngine(rules alerts.RuleRepository, alertRepo alerts.AlertRepository, history alerts.HistoryRepository, opts ...EngineOption) (*Engine, error) {
	if rules == nil || alertRepo == nil || history == nil {
		return nil, errors.New("alerts: nil repository")
	}
	e := &Engine{
		rules:   rules,
		alerts:  alertRepo,
		history: history,
		clock:   systemClock{},
		logger:  zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = e.logger.With().Str("component", "alerts").Logger()
	return e, nil
}

// EvaluateSample runs every matching rule of the sample's category. Rule
// failures are joined; the remaining rules still run.
func (e *Engine) EvaluateSample(ctx context.Context, target Target, sample Sample) error {
	if target.DeviceID == "" {
		return errors.New("alerts: empty device id")
	}
	rules, err := e.rules.ListCandidates(ctx, target.DeviceID, target.OwnerID, string(sample.Category))
	if err != nil {
		return fmt.Errorf("alerts: list rules: %w", err)
	}
	at := atOrNow(sample.At, e.clock)
	var errs []error
	for _, rule := range rules {
		if !rule.Matches(target.DeviceID, target.OwnerID) {
			continue
		}
		if err := e.evaluateRule(ctx, rule, target.DeviceID, sample, at); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EvaluateStatus runs status rules against the new status level and drops
// live-data alerts whose signal can no longer be trusted.
func (e *Engine) EvaluateStatus(ctx context.Context, target Target, tr health.Transition) error {
	at := atOrNow(tr.At, e.clock)
	err := e.EvaluateSample(ctx, target, Sample{
		Category: devices.CategoryStatus,
		Value:    tr.To.Level(),
		At:       at,
		Payload: map[string]any{
			"from":   string(tr.From),
			"to":     string(tr.To),
			"reason": tr.Reason,
		},
	})
	if tr.To == health.StatusOffline || (tr.From == health.StatusOffline && tr.To == health.StatusOnline) {
		forced := e.ForceResolveCategories(ctx, target.DeviceID, devices.Category.LiveData, alerts.ReasonSignalLost, at)
		err = errors.Join(err, forced)
	}
	return err
}

// ForceResolveDevice resolves every open alert of a device.
func (e *Engine) ForceResolveDevice(ctx context.Context, deviceID, reason string) error {
	return e.ForceResolveCategories(ctx, deviceID, func(devices.Category) bool { return true }, reason, e.clock.Now().UTC())
}

// ForceResolveCategories resolves the device's open alerts whose category
// passes match. Forced resolutions do not start a cooldown.
func (e *Engine) ForceResolveCategories(ctx context.Context, deviceID string, match func(devices.Category) bool, reason string, at time.Time) error {
	open, err := e.alerts.ListOpenByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("alerts: list open: %w", err)
	}
	var errs []error
	for i := range open {
		alert := open[i]
		if !match(devices.Category(alert.Category)) {
			continue
		}
		if err := e.resolve(ctx, &alert, nil, at, reason); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ResolveAlert resolves a single open alert. Resolved alerts are returned unchanged.
func (e *Engine) ResolveAlert(ctx context.Context, alertID, reason string) (*alerts.Alert, error) {
	alert, err := e.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if !alert.Open() {
		return alert, nil
	}
	if err := e.resolve(ctx, alert, nil, e.clock.Now().UTC(), reason); err != nil {
		return nil, err
	}
	return alert, nil
}

// ResolveOrphaned resolves the device's open alerts whose rule no longer exists.
func (e *Engine) ResolveOrphaned(ctx context.Context, deviceID string) error {
	open, err := e.alerts.ListOpenByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("alerts: list open: %w", err)
	}
	var errs []error
	for i := range open {
		alert := open[i]
		rule, err := e.rules.Get(ctx, alert.RuleID)
		if err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
			continue
		}
		if rule != nil {
			continue
		}
		orphan := alerts.Rule{ID: alert.RuleID}
		if err := e.resolve(ctx, &alert, &orphan, e.clock.Now().UTC(), alerts.ReasonRuleDeleted); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EscalateDevice raises the severity of the device's alerts that have been open
// longer than the escalation threshold. Each alert escalates at most once.
func (e *Engine) EscalateDevice(ctx context.Context, deviceID string, now time.Time) error {
	if e.escalateAfter <= 0 {
		return nil
	}
	open, err := e.alerts.ListOpenByDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("alerts: list open: %w", err)
	}
	var errs []error
	for i := range open {
		alert := open[i]
		if !alert.EscalatedAt.IsZero() || now.Sub(alert.TriggeredAt) < e.escalateAfter {
			continue
		}
		alert.Severity = alert.Severity.Escalate()
		alert.EscalatedAt = now
		alert.UpdatedAt = now
		if err := e.alerts.Update(ctx, &alert); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", alert.ID, err))
			continue
		}
		e.appendHistory(ctx, alert, alerts.HistoryEscalated, "open longer than "+e.escalateAfter.String(), now)
		e.notify(ctx, EventEscalated, alert, e.ruleFor(ctx, alert.RuleID))
	}
	return errors.Join(errs...)
}

func (e *Engine) evaluateRule(ctx context.Context, rule alerts.Rule, deviceID string, sample Sample, at time.Time) error {
	open, err := e.alerts.FindOpen(ctx, rule.ID, deviceID)
	if err != nil {
		return err
	}
	triggered := rule.Comparator.Compare(sample.Value, rule.Threshold)

	if open != nil {
		if triggered {
			e.logger.Debug().Str("device_id", deviceID).Str("rule_id", rule.ID).Msg("alert already open")
			return nil
		}
		open.Value = sample.Value
		return e.resolve(ctx, open, &rule, at, alerts.ReasonConditionCleared)
	}
	if !triggered {
		return nil
	}

	if rule.Cooldown > 0 {
		last, err := e.alerts.LastResolved(ctx, rule.ID, deviceID, alerts.ReasonConditionCleared)
		if err != nil {
			return err
		}
		if last != nil && at.Before(last.ResolvedAt.Add(rule.Cooldown)) {
			metrics.IncAlertSuppressed()
			e.logger.Debug().
				Str("device_id", deviceID).
				Str("rule_id", rule.ID).
				Time("cooldown_until", last.ResolvedAt.Add(rule.Cooldown)).
				Msg("alert suppressed by cooldown")
			return nil
		}
	}

	now := e.clock.Now().UTC()
	alert := &alerts.Alert{
		ID:          e.newID(),
		RuleID:      rule.ID,
		DeviceID:    deviceID,
		Category:    rule.Category,
		Severity:    rule.Severity,
		Value:       sample.Value,
		Payload:     sample.Payload,
		TriggeredAt: at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		if errors.Is(err, alerts.ErrAlertAlreadyOpen) {
			return nil
		}
		return err
	}
	e.appendHistory(ctx, *alert, alerts.HistoryOpened, "", at)
	e.notify(ctx, EventOpened, *alert, rule)
	return nil
}

func (e *Engine) resolve(ctx context.Context, alert *alerts.Alert, rule *alerts.Rule, at time.Time, reason string) error {
	if at.Before(alert.TriggeredAt) {
		at = alert.TriggeredAt
	}
	alert.ResolvedAt = at
	alert.ResolveReason = reason
	alert.UpdatedAt = e.clock.Now().UTC()
	if err := e.alerts.Update(ctx, alert); err != nil {
		return err
	}
	e.appendHistory(ctx, *alert, alerts.HistoryResolved, reason, at)
	if rule == nil {
		r := e.ruleFor(ctx, alert.RuleID)
		rule = &r
	}
	e.notify(ctx, EventResolved, *alert, *rule)
	return nil
}

func (e *Engine) appendHistory(ctx context.Context, alert alerts.Alert, kind alerts.HistoryKind, reason string, at time.Time) {
	entry := alerts.HistoryEntry{
		ID:       e.newID(),
		AlertID:  alert.ID,
		RuleID:   alert.RuleID,
		DeviceID: alert.DeviceID,
		Kind:     kind,
		Severity: alert.Severity,
		Reason:   reason,
		Value:    alert.Value,
		At:       at,
	}
	if err := e.history.Append(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("alert_id", alert.ID).Str("kind", string(kind)).Msg("append alert history")
	}
}

func (e *Engine) ruleFor(ctx context.Context, ruleID string) alerts.Rule {
	rule, err := e.rules.Get(ctx, ruleID)
	if err != nil || rule == nil {
		return alerts.Rule{ID: ruleID}
	}
	return *rule
}

func (e *Engine) notify(ctx context.Context, eventType string, alert alerts.Alert, rule alerts.Rule) {
	metrics.IncAlertEvent(eventType)
	e.logger.Debug().
		Str("event", eventType).
		Str("alert_id", alert.ID).
		Str("rule_id", alert.RuleID).
		Str("device_id", alert.DeviceID).
		Str("severity", string(alert.Severity)).
		Msg("alert event")
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, Event{Type: eventType, Alert: alert, Rule: rule})
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
