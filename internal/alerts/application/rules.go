package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	alerts "homewatch/internal/alerts/domain"
)

// Queries serves rule management and alert reads for the API.
type Queries struct {
	rules           alerts.RuleRepository
	alerts          alerts.AlertRepository
	history         alerts.HistoryRepository
	clock           Clock
	defaultCooldown time.Duration
}

// QueriesOption customizes Queries.
type QueriesOption func(*Queries)

// WithDefaultCooldown applies to rules created without a cooldown.
func WithDefaultCooldown(d time.Duration) QueriesOption {
	return func(q *Queries) {
		if d > 0 {
			q.defaultCooldown = d
		}
	}
}

// WithQueriesClock assigns a clock.
func WithQueriesClock(clock Clock) QueriesOption {
	return func(q *Queries) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// NewQueries constructs the rule and alert query service.
func NewQueries(rules alerts.RuleRepository, alertRepo alerts.AlertRepository, history alerts.HistoryRepository, opts ...QueriesOption) (*Queries, error) {
	if rules == nil || alertRepo == nil || history == nil {
		return nil, errors.New("alerts: nil repository")
	}
	q := &Queries{rules: rules, alerts: alertRepo, history: history, clock: systemClock{}}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// CreateRule validates and stores a rule. A nil cooldown takes the default.
func (q *Queries) CreateRule(ctx context.Context, rule alerts.Rule, cooldown *time.Duration) (*alerts.Rule, error) {
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.DeviceID = strings.TrimSpace(rule.DeviceID)
	if rule.DeviceID == "" {
		rule.DeviceID = alerts.WildcardDevice
	}
	rule.Category = strings.ToLower(strings.TrimSpace(rule.Category))
	if rule.Severity == "" {
		rule.Severity = alerts.SeverityMedium
	}
	if cooldown != nil {
		rule.Cooldown = *cooldown
	} else {
		rule.Cooldown = q.defaultCooldown
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	now := q.clock.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := q.rules.Create(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetRule returns a rule by id.
func (q *Queries) GetRule(ctx context.Context, id string) (*alerts.Rule, error) {
	rule, err := q.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, alerts.ErrNotFound
	}
	return rule, nil
}

// ListRules returns the rules of a user, or all rules for an empty user id.
func (q *Queries) ListRules(ctx context.Context, userID string) ([]alerts.Rule, error) {
	return q.rules.List(ctx, userID)
}

// DeleteRule removes a rule. Open alerts of the rule are resolved by the caller.
func (q *Queries) DeleteRule(ctx context.Context, id string) error {
	return q.rules.Delete(ctx, id)
}

// ListAlerts returns alerts matching filter, newest first.
func (q *Queries) ListAlerts(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	return q.alerts.List(ctx, filter)
}

// History returns the lifecycle of an alert.
func (q *Queries) History(ctx context.Context, alertID string) ([]alerts.HistoryEntry, error) {
	alert, err := q.alerts.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return q.history.ListByAlert(ctx, alertID)
}
