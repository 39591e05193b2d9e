package memory

import (
	"context"
	"sort"
	"sync"

	alerts "homewatch/internal/alerts/domain"
)

// RuleRepository keeps rules in memory.
type RuleRepository struct {
	mu    sync.RWMutex
	rules map[string]alerts.Rule
}

// NewRuleRepository constructs an empty rule repository.
func NewRuleRepository() *RuleRepository {
	return &RuleRepository{rules: make(map[string]alerts.Rule)}
}

// Create stores a rule.
func (r *RuleRepository) Create(_ context.Context, rule *alerts.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = *rule
	return nil
}

// Get returns nil when the rule does not exist.
func (r *RuleRepository) Get(_ context.Context, id string) (*alerts.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return alerts.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

// List returns rules of userID, or all rules when userID is empty.
func (r *RuleRepository) List(_ context.Context, userID string) ([]alerts.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []alerts.Rule
	for _, rule := range r.rules {
		if userID == "" || rule.UserID == userID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListCandidates returns enabled rules of the category applying to the device.
func (r *RuleRepository) ListCandidates(_ context.Context, deviceID, ownerID, category string) ([]alerts.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []alerts.Rule
	for _, rule := range r.rules {
		if rule.Category == category && rule.Matches(deviceID, ownerID) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AlertRepository keeps alerts in memory and enforces one open alert per
// rule and device.
type AlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]alerts.Alert
	order  []string
}

// NewAlertRepository constructs an empty alert repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alerts.Alert)}
}

// Create stores a new open alert.
func (r *AlertRepository) Create(_ context.Context, alert *alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.alerts {
		if existing.Open() && existing.RuleID == alert.RuleID && existing.DeviceID == alert.DeviceID {
			return alerts.ErrAlertAlreadyOpen
		}
	}
	r.alerts[alert.ID] = *alert
	r.order = append(r.order, alert.ID)
	return nil
}

// Update replaces a stored alert.
func (r *AlertRepository) Update(_ context.Context, alert *alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return alerts.ErrNotFound
	}
	r.alerts[alert.ID] = *alert
	return nil
}

// Get returns nil when the alert does not exist.
func (r *AlertRepository) Get(_ context.Context, id string) (*alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	return &alert, nil
}

// FindOpen returns the open alert of a rule on a device, or nil.
func (r *AlertRepository) FindOpen(_ context.Context, ruleID, deviceID string) (*alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, alert := range r.alerts {
		if alert.Open() && alert.RuleID == ruleID && alert.DeviceID == deviceID {
			found := alert
			return &found, nil
		}
	}
	return nil, nil
}

// ListOpenByDevice returns the device's open alerts in creation order.
func (r *AlertRepository) ListOpenByDevice(_ context.Context, deviceID string) ([]alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []alerts.Alert
	for _, id := range r.order {
		alert := r.alerts[id]
		if alert.Open() && alert.DeviceID == deviceID {
			out = append(out, alert)
		}
	}
	return out, nil
}

// LastResolved returns the latest alert resolved with reason.
func (r *AlertRepository) LastResolved(_ context.Context, ruleID, deviceID, reason string) (*alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last *alerts.Alert
	for _, alert := range r.alerts {
		if alert.Open() || alert.RuleID != ruleID || alert.DeviceID != deviceID || alert.ResolveReason != reason {
			continue
		}
		if last == nil || alert.ResolvedAt.After(last.ResolvedAt) {
			found := alert
			last = &found
		}
	}
	return last, nil
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(_ context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []alerts.Alert
	for i := len(r.order) - 1; i >= 0; i-- {
		alert := r.alerts[r.order[i]]
		if filter.DeviceID != "" && alert.DeviceID != filter.DeviceID {
			continue
		}
		if filter.RuleID != "" && alert.RuleID != filter.RuleID {
			continue
		}
		if filter.OpenOnly && !alert.Open() {
			continue
		}
		out = append(out, alert)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// HistoryRepository keeps alert history in memory.
type HistoryRepository struct {
	mu      sync.RWMutex
	entries []alerts.HistoryEntry
}

// NewHistoryRepository constructs an empty history repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

// Append records an entry.
func (r *HistoryRepository) Append(_ context.Context, entry alerts.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// ListByAlert returns the entries of an alert in append order.
func (r *HistoryRepository) ListByAlert(_ context.Context, alertID string) ([]alerts.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []alerts.HistoryEntry
	for _, entry := range r.entries {
		if entry.AlertID == alertID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// All returns every entry in append order.
func (r *HistoryRepository) All() []alerts.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]alerts.HistoryEntry(nil), r.entries...)
}
