package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "homewatch/internal/alerts/domain"
	"homewatch/internal/platform/database"
)

const ruleTable = "alert_rules"

const ruleColumns = "id, user_id, device_id, name, category, comparator, threshold, cooldown_seconds, severity, enabled, created_at, updated_at"

// RuleRepository persists alert rules.
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository constructs a rule repository.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rule *alerts.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, ruleTable, ruleColumns)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		rule.ID,
		rule.UserID,
		rule.DeviceID,
		rule.Name,
		rule.Category,
		string(rule.Comparator),
		rule.Threshold,
		int64(rule.Cooldown/time.Second),
		string(rule.Severity),
		rule.Enabled,
		rule.CreatedAt.UTC(),
		rule.UpdatedAt.UTC(),
	)
	return err
}

// Get returns nil, nil when the rule does not exist.
func (r *RuleRepository) Get(ctx context.Context, id string) (*alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", ruleColumns, ruleTable)
	rule, err := scanRule(r.db.QueryRowContext(ctx, r.db.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = $1", ruleTable)), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// List returns rules of a user, or all rules when userID is empty.
func (r *RuleRepository) List(ctx context.Context, userID string) ([]alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", ruleColumns, ruleTable)
	var args []any
	if userID != "" {
		query += " WHERE user_id = $1"
		args = append(args, userID)
	}
	query += " ORDER BY id"
	return r.query(ctx, query, args...)
}

// ListCandidates returns enabled rules of a category that name the device or
// are wildcards owned by ownerID.
func (r *RuleRepository) ListCandidates(ctx context.Context, deviceID, ownerID, category string) ([]alerts.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE category = $1
	AND enabled = $2
	AND (device_id = $3 OR (device_id = $4 AND user_id = $5))
ORDER BY id`, ruleColumns, ruleTable)
	return r.query(ctx, query, category, true, deviceID, alerts.WildcardDevice, ownerID)
}

func (r *RuleRepository) query(ctx context.Context, query string, args ...any) ([]alerts.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alerts.Rule, error) {
	var (
		rule            alerts.Rule
		comparator      string
		severity        string
		cooldownSeconds int64
	)
	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.DeviceID,
		&rule.Name,
		&rule.Category,
		&comparator,
		&rule.Threshold,
		&cooldownSeconds,
		&severity,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Comparator = alerts.Comparator(comparator)
	rule.Severity = alerts.Severity(severity)
	rule.Cooldown = time.Duration(cooldownSeconds) * time.Second
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
