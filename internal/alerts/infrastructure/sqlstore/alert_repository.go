package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	alerts "homewatch/internal/alerts/domain"
	"homewatch/internal/platform/database"
)

const alertTable = "alerts"

const alertColumns = "id, rule_id, device_id, category, severity, value, payload, triggered_at, resolved_at, resolve_reason, escalated_at, created_at, updated_at"

// AlertRepository persists alerts. The partial unique index on open alerts
// backs ErrAlertAlreadyOpen.
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository constructs an alert repository.
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an open alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	payload, err := encodePayload(alert.Payload)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, alertTable, alertColumns)
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		alert.ID,
		alert.RuleID,
		alert.DeviceID,
		alert.Category,
		string(alert.Severity),
		alert.Value,
		payload,
		alert.TriggeredAt.UTC(),
		database.NullableTime(alert.ResolvedAt),
		alert.ResolveReason,
		database.NullableTime(alert.EscalatedAt),
		alert.CreatedAt.UTC(),
		alert.UpdatedAt.UTC(),
	)
	if database.IsUniqueViolation(err) {
		return alerts.ErrAlertAlreadyOpen
	}
	return err
}

// Update writes the mutable fields of an alert.
func (r *AlertRepository) Update(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET severity = $1,
	value = $2,
	resolved_at = $3,
	resolve_reason = $4,
	escalated_at = $5,
	updated_at = $6
WHERE id = $7`, alertTable)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		string(alert.Severity),
		alert.Value,
		database.NullableTime(alert.ResolvedAt),
		alert.ResolveReason,
		database.NullableTime(alert.EscalatedAt),
		alert.UpdatedAt.UTC(),
		alert.ID,
	)
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

// Get returns nil, nil when the alert does not exist.
func (r *AlertRepository) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", alertColumns, alertTable)
	return r.one(ctx, query, id)
}

// FindOpen returns the open alert of a rule on a device.
func (r *AlertRepository) FindOpen(ctx context.Context, ruleID, deviceID string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE rule_id = $1 AND device_id = $2 AND resolved_at IS NULL`, alertColumns, alertTable)
	return r.one(ctx, query, ruleID, deviceID)
}

// ListOpenByDevice returns open alerts of a device, oldest first.
func (r *AlertRepository) ListOpenByDevice(ctx context.Context, deviceID string) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE device_id = $1 AND resolved_at IS NULL
ORDER BY triggered_at ASC, id ASC`, alertColumns, alertTable)
	return r.many(ctx, query, deviceID)
}

// LastResolved returns the most recent alert resolved with reason.
func (r *AlertRepository) LastResolved(ctx context.Context, ruleID, deviceID, reason string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE rule_id = $1 AND device_id = $2 AND resolve_reason = $3 AND resolved_at IS NOT NULL
ORDER BY resolved_at DESC
LIMIT 1`, alertColumns, alertTable)
	return r.one(ctx, query, ruleID, deviceID, reason)
}

// List returns alerts matching filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter alerts.AlertFilter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 1", alertColumns, alertTable)
	var args []any
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if filter.RuleID != "" {
		args = append(args, filter.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	if filter.OpenOnly {
		query += " AND resolved_at IS NULL"
	}
	query += " ORDER BY triggered_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return r.many(ctx, query, args...)
}

func (r *AlertRepository) one(ctx context.Context, query string, args ...any) (*alerts.Alert, error) {
	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return alert, err
}

func (r *AlertRepository) many(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var (
		alert       alerts.Alert
		severity    string
		payload     sql.NullString
		resolvedAt  sql.NullTime
		escalatedAt sql.NullTime
	)
	if err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.DeviceID,
		&alert.Category,
		&severity,
		&alert.Value,
		&payload,
		&alert.TriggeredAt,
		&resolvedAt,
		&alert.ResolveReason,
		&escalatedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return nil, err
	}
	alert.Severity = alerts.Severity(severity)
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &alert.Payload); err != nil {
			return nil, fmt.Errorf("alert repo: decode payload: %w", err)
		}
	}
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	if escalatedAt.Valid {
		alert.EscalatedAt = escalatedAt.Time.UTC()
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	return &alert, nil
}

func encodePayload(payload map[string]any) (sql.NullString, error) {
	if len(payload) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("alert repo: encode payload: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
