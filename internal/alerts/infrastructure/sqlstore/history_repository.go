package sqlstore

import (
	"context"
	"errors"
	"fmt"

	alerts "homewatch/internal/alerts/domain"
	"homewatch/internal/platform/database"
)

const historyTable = "alert_history"

// HistoryRepository appends alert lifecycle entries.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository constructs a history repository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts an entry.
func (r *HistoryRepository) Append(ctx context.Context, entry alerts.HistoryEntry) error {
	if r == nil || r.db == nil {
		return errors.New("alert history repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, alert_id, rule_id, device_id, kind, severity, reason, value, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, historyTable)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		entry.ID,
		entry.AlertID,
		entry.RuleID,
		entry.DeviceID,
		string(entry.Kind),
		string(entry.Severity),
		entry.Reason,
		entry.Value,
		entry.At.UTC(),
	)
	return err
}

// ListByAlert returns entries of an alert in time order.
func (r *HistoryRepository) ListByAlert(ctx context.Context, alertID string) ([]alerts.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert history repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, alert_id, rule_id, device_id, kind, severity, reason, value, at
FROM %s
WHERE alert_id = $1
ORDER BY at ASC, id ASC`, historyTable)
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.HistoryEntry
	for rows.Next() {
		var (
			entry    alerts.HistoryEntry
			kind     string
			severity string
		)
		if err := rows.Scan(&entry.ID, &entry.AlertID, &entry.RuleID, &entry.DeviceID, &kind, &severity, &entry.Reason, &entry.Value, &entry.At); err != nil {
			return nil, err
		}
		entry.Kind = alerts.HistoryKind(kind)
		entry.Severity = alerts.Severity(severity)
		entry.At = entry.At.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}
