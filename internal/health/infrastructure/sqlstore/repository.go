package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	health "homewatch/internal/health/domain"
	"homewatch/internal/platform/database"
)

const statusTable = "device_status"

// Repository persists device status records.
type Repository struct {
	db *database.DB
}

// NewRepository constructs a status repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Get returns nil, nil when no record exists.
func (r *Repository) Get(ctx context.Context, deviceID string) (*health.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("health repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, status, last_contact_at, last_error, consecutive_failures, changed_at, updated_at
FROM %s
WHERE device_id = $1`, statusTable)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.db.Rebind(query), deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every status record.
func (r *Repository) List(ctx context.Context) ([]health.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("health repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, status, last_contact_at, last_error, consecutive_failures, changed_at, updated_at
FROM %s
ORDER BY device_id`, statusTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []health.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Save upserts a status record.
func (r *Repository) Save(ctx context.Context, record health.Record) error {
	if r == nil || r.db == nil {
		return errors.New("health repo: nil db")
	}
	if record.DeviceID == "" {
		return errors.New("health repo: empty device id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, status, last_contact_at, last_error, consecutive_failures, changed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (device_id) DO UPDATE SET
	status = EXCLUDED.status,
	last_contact_at = EXCLUDED.last_contact_at,
	last_error = EXCLUDED.last_error,
	consecutive_failures = EXCLUDED.consecutive_failures,
	changed_at = EXCLUDED.changed_at,
	updated_at = EXCLUDED.updated_at`, statusTable)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		record.DeviceID,
		string(record.Status),
		database.NullableTime(record.LastContactAt),
		record.LastError,
		record.ConsecutiveFailures,
		record.ChangedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	return err
}

// Delete removes a status record.
func (r *Repository) Delete(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("health repo: nil db")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE device_id = $1", statusTable)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), deviceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return health.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*health.Record, error) {
	var (
		rec         health.Record
		status      string
		lastContact sql.NullTime
	)
	if err := row.Scan(
		&rec.DeviceID,
		&status,
		&lastContact,
		&rec.LastError,
		&rec.ConsecutiveFailures,
		&rec.ChangedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = health.Status(status)
	if lastContact.Valid {
		rec.LastContactAt = lastContact.Time.UTC()
	}
	rec.ChangedAt = rec.ChangedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
