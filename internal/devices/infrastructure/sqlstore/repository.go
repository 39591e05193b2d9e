package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	devices "homewatch/internal/devices/domain"
	"homewatch/internal/platform/database"
)

const devicesTable = "devices"

const deviceColumns = "id, user_id, name, type, address, registered_at, updated_at"

// Repository persists devices.
type Repository struct {
	db *database.DB
}

// NewRepository constructs a device repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a device. An address already in use yields ErrDuplicateAddress.
func (r *Repository) Create(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, devicesTable, deviceColumns)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		device.ID,
		device.UserID,
		device.Name,
		string(device.Type),
		device.Address,
		device.RegisteredAt.UTC(),
		device.UpdatedAt.UTC(),
	)
	if database.IsUniqueViolation(err) {
		return devices.ErrDuplicateAddress
	}
	return err
}

// Get returns nil, nil when the device does not exist.
func (r *Repository) Get(ctx context.Context, id string) (*devices.Device, error) {
	return r.getBy(ctx, "id", id)
}

// FindByAddress returns nil, nil when no device uses the address.
func (r *Repository) FindByAddress(ctx context.Context, address string) (*devices.Device, error) {
	return r.getBy(ctx, "address", address)
}

func (r *Repository) getBy(ctx context.Context, column, value string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if value == "" {
		return nil, fmt.Errorf("device repo: empty %s", column)
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE %s = $1
LIMIT 1`, deviceColumns, devicesTable, column)
	device, err := scanDevice(r.db.QueryRowContext(ctx, r.db.Rebind(query), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// List returns all devices in registration order.
func (r *Repository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY registered_at ASC, id ASC`, deviceColumns, devicesTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *device)
	}
	return out, rows.Err()
}

// Update rewrites the mutable fields of a device.
func (r *Repository) Update(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET name = $1, type = $2, address = $3, updated_at = $4
WHERE id = $5`, devicesTable)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		device.Name,
		string(device.Type),
		device.Address,
		device.UpdatedAt.UTC(),
		device.ID,
	)
	if database.IsUniqueViolation(err) {
		return devices.ErrDuplicateAddress
	}
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Delete removes a device.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", devicesTable)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return devices.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var (
		device     devices.Device
		deviceType string
	)
	if err := row.Scan(
		&device.ID,
		&device.UserID,
		&device.Name,
		&deviceType,
		&device.Address,
		&device.RegisteredAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	device.Type = devices.Type(deviceType)
	device.RegisteredAt = device.RegisteredAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
