package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"homewatch/internal/platform/database"
	telemetry "homewatch/internal/telemetry/domain"
)

const (
	powerTable  = "power_readings"
	energyTable = "energy_readings"
	motionTable = "motion_events"
)

// Store is the SQL telemetry sink. Duplicate (device id, ts) deliveries are
// absorbed by ON CONFLICT DO NOTHING.
type Store struct {
	db *database.DB
}

// NewStore constructs a telemetry store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// AppendPowerReading stores a power sample.
func (s *Store) AppendPowerReading(ctx context.Context, reading telemetry.PowerReading) error {
	if err := s.check(reading.DeviceID, reading.TS.IsZero()); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, ts, watts, voltage, current_amps)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (device_id, ts) DO NOTHING`, powerTable)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		reading.DeviceID,
		reading.TS.UTC(),
		reading.Watts,
		nullableFloat(reading.Voltage),
		nullableFloat(reading.Current),
	)
	if err != nil {
		return fmt.Errorf("%w: append power reading: %v", telemetry.ErrStorage, err)
	}
	return nil
}

// AppendEnergyReading stores an energy counter sample.
func (s *Store) AppendEnergyReading(ctx context.Context, reading telemetry.EnergyReading) error {
	if err := s.check(reading.DeviceID, reading.TS.IsZero()); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, ts, total_wh)
VALUES ($1, $2, $3)
ON CONFLICT (device_id, ts) DO NOTHING`, energyTable)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query), reading.DeviceID, reading.TS.UTC(), reading.TotalWh)
	if err != nil {
		return fmt.Errorf("%w: append energy reading: %v", telemetry.ErrStorage, err)
	}
	return nil
}

// AppendMotionEvent stores a motion sample.
func (s *Store) AppendMotionEvent(ctx context.Context, event telemetry.MotionEvent) error {
	if err := s.check(event.DeviceID, event.TS.IsZero()); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, ts, detected, lux, temperature)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (device_id, ts) DO NOTHING`, motionTable)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		event.DeviceID,
		event.TS.UTC(),
		event.Detected,
		nullableFloat(event.Lux),
		nullableFloat(event.Temperature),
	)
	if err != nil {
		return fmt.Errorf("%w: append motion event: %v", telemetry.ErrStorage, err)
	}
	return nil
}

// ListPowerReadings returns power samples in ascending time order.
func (s *Store) ListPowerReadings(ctx context.Context, deviceID string, r telemetry.Range) ([]telemetry.PowerReading, error) {
	rows, err := s.rangeQuery(ctx, powerTable, "ts, watts, voltage, current_amps", deviceID, r)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.PowerReading
	for rows.Next() {
		var (
			reading          telemetry.PowerReading
			voltage, current sql.NullFloat64
		)
		if err := rows.Scan(&reading.TS, &reading.Watts, &voltage, &current); err != nil {
			return nil, fmt.Errorf("%w: scan power reading: %v", telemetry.ErrStorage, err)
		}
		reading.DeviceID = deviceID
		reading.TS = reading.TS.UTC()
		reading.Voltage = floatPtr(voltage)
		reading.Current = floatPtr(current)
		out = append(out, reading)
	}
	return out, rowsErr(rows)
}

// ListEnergyReadings returns energy samples in ascending time order.
func (s *Store) ListEnergyReadings(ctx context.Context, deviceID string, r telemetry.Range) ([]telemetry.EnergyReading, error) {
	rows, err := s.rangeQuery(ctx, energyTable, "ts, total_wh", deviceID, r)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.EnergyReading
	for rows.Next() {
		var reading telemetry.EnergyReading
		if err := rows.Scan(&reading.TS, &reading.TotalWh); err != nil {
			return nil, fmt.Errorf("%w: scan energy reading: %v", telemetry.ErrStorage, err)
		}
		reading.DeviceID = deviceID
		reading.TS = reading.TS.UTC()
		out = append(out, reading)
	}
	return out, rowsErr(rows)
}

// ListMotionEvents returns motion samples in ascending time order.
func (s *Store) ListMotionEvents(ctx context.Context, deviceID string, r telemetry.Range) ([]telemetry.MotionEvent, error) {
	rows, err := s.rangeQuery(ctx, motionTable, "ts, detected, lux, temperature", deviceID, r)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.MotionEvent
	for rows.Next() {
		var (
			event            telemetry.MotionEvent
			lux, temperature sql.NullFloat64
		)
		if err := rows.Scan(&event.TS, &event.Detected, &lux, &temperature); err != nil {
			return nil, fmt.Errorf("%w: scan motion event: %v", telemetry.ErrStorage, err)
		}
		event.DeviceID = deviceID
		event.TS = event.TS.UTC()
		event.Lux = floatPtr(lux)
		event.Temperature = floatPtr(temperature)
		out = append(out, event)
	}
	return out, rowsErr(rows)
}

func (s *Store) rangeQuery(ctx context.Context, table, columns, deviceID string, r telemetry.Range) (*sql.Rows, error) {
	if err := s.check(deviceID, false); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE device_id = $1", columns, table)
	args := []any{deviceID}
	if !r.From.IsZero() {
		args = append(args, r.From.UTC())
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !r.To.IsZero() {
		args = append(args, r.To.UTC())
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY ts ASC"
	if r.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", r.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", telemetry.ErrStorage, table, err)
	}
	return rows, nil
}

func (s *Store) check(deviceID string, zeroTS bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: nil db", telemetry.ErrStorage)
	}
	if deviceID == "" || zeroTS {
		return fmt.Errorf("%w: invalid sample", telemetry.ErrStorage)
	}
	return nil
}

func rowsErr(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", telemetry.ErrStorage, err)
	}
	return nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}
