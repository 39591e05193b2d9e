package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL engine behind a DB.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const pgUniqueViolation = "23505"

// DB wraps a database connection with the dialect needed to build queries.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects to the database for driver ("postgres", "pgx" or "sqlite").
// SQLite paths are created on demand and opened in WAL mode.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var (
		sqlDB   *sql.DB
		dialect Dialect
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx":
		if dsn == "" {
			return nil, errors.New("database: empty postgres dsn")
		}
		dialect = DialectPostgres
		sqlDB, err = sql.Open("pgx", dsn)
	case "sqlite", "":
		path, perr := sqlitePath(dsn)
		if perr != nil {
			return nil, perr
		}
		dialect = DialectSQLite
		sqlDB, err = sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return &DB{DB: sqlDB, dialect: dialect}, nil
}

// Dialect returns the SQL dialect.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites $N placeholders into the dialect's form. Queries must
// reference each placeholder once, in argument order.
func (db *DB) Rebind(query string) string {
	if db == nil || db.dialect != DialectSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Tx executes fn within a transaction, rolling back when fn fails.
func (db *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("database: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func sqlitePath(dsn string) (string, error) {
	path := strings.TrimSpace(dsn)
	if path == "" {
		path = "homewatch.db"
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("database: expand home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("database: create directory: %w", err)
		}
	}
	return path, nil
}

// NullableTime converts a zero time into SQL NULL.
func NullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
