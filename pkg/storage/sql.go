package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects SQL differences between the supported databases
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect validates a driver name
func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case DialectPostgres, DialectSQLite:
		return Dialect(driver), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s (must be postgres or sqlite3)", driver)
	}
}

// ForUpdate returns the row locking clause appended to locking reads.
// SQLite takes a database write lock instead, so it has none.
func (d Dialect) ForUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) txOptions() *sql.TxOptions {
	if d == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// DB is a database handle that knows its dialect and how to run transactions
type DB struct {
	*sql.DB
	dialect    Dialect
	txAttempts int
}

// NewDB wraps an open *sql.DB
func NewDB(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect, txAttempts: 3}
}

// Open connects to the configured database and verifies the connection
func Open(cfg Config) (*DB, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// one writer at a time; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MinConns)
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	wrapped := NewDB(db, dialect)
	if cfg.TxAttempts > 0 {
		wrapped.txAttempts = cfg.TxAttempts
	}
	return wrapped, nil
}

// Dialect returns the database dialect
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// InTx runs fn inside a transaction. PostgreSQL transactions are serializable
// and are retried when the database reports a serialization failure.
func (db *DB) InTx(ctx context.Context, fn func(q Querier) error) error {
	var err error
	for attempt := 1; attempt <= db.txAttempts; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", db.txAttempts, err)
}

func (db *DB) runTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := db.BeginTx(ctx, db.dialect.txOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsSerializationFailure reports whether err is a retryable PostgreSQL conflict
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
