// Package repository persists files, bills, categories and users.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverPostgres selects PostgreSQL through pgx.
	DriverPostgres = "pgx"
	// DriverSQLite selects SQLite, used for local runs and tests.
	DriverSQLite = "sqlite3"
)

// ErrNotFound is returned when a row does not exist or is soft-deleted.
var ErrNotFound = errors.New("record not found")

// DB is a database handle that knows its SQL dialect.
type DB struct {
	*sql.DB
	driver string
	sb     squirrel.StatementBuilderType
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var placeholder squirrel.PlaceholderFormat
	switch driver {
	case DriverPostgres:
		placeholder = squirrel.Dollar
	case DriverSQLite:
		placeholder = squirrel.Question
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; in-memory databases are also per connection.
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     conn,
		driver: driver,
		sb:     squirrel.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

// Driver returns the driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Migrate creates missing tables and indexes.
func (db *DB) Migrate(ctx context.Context) error {
	migrations := postgresSchema
	if db.driver == DriverSQLite {
		migrations = sqliteSchema
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func int64OrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
