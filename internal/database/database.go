// Package database defines the driver-neutral contract to the relational
// store. All layers above this package talk only to these interfaces —
// they never import the postgres or mysql packages directly.
package database

import (
	"context"
	"fmt"
)

// DB is the central contract for all database operations.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Dialect reports which SQL dialect the driver speaks.
	Dialect() Dialect

	// Exec executes a statement that returns no rows (DDL, INSERT, …).
	Exec(ctx context.Context, sql string, args ...any) error

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// ListTables returns all user-defined table names in the current schema.
	ListTables(ctx context.Context) ([]string, error)

	// InspectTable returns the column layout of one table.
	InspectTable(ctx context.Context, table string) ([]ColumnInfo, error)

	// Acquire checks a single connection out of the pool. The caller owns
	// it exclusively until Release and must release it on every exit path.
	Acquire(ctx context.Context) (Session, error)
}

// Session is one exclusively-held connection. Ingestion runs every statement
// for one source on a single Session so that failure attribution and load on
// the store stay bounded.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	TableExists(ctx context.Context, table string) (bool, error)

	// Release returns the connection to the pool. Safe to call once only.
	Release()
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// ColumnInfo describes a single column in a table.
type ColumnInfo struct {
	Name     string
	DataType string
	Nullable bool
}

// NotNullViolation is surfaced when an insert fails because a column
// declared NOT NULL received a NULL value. The column name drives the
// pipeline's widen-and-retry repair, so drivers must fill it whenever the
// backend reports it.
type NotNullViolation struct {
	Table  string
	Column string
	Cause  error
}

func (e *NotNullViolation) Error() string {
	return fmt.Sprintf("column %q of table %q cannot be null", e.Column, e.Table)
}

func (e *NotNullViolation) Unwrap() error {
	return e.Cause
}
