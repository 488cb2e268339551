package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
)

// registryTable holds one row per registered source.
const registryTable = "ingest_sources"

// SourceStatus is the per-source state machine:
// pending → processing → {processed, failed, empty, unsupported}.
// Terminal states never transition further; a fresh ingestion attempt
// starts a new pending → processing run.
type SourceStatus string

const (
	StatusPending     SourceStatus = "pending"
	StatusProcessing  SourceStatus = "processing"
	StatusProcessed   SourceStatus = "processed"
	StatusFailed      SourceStatus = "failed"
	StatusEmpty       SourceStatus = "empty"
	StatusUnsupported SourceStatus = "unsupported"
)

// SourceRecord is the registry entry for one file or remote document.
// It is created when the source is registered, before any parsing, and its
// status/rowCount fields are mutated only by the Pipeline processing it.
type SourceRecord struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Origin      string       `json:"origin"` // download / reference handle
	RowCount    int          `json:"row_count"`
	Status      SourceStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Registry persists SourceRecords in the relational store.
type Registry struct {
	db database.DB
}

// NewRegistry returns a Registry backed by db.
func NewRegistry(db database.DB) *Registry {
	return &Registry{db: db}
}

// EnsureTable creates the registry table if it does not exist yet.
// Called once at startup.
func (r *Registry) EnsureTable(ctx context.Context) error {
	d := r.db.Dialect()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s VARCHAR(128) PRIMARY KEY,
		%s TEXT NOT NULL,
		%s TEXT NOT NULL,
		%s BIGINT NOT NULL,
		%s VARCHAR(32) NOT NULL,
		%s TEXT NOT NULL,
		%s %s NOT NULL
	)`,
		d.QuoteIdent(registryTable),
		d.QuoteIdent("id"),
		d.QuoteIdent("display_name"),
		d.QuoteIdent("origin"),
		d.QuoteIdent("row_count"),
		d.QuoteIdent("status"),
		d.QuoteIdent("error"),
		d.QuoteIdent("updated_at"), timestampType(d),
	)
	return r.db.Exec(ctx, ddl)
}

// Register upserts a source. Registering an already-known id resets its
// status to pending and clears the previous run's counters without
// duplicating the row.
func (r *Registry) Register(ctx context.Context, rec *SourceRecord) error {
	if rec.ID == "" {
		return errs.New(errs.ErrKindInvalidInput, "source id must not be empty")
	}
	rec.Status = StatusPending
	rec.RowCount = 0
	rec.Error = ""
	rec.UpdatedAt = time.Now().UTC()

	d := r.db.Dialect()
	var sql string
	if d == database.DialectMySQL {
		sql = fmt.Sprintf(`INSERT INTO %s
			(%s, %s, %s, %s, %s, %s, %s)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			%s = VALUES(%s), %s = VALUES(%s), %s = VALUES(%s),
			%s = VALUES(%s), %s = VALUES(%s), %s = VALUES(%s)`,
			d.QuoteIdent(registryTable),
			d.QuoteIdent("id"), d.QuoteIdent("display_name"), d.QuoteIdent("origin"),
			d.QuoteIdent("row_count"), d.QuoteIdent("status"), d.QuoteIdent("error"),
			d.QuoteIdent("updated_at"),
			d.QuoteIdent("display_name"), d.QuoteIdent("display_name"),
			d.QuoteIdent("origin"), d.QuoteIdent("origin"),
			d.QuoteIdent("row_count"), d.QuoteIdent("row_count"),
			d.QuoteIdent("status"), d.QuoteIdent("status"),
			d.QuoteIdent("error"), d.QuoteIdent("error"),
			d.QuoteIdent("updated_at"), d.QuoteIdent("updated_at"),
		)
	} else {
		sql = fmt.Sprintf(`INSERT INTO %s
			(%s, %s, %s, %s, %s, %s, %s)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (%s) DO UPDATE SET
			%s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s,
			%s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s`,
			d.QuoteIdent(registryTable),
			d.QuoteIdent("id"), d.QuoteIdent("display_name"), d.QuoteIdent("origin"),
			d.QuoteIdent("row_count"), d.QuoteIdent("status"), d.QuoteIdent("error"),
			d.QuoteIdent("updated_at"),
			d.QuoteIdent("id"),
			d.QuoteIdent("display_name"), d.QuoteIdent("display_name"),
			d.QuoteIdent("origin"), d.QuoteIdent("origin"),
			d.QuoteIdent("row_count"), d.QuoteIdent("row_count"),
			d.QuoteIdent("status"), d.QuoteIdent("status"),
			d.QuoteIdent("error"), d.QuoteIdent("error"),
			d.QuoteIdent("updated_at"), d.QuoteIdent("updated_at"),
		)
	}

	return r.db.Exec(ctx, sql,
		rec.ID, rec.DisplayName, rec.Origin, rec.RowCount,
		string(rec.Status), rec.Error, rec.UpdatedAt)
}

// Get returns the record for one source id.
func (r *Registry) Get(ctx context.Context, id string) (*SourceRecord, error) {
	d := r.db.Dialect()
	sql := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = %s`,
		d.QuoteIdent("id"), d.QuoteIdent("display_name"), d.QuoteIdent("origin"),
		d.QuoteIdent("row_count"), d.QuoteIdent("status"), d.QuoteIdent("error"),
		d.QuoteIdent("updated_at"),
		d.QuoteIdent(registryTable),
		d.QuoteIdent("id"), d.Placeholder(1),
	)

	var rec SourceRecord
	var status string
	err := r.db.QueryRow(ctx, sql, id).Scan(
		&rec.ID, &rec.DisplayName, &rec.Origin,
		&rec.RowCount, &status, &rec.Error, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = SourceStatus(status)
	return &rec, nil
}

// List returns all registered sources, most recently updated first.
func (r *Registry) List(ctx context.Context) ([]SourceRecord, error) {
	d := r.db.Dialect()
	sql := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s ORDER BY %s DESC`,
		d.QuoteIdent("id"), d.QuoteIdent("display_name"), d.QuoteIdent("origin"),
		d.QuoteIdent("row_count"), d.QuoteIdent("status"), d.QuoteIdent("error"),
		d.QuoteIdent("updated_at"),
		d.QuoteIdent(registryTable),
		d.QuoteIdent("updated_at"),
	)

	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]SourceRecord, 0)
	for rows.Next() {
		var rec SourceRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &rec.Origin,
			&rec.RowCount, &status, &rec.Error, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = SourceStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// save writes the record's current status fields through the pipeline's
// exclusively-held session.
func (r *Registry) save(ctx context.Context, sess database.Session, rec *SourceRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	d := r.db.Dialect()
	sql := fmt.Sprintf(`UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s`,
		d.QuoteIdent(registryTable),
		d.QuoteIdent("status"), d.Placeholder(1),
		d.QuoteIdent("row_count"), d.Placeholder(2),
		d.QuoteIdent("error"), d.Placeholder(3),
		d.QuoteIdent("updated_at"), d.Placeholder(4),
		d.QuoteIdent("id"), d.Placeholder(5),
	)
	return sess.Exec(ctx, sql,
		string(rec.Status), rec.RowCount, rec.Error, rec.UpdatedAt, rec.ID)
}

// timestampType picks the dialect's conventional timestamp column type.
func timestampType(d database.Dialect) string {
	if d == database.DialectMySQL {
		return "DATETIME"
	}
	return "TIMESTAMP"
}
