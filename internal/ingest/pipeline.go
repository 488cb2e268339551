// Package ingest implements the ingestion pipeline: identifier
// sanitization, sampled type detection, DDL generation, row encoding, and
// batched insertion with one-shot schema repair, together with the
// per-source status registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/logger"
)

// DefaultBatchSize is how many rows travel in one insert statement. Large
// enough to keep round trips down, small enough to stay inside statement
// parameter and payload limits on both supported stores.
const DefaultBatchSize = 500

// Dataset is the parsed form of one tabular source: ordered headers plus
// rows keyed by original header. How bytes became this structure is the
// parser collaborator's concern.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Loader parses a local file into a Dataset. typeOverride, when non-empty,
// forces the parser selection instead of the file extension.
type Loader interface {
	Load(path, typeOverride string) (*Dataset, error)
}

// Request carries one parsed source through the pipeline.
type Request struct {
	Headers []string
	Rows    []map[string]string

	// TableName overrides the file-name-derived target table when set.
	TableName string

	Conflict    ConflictPolicy
	Nullability NullabilityPolicy
	Mode        Strictness
}

// FileRequest points the pipeline at a local file that still needs parsing.
type FileRequest struct {
	Path         string
	TypeOverride string
	TableName    string
	Conflict     ConflictPolicy
	Nullability  NullabilityPolicy
	Mode         Strictness
}

// Outcome is the per-source result reported back to the caller. It carries
// enough to reconcile results without re-querying the store.
type Outcome struct {
	SourceID string       `json:"source_id"`
	Table    string       `json:"table,omitempty"`
	RowCount int          `json:"row_count"`
	Status   SourceStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// Pipeline orchestrates ingestion of one source at a time. It is the single
// writer of SourceRecord status fields; everything else only reads them.
type Pipeline struct {
	db        database.DB
	registry  *Registry
	loader    Loader
	log       *logger.Logger
	batchSize int
}

// New returns a Pipeline using the default batch size.
func New(db database.DB, registry *Registry, loader Loader, log *logger.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		registry:  registry,
		loader:    loader,
		log:       log,
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides the rows-per-insert batch size. Values < 1 are
// ignored.
func (p *Pipeline) SetBatchSize(n int) {
	if n >= 1 {
		p.batchSize = n
	}
}

// IngestFile parses the file at freq.Path and runs Ingest on the result.
// A file whose type cannot be resolved to a parser terminates the source as
// unsupported; a file that parses to zero rows terminates it as empty.
// The returned error is non-nil only when the store itself is unreachable.
func (p *Pipeline) IngestFile(ctx context.Context, freq FileRequest, rec *SourceRecord) (Outcome, error) {
	ds, err := p.loader.Load(freq.Path, freq.TypeOverride)
	if err != nil {
		switch {
		case errs.IsUnsupportedFormat(err):
			return p.terminate(ctx, rec, StatusUnsupported, err)
		case errs.IsEmptyDataset(err):
			return p.terminate(ctx, rec, StatusEmpty, nil)
		default:
			return p.terminate(ctx, rec, StatusFailed, err)
		}
	}

	return p.Ingest(ctx, Request{
		Headers:     ds.Headers,
		Rows:        ds.Rows,
		TableName:   freq.TableName,
		Conflict:    freq.Conflict,
		Nullability: freq.Nullability,
		Mode:        freq.Mode,
	}, rec)
}

// Abort terminates a source as failed before ingestion proper could start
// (e.g. its download failed). Status writes stay inside the pipeline so the
// single-writer rule holds.
func (p *Pipeline) Abort(ctx context.Context, rec *SourceRecord, cause error) (Outcome, error) {
	return p.terminate(ctx, rec, StatusFailed, cause)
}

// Ingest materializes the target table and loads req.Rows into it in
// batches, applying the conflict policy up front and the widen-and-retry
// repair on not-null violations. The whole call runs on one exclusively
// held store connection, released on every exit path. Already-committed
// batches are never rolled back; partial progress shows up in RowCount.
//
// Per-source failures are reported through the Outcome and never as an
// error; the error return is reserved for a store that cannot hand out a
// connection at all, which poisons every subsequent source in the same run.
func (p *Pipeline) Ingest(ctx context.Context, req Request, rec *SourceRecord) (Outcome, error) {
	log := p.log.With().Str("source", rec.ID).Logger()

	sess, err := p.db.Acquire(ctx)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		return p.outcome(rec, ""), err
	}
	defer sess.Release()

	rec.Status = StatusProcessing
	rec.Error = ""
	if err := p.registry.save(ctx, sess, rec); err != nil {
		return p.finish(ctx, sess, rec, "", StatusFailed, err), nil
	}

	if len(req.Rows) == 0 {
		log.Info("source parsed to zero rows")
		return p.finish(ctx, sess, rec, "", StatusEmpty, nil), nil
	}

	table, err := p.resolveTableName(req.TableName, rec.DisplayName)
	if err != nil {
		return p.finish(ctx, sess, rec, "", StatusFailed, err), nil
	}

	schema := BuildSchema(req.Headers, req.Rows, req.Mode)
	dialect := p.db.Dialect()

	switch req.Conflict {
	case ConflictFail:
		exists, err := sess.TableExists(ctx, table)
		if err != nil {
			return p.finish(ctx, sess, rec, table, StatusFailed, err), nil
		}
		if exists {
			err := errs.New(errs.ErrKindConflict,
				fmt.Sprintf("table %q already exists and conflict policy is fail", table))
			return p.finish(ctx, sess, rec, table, StatusFailed, err), nil
		}
	case ConflictReplace:
		if err := sess.Exec(ctx, DropTableSQL(dialect, table)); err != nil {
			return p.finish(ctx, sess, rec, table, StatusFailed, err), nil
		}
	}

	if err := sess.Exec(ctx, CreateTableSQL(dialect, table, schema, req.Nullability)); err != nil {
		return p.finish(ctx, sess, rec, table, StatusFailed, err), nil
	}

	log.InfoWith("table materialized", map[string]interface{}{
		"table":   table,
		"columns": len(schema.Columns),
		"rows":    len(req.Rows),
	})

	inserted, err := p.insertBatches(ctx, sess, log, table, &schema, req.Rows)
	rec.RowCount = inserted
	if err != nil {
		return p.finish(ctx, sess, rec, table, StatusFailed, err), nil
	}

	return p.finish(ctx, sess, rec, table, StatusProcessed, nil), nil
}

// insertBatches loads rows in fixed-size batches. On a not-null violation
// naming a schema column, the column is widened to nullable and the same
// batch is resubmitted exactly once; a second failure on that batch is
// fatal. Any other failure is fatal immediately. Returns how many rows were
// committed.
func (p *Pipeline) insertBatches(ctx context.Context, sess database.Session, log *logger.Logger,
	table string, schema *TableSchema, rows []map[string]string) (int, error) {

	dialect := p.db.Dialect()
	inserted := 0

	for start := 0; start < len(rows); start += p.batchSize {
		end := start + p.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		sql := InsertSQL(dialect, table, *schema, len(batch))
		args := encodeBatch(batch, *schema)

		err := sess.Exec(ctx, sql, args...)
		if err != nil {
			var nn *database.NotNullViolation
			if !errors.As(err, &nn) || nn.Column == "" {
				return inserted, err
			}

			idx := schema.ColumnIndex(nn.Column)
			if idx < 0 {
				return inserted, err
			}

			log.WarnWith("widening column after not-null violation", map[string]interface{}{
				"table":  table,
				"column": nn.Column,
			})

			if alterErr := sess.Exec(ctx, AlterNullableSQL(dialect, table, schema.Columns[idx])); alterErr != nil {
				return inserted, alterErr
			}
			schema.Columns[idx].Nullable = true

			// One retry only — a batch that fails again is persistently bad
			// and retrying further would loop forever.
			if retryErr := sess.Exec(ctx, sql, args...); retryErr != nil {
				return inserted, errs.Wrap(errs.ErrKindConstraint,
					fmt.Sprintf("batch failed again after widening column %q", nn.Column), retryErr)
			}
		}

		inserted += len(batch)
	}

	return inserted, nil
}

// resolveTableName picks the target table: the explicit override when set,
// otherwise the source file name without its extension, both sanitized.
func (p *Pipeline) resolveTableName(override, displayName string) (string, error) {
	label := override
	if label == "" {
		base := filepath.Base(displayName)
		label = strings.TrimSuffix(base, filepath.Ext(base))
	}

	name := SanitizeIdent(label)
	if name == "" {
		// Unreachable given the sanitizer's fallback, but guarded anyway.
		return "", errs.New(errs.ErrKindBadIdentifier,
			fmt.Sprintf("cannot derive a table name from %q", label))
	}
	return name, nil
}

// finish records the terminal status through the held session and builds
// the outcome. A failed status write is logged but never masks the
// ingestion result.
func (p *Pipeline) finish(ctx context.Context, sess database.Session, rec *SourceRecord,
	table string, status SourceStatus, cause error) Outcome {

	rec.Status = status
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := p.registry.save(ctx, sess, rec); err != nil {
		p.log.ErrorWith("failed to persist source status", err, map[string]interface{}{
			"source": rec.ID,
			"status": string(status),
		})
	}
	return p.outcome(rec, table)
}

// terminate is finish for sources that never produced a dataset (unsupported
// format, parse failure): it acquires a short-lived session just for the
// status write. An unreachable store is reported back as an error so the
// caller can stop the run.
func (p *Pipeline) terminate(ctx context.Context, rec *SourceRecord, status SourceStatus, cause error) (Outcome, error) {
	sess, err := p.db.Acquire(ctx)
	if err != nil {
		rec.Status = status
		if cause != nil {
			rec.Error = cause.Error()
		}
		return p.outcome(rec, ""), err
	}
	defer sess.Release()
	return p.finish(ctx, sess, rec, "", status, cause), nil
}

func (p *Pipeline) outcome(rec *SourceRecord, table string) Outcome {
	return Outcome{
		SourceID: rec.ID,
		Table:    table,
		RowCount: rec.RowCount,
		Status:   rec.Status,
		Error:    rec.Error,
	}
}
