package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/logger"
)

// fakeDB records every executed statement and lets tests script failures
// per call. It satisfies database.DB and hands out sessions backed by the
// same recorder.
type fakeDB struct {
	dialect database.Dialect
	execs   []execCall

	// onExec, when set, decides the outcome of each Exec (DB or session).
	onExec func(sql string, args []any) error

	tableExists    bool
	tableExistsErr error
	acquireErr     error
	released       int
}

type execCall struct {
	sql  string
	args []any
}

func (f *fakeDB) Ping(context.Context) error       { return nil }
func (f *fakeDB) Close()                           {}
func (f *fakeDB) Dialect() database.Dialect        { return f.dialect }
func (f *fakeDB) ListTables(context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeDB) InspectTable(context.Context, string) ([]database.ColumnInfo, error) {
	return nil, nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) error {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.onExec != nil {
		return f.onExec(sql, args)
	}
	return nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (database.Rows, error) {
	return nil, errs.New(errs.ErrKindQueryFailed, "not scripted")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) database.Row {
	return fakeRow{err: errs.New(errs.ErrKindNotFound, "not scripted")}
}

func (f *fakeDB) TableExists(context.Context, string) (bool, error) {
	return f.tableExists, f.tableExistsErr
}

func (f *fakeDB) Acquire(context.Context) (database.Session, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &fakeSession{db: f}, nil
}

type fakeSession struct {
	db *fakeDB
}

func (s *fakeSession) Exec(ctx context.Context, sql string, args ...any) error {
	return s.db.Exec(ctx, sql, args...)
}
func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	return s.db.Query(ctx, sql, args...)
}
func (s *fakeSession) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return s.db.QueryRow(ctx, sql, args...)
}
func (s *fakeSession) TableExists(ctx context.Context, table string) (bool, error) {
	return s.db.TableExists(ctx, table)
}
func (s *fakeSession) Release() { s.db.released++ }

type fakeRow struct{ err error }

func (r fakeRow) Scan(...any) error { return r.err }

// sqlWithPrefix filters the recorded statements by verb.
func (f *fakeDB) sqlWithPrefix(prefix string) []execCall {
	var out []execCall
	for _, c := range f.execs {
		if strings.HasPrefix(c.sql, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func notNullErr(column string) error {
	return errs.Wrap(errs.ErrKindConstraint, "null value in column",
		&database.NotNullViolation{Table: "t", Column: column, Cause: errors.New("23502")})
}

func makeRows(n int) []map[string]string {
	rows := make([]map[string]string, n)
	for i := range rows {
		rows[i] = map[string]string{"id": strconv.Itoa(i), "name": "row"}
	}
	return rows
}

func newTestPipeline(db *fakeDB) (*Pipeline, *SourceRecord) {
	p := New(db, NewRegistry(db), nil, logger.Nop())
	rec := &SourceRecord{ID: "src-1", DisplayName: "orders.csv", Status: StatusPending}
	return p, rec
}

func baseRequest(rows []map[string]string) Request {
	return Request{
		Headers:     []string{"id", "name"},
		Rows:        rows,
		Conflict:    ConflictAppend,
		Nullability: NullabilityAll,
		Mode:        ModeAdaptive,
	}
}

func TestPipeline_IngestBatches(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(1200)), rec)
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, outcome.Status)
	assert.Equal(t, "orders", outcome.Table)
	assert.Equal(t, 1200, outcome.RowCount)
	assert.Empty(t, outcome.Error)

	require.Len(t, db.sqlWithPrefix("CREATE TABLE"), 1)
	inserts := db.sqlWithPrefix("INSERT INTO")
	require.Len(t, inserts, 3, "1200 rows at batch size 500")

	// Each batch's flattened parameter list matches its placeholder count.
	assert.Len(t, inserts[0].args, 500*2)
	assert.Len(t, inserts[2].args, 200*2)

	assert.Equal(t, 1, db.released, "session released exactly once")
}

func TestPipeline_WidenAndRetry(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	failOnce := true
	db.onExec = func(sql string, _ []any) error {
		if strings.HasPrefix(sql, "INSERT") && failOnce {
			failOnce = false
			return notNullErr("name")
		}
		return nil
	}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(10)), rec)
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, outcome.Status)
	assert.Equal(t, 10, outcome.RowCount)

	alters := db.sqlWithPrefix("ALTER TABLE")
	require.Len(t, alters, 1)
	assert.Contains(t, alters[0].sql, `"name"`)
	assert.Contains(t, alters[0].sql, "DROP NOT NULL")

	// Failing insert plus its single retry.
	assert.Len(t, db.sqlWithPrefix("INSERT INTO"), 2)
}

func TestPipeline_SecondFailureIsFatal(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	db.onExec = func(sql string, _ []any) error {
		if strings.HasPrefix(sql, "INSERT") {
			return notNullErr("name")
		}
		return nil
	}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(10)), rec)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 0, outcome.RowCount)
	assert.Contains(t, outcome.Error, "failed again after widening")

	// One widen attempt, one retry, no loop.
	assert.Len(t, db.sqlWithPrefix("ALTER TABLE"), 1)
	assert.Len(t, db.sqlWithPrefix("INSERT INTO"), 2)
}

func TestPipeline_PartialProgressSurvivesLateFailure(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	insertCount := 0
	db.onExec = func(sql string, _ []any) error {
		if strings.HasPrefix(sql, "INSERT") {
			insertCount++
			if insertCount >= 2 {
				return errs.New(errs.ErrKindQueryFailed, "disk full")
			}
		}
		return nil
	}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(700)), rec)
	require.NoError(t, err)

	// The first committed batch is never rolled back.
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 500, outcome.RowCount)
}

func TestPipeline_UnknownColumnNotRepaired(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	db.onExec = func(sql string, _ []any) error {
		if strings.HasPrefix(sql, "INSERT") {
			return notNullErr("no_such_column")
		}
		return nil
	}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(5)), rec)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Empty(t, db.sqlWithPrefix("ALTER TABLE"))
}

func TestPipeline_ConflictFail(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres, tableExists: true}
	p, rec := newTestPipeline(db)

	req := baseRequest(makeRows(5))
	req.Conflict = ConflictFail
	outcome, err := p.Ingest(context.Background(), req, rec)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "already exists")
	assert.Empty(t, db.sqlWithPrefix("CREATE TABLE"))
	assert.Empty(t, db.sqlWithPrefix("INSERT INTO"))
}

func TestPipeline_ConflictReplace(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres, tableExists: true}
	p, rec := newTestPipeline(db)

	req := baseRequest(makeRows(5))
	req.Conflict = ConflictReplace
	outcome, err := p.Ingest(context.Background(), req, rec)
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, outcome.Status)
	require.Len(t, db.sqlWithPrefix("DROP TABLE"), 1)

	// Drop precedes create.
	var dropIdx, createIdx int
	for i, c := range db.execs {
		if strings.HasPrefix(c.sql, "DROP TABLE") {
			dropIdx = i
		}
		if strings.HasPrefix(c.sql, "CREATE TABLE") {
			createIdx = i
		}
	}
	assert.Less(t, dropIdx, createIdx)
}

func TestPipeline_EmptyRows(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	p, rec := newTestPipeline(db)

	outcome, err := p.Ingest(context.Background(), baseRequest(nil), rec)
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, outcome.Status)
	assert.Equal(t, 0, outcome.RowCount)
	assert.Empty(t, db.sqlWithPrefix("CREATE TABLE"))
}

func TestPipeline_TableNameOverride(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	p, rec := newTestPipeline(db)

	req := baseRequest(makeRows(1))
	req.TableName = "My Target Table"
	outcome, err := p.Ingest(context.Background(), req, rec)
	require.NoError(t, err)

	assert.Equal(t, "my_target_table", outcome.Table)
}

type stubLoader struct {
	ds  *Dataset
	err error
}

func (l stubLoader) Load(string, string) (*Dataset, error) { return l.ds, l.err }

func TestPipeline_IngestFileTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		loadErr error
		status  SourceStatus
	}{
		{"unsupported format", errs.New(errs.ErrKindUnsupportedFormat, "no parser"), StatusUnsupported},
		{"empty dataset", errs.New(errs.ErrKindEmptyDataset, "no rows"), StatusEmpty},
		{"parse failure", errs.New(errs.ErrKindInvalidInput, "bad bytes"), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{dialect: database.DialectPostgres}
			p := New(db, NewRegistry(db), stubLoader{err: tt.loadErr}, logger.Nop())
			rec := &SourceRecord{ID: "s", DisplayName: "s.bin"}

			outcome, err := p.IngestFile(context.Background(), FileRequest{Path: "/tmp/s.bin"}, rec)
			require.NoError(t, err)

			assert.Equal(t, tt.status, outcome.Status)
			// The terminal status is persisted even without ingestion.
			assert.NotEmpty(t, db.sqlWithPrefix("UPDATE"))
		})
	}
}

func TestPipeline_Abort(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	p, rec := newTestPipeline(db)

	outcome, err := p.Abort(context.Background(), rec, errs.New(errs.ErrKindConnectionFailed, "download failed"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "download failed")
}

func TestPipeline_AcquireFailureAbortsRun(t *testing.T) {
	db := &fakeDB{
		dialect:    database.DialectPostgres,
		acquireErr: errs.New(errs.ErrKindConnectionFailed, "pool exhausted"),
	}
	p, rec := newTestPipeline(db)

	// A store that cannot hand out a connection would poison every source in
	// the run, so the failure comes back as an error, not just an outcome.
	outcome, err := p.Ingest(context.Background(), baseRequest(makeRows(5)), rec)
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Empty(t, db.execs)
}
