package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
)

func TestRegistry_EnsureTable(t *testing.T) {
	db := &fakeDB{dialect: database.DialectPostgres}
	require.NoError(t, NewRegistry(db).EnsureTable(context.Background()))

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, `CREATE TABLE IF NOT EXISTS "ingest_sources"`)
	assert.Contains(t, db.execs[0].sql, "TIMESTAMP")

	// Repeating the call issues the same idempotent DDL again.
	require.NoError(t, NewRegistry(db).EnsureTable(context.Background()))
	assert.Equal(t, db.execs[0].sql, db.execs[1].sql)
}

func TestRegistry_Register(t *testing.T) {
	t.Run("rejects empty id", func(t *testing.T) {
		db := &fakeDB{dialect: database.DialectPostgres}
		err := NewRegistry(db).Register(context.Background(), &SourceRecord{})
		require.Error(t, err)
		assert.True(t, errs.IsInvalidInput(err))
		assert.Empty(t, db.execs)
	})

	t.Run("resets the record to pending", func(t *testing.T) {
		db := &fakeDB{dialect: database.DialectPostgres}
		rec := &SourceRecord{
			ID:       "src",
			RowCount: 99,
			Status:   StatusFailed,
			Error:    "old failure",
		}
		require.NoError(t, NewRegistry(db).Register(context.Background(), rec))

		assert.Equal(t, StatusPending, rec.Status)
		assert.Zero(t, rec.RowCount)
		assert.Empty(t, rec.Error)
		assert.False(t, rec.UpdatedAt.IsZero())

		require.Len(t, db.execs, 1)
		assert.Contains(t, db.execs[0].sql, "ON CONFLICT")
		assert.Len(t, db.execs[0].args, 7)
	})

	t.Run("mysql upsert syntax", func(t *testing.T) {
		db := &fakeDB{dialect: database.DialectMySQL}
		rec := &SourceRecord{ID: "src"}
		require.NoError(t, NewRegistry(db).Register(context.Background(), rec))

		require.Len(t, db.execs, 1)
		assert.Contains(t, db.execs[0].sql, "ON DUPLICATE KEY UPDATE")
		assert.NotContains(t, db.execs[0].sql, "$1")
	})
}
