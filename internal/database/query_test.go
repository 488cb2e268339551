package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "$1", DialectPostgres.Placeholder(1))
	assert.Equal(t, "$7", DialectPostgres.Placeholder(7))
	assert.Equal(t, "?", DialectMySQL.Placeholder(1))
	assert.Equal(t, "?", DialectMySQL.Placeholder(7))
}

func TestDialect_QuoteIdent(t *testing.T) {
	assert.Equal(t, `"order"`, DialectPostgres.QuoteIdent("order"))
	assert.Equal(t, "`order`", DialectMySQL.QuoteIdent("order"))

	// Embedded quote characters are doubled, not stripped.
	assert.Equal(t, `"a""b"`, DialectPostgres.QuoteIdent(`a"b`))
	assert.Equal(t, "`a``b`", DialectMySQL.QuoteIdent("a`b"))
}

func TestSelectBuilder(t *testing.T) {
	t.Run("bare select", func(t *testing.T) {
		sql, args, err := Select("events", DialectPostgres).Build()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "events"`, sql)
		assert.Empty(t, args)
	})

	t.Run("columns and where", func(t *testing.T) {
		sql, args, err := Select("orders", DialectPostgres).
			Columns("id", "total").
			Where("status", "=", "open").
			Where("total", ">", 100).
			Build()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "id", "total" FROM "orders" WHERE "status" = $1 AND "total" > $2`,
			sql)
		assert.Equal(t, []any{"open", 100}, args)
	})

	t.Run("limit and offset are parameterized", func(t *testing.T) {
		sql, args, err := Select("t", DialectPostgres).Limit(10).Offset(20).Build()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "t" LIMIT $1 OFFSET $2`, sql)
		assert.Equal(t, []any{10, 20}, args)
	})

	t.Run("mysql placeholders", func(t *testing.T) {
		sql, args, err := Select("t", DialectMySQL).
			Where("name", "LIKE", "a%").
			Limit(5).
			Build()
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM `t` WHERE `name` LIKE ? LIMIT ?", sql)
		assert.Equal(t, []any{"a%", 5}, args)
	})

	t.Run("operator outside the allowlist is rejected", func(t *testing.T) {
		_, _, err := Select("t", DialectPostgres).
			Where("id", "; DROP TABLE t; --", 1).
			Build()
		require.Error(t, err)
	})
}
