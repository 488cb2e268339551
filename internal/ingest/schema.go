package ingest

import (
	"fmt"
	"strings"

	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/errs"
)

// ConflictPolicy selects what happens when the target table already exists.
type ConflictPolicy string

const (
	ConflictAppend  ConflictPolicy = "append"  // insert into the existing table
	ConflictReplace ConflictPolicy = "replace" // drop and recreate (destructive)
	ConflictFail    ConflictPolicy = "fail"    // refuse, mark the source failed
)

// ParseConflictPolicy validates a user-supplied policy string.
// Empty input selects append.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "":
		return ConflictAppend, nil
	case ConflictAppend, ConflictReplace, ConflictFail:
		return ConflictPolicy(s), nil
	}
	return "", errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown conflict policy %q", s))
}

// NullabilityPolicy selects how generated DDL declares column nullability.
type NullabilityPolicy string

const (
	// NullabilityAll declares every column nullable regardless of detection.
	// A deliberate hedge against detector false negatives on unseen data.
	NullabilityAll NullabilityPolicy = "all-nullable"

	// NullabilityInferred follows the detector's per-column verdict.
	NullabilityInferred NullabilityPolicy = "inferred"
)

// ParseNullabilityPolicy validates a user-supplied policy string.
// Empty input selects all-nullable.
func ParseNullabilityPolicy(s string) (NullabilityPolicy, error) {
	switch NullabilityPolicy(s) {
	case "":
		return NullabilityAll, nil
	case NullabilityAll, NullabilityInferred:
		return NullabilityPolicy(s), nil
	}
	return "", errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown nullability policy %q", s))
}

// ParseStrictness validates a user-supplied detector mode.
// Empty input selects conservative.
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(s) {
	case "":
		return ModeConservative, nil
	case ModeAdaptive, ModeConservative:
		return Strictness(s), nil
	}
	return "", errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown strictness mode %q", s))
}

// Defaults carries the deployment-wide policy defaults applied when a
// request does not choose its own.
type Defaults struct {
	Conflict    ConflictPolicy
	Nullability NullabilityPolicy
	Mode        Strictness
}

// ParseDefaults validates the three configured policy strings together.
// Empty strings select the shipped defaults (append, all-nullable,
// conservative).
func ParseDefaults(conflict, nullability, mode string) (Defaults, error) {
	var d Defaults
	var err error
	if d.Conflict, err = ParseConflictPolicy(conflict); err != nil {
		return Defaults{}, err
	}
	if d.Nullability, err = ParseNullabilityPolicy(nullability); err != nil {
		return Defaults{}, err
	}
	if d.Mode, err = ParseStrictness(mode); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

// ColumnSchema is one column of a target table.
type ColumnSchema struct {
	// Name is the sanitized identifier, unique within the table.
	Name string

	// OriginalHeader is the source label used to look values up in a row.
	OriginalHeader string

	Type     ColumnType
	Nullable bool
}

// TableSchema is the ordered column set of a target table. Column order is
// fixed at build time and every insert statement follows it.
type TableSchema struct {
	Columns []ColumnSchema
}

// ColumnIndex returns the position of the column with the given sanitized
// name, or -1.
func (s *TableSchema) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// BuildSchema derives a TableSchema from the source headers and a bounded
// sample of its rows. Duplicate headers are disambiguated by suffixing;
// types and nullability come from DetectColumn under the given mode.
func BuildSchema(headers []string, rows []map[string]string, mode Strictness) TableSchema {
	sample := rows
	if len(sample) > SampleLimit {
		sample = sample[:SampleLimit]
	}

	names := dedupIdents(headers)
	schema := TableSchema{Columns: make([]ColumnSchema, len(headers))}

	cells := make([]string, len(sample))
	for i, header := range headers {
		for j, row := range sample {
			cells[j] = row[header] // absent key yields "", same as empty cell
		}
		colType, nullable := DetectColumn(cells, mode)
		schema.Columns[i] = ColumnSchema{
			Name:           names[i],
			OriginalHeader: header,
			Type:           colType,
			Nullable:       nullable,
		}
	}
	return schema
}

// sqlTypeName maps a semantic type onto the dialect's storage type.
// Booleans are stored as small integers on Postgres because the encoder
// emits 1/0 values.
func sqlTypeName(d database.Dialect, t ColumnType) string {
	switch t {
	case TypeBoolean:
		if d == database.DialectMySQL {
			return "BOOLEAN"
		}
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeBigint:
		return "BIGINT"
	case TypeDouble:
		if d == database.DialectMySQL {
			return "DOUBLE"
		}
		return "DOUBLE PRECISION"
	case TypeDate:
		return "DATE"
	case TypeDateTime:
		if d == database.DialectMySQL {
			return "DATETIME"
		}
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// CreateTableSQL renders idempotent table-creation DDL. The existence guard
// is part of the statement, so issuing it twice never fails; the conflict
// policy is the pipeline's concern, not the renderer's.
func CreateTableSQL(d database.Dialect, table string, schema TableSchema, np NullabilityPolicy) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		null := "NOT NULL"
		if np == NullabilityAll || c.Nullable {
			null = "NULL"
		}
		cols[i] = fmt.Sprintf("%s %s %s", d.QuoteIdent(c.Name), sqlTypeName(d, c.Type), null)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.QuoteIdent(table), strings.Join(cols, ", "))
}

// InsertSQL renders a multi-row insert covering batchLen rows, one
// placeholder group per row in schema column order.
func InsertSQL(d database.Dialect, table string, schema TableSchema, batchLen int) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = d.QuoteIdent(c.Name)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	argIdx := 1
	for r := 0; r < batchLen; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := range schema.Columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(argIdx))
			argIdx++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// AlterNullableSQL renders the repair statement that relaxes one column to
// nullable after a not-null violation.
func AlterNullableSQL(d database.Dialect, table string, col ColumnSchema) string {
	if d == database.DialectMySQL {
		return fmt.Sprintf("ALTER TABLE %s MODIFY %s %s NULL",
			d.QuoteIdent(table), d.QuoteIdent(col.Name), sqlTypeName(d, col.Type))
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL",
		d.QuoteIdent(table), d.QuoteIdent(col.Name))
}

// DropTableSQL renders the destructive drop used by the replace policy.
func DropTableSQL(d database.Dialect, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.QuoteIdent(table))
}
