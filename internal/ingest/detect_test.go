package ingest

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectColumn(t *testing.T) {
	tests := []struct {
		name     string
		cells    []string
		want     ColumnType
		nullable bool
	}{
		{"all integers", []string{"1", "2", "3"}, TypeBigint, false},
		{"negative and signed integers", []string{"-5", "+12", "0"}, TypeBigint, false},
		{"floats with a gap", []string{"1.5", "2", ""}, TypeDouble, true},
		{"bare decimal point", []string{".5", "0.25"}, TypeDouble, false},
		{"boolean vocabulary", []string{"true", "no", "1"}, TypeBoolean, false},
		{"boolean case folded", []string{"TRUE", "Yes", "N"}, TypeBoolean, false},
		{"pure dates", []string{"2024-01-01", "2024-12-31"}, TypeDate, false},
		{"pure datetimes", []string{"2024-01-01 10:00:00", "2024-01-01T23:59:59"}, TypeDateTime, false},
		{"mixed date and datetime widens", []string{"2024-01-01", "2024-02-02 10:00:00"}, TypeDateTime, false},
		{"fractional seconds", []string{"2024-01-01 10:00:00.123"}, TypeDateTime, false},
		{"mixed types degrade to text", []string{"1", "apple"}, TypeText, false},
		{"all empty is text nullable", []string{"", "", ""}, TypeText, true},
		{"no cells is text", nil, TypeText, false},
		{"thousands separator is not numeric", []string{"1,000"}, TypeText, false},
		{"scientific notation is not numeric", []string{"1e5"}, TypeText, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			colType, nullable := DetectColumn(tt.cells, ModeAdaptive)
			assert.Equal(t, tt.want, colType)
			assert.Equal(t, tt.nullable, nullable)
		})
	}
}

func TestDetectColumn_ConservativeForcesText(t *testing.T) {
	cells := []string{"1", "2", "3"}

	colType, nullable := DetectColumn(cells, ModeConservative)
	assert.Equal(t, TypeText, colType)
	assert.False(t, nullable)

	colType, nullable = DetectColumn([]string{"1", ""}, ModeConservative)
	assert.Equal(t, TypeText, colType)
	assert.True(t, nullable)
}

func TestDetectColumn_BooleanBeatsInteger(t *testing.T) {
	// "1" and "0" satisfy both ladders; boolean wins because it runs first.
	colType, _ := DetectColumn([]string{"1", "0", "1"}, ModeAdaptive)
	assert.Equal(t, TypeBoolean, colType)
}

func TestBuildSchema_SampleBound(t *testing.T) {
	// Rows beyond the sample limit must not influence the verdict: the
	// poisoned text value sits past the boundary.
	rows := make([]map[string]string, SampleLimit+1)
	for i := range rows {
		rows[i] = map[string]string{"n": strconv.Itoa(i)}
	}
	rows[SampleLimit]["n"] = "not a number"

	schema := BuildSchema([]string{"n"}, rows, ModeAdaptive)
	assert.Equal(t, TypeBigint, schema.Columns[0].Type)
}
