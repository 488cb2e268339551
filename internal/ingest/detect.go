package ingest

import (
	"regexp"
	"strings"
)

// SampleLimit bounds how many rows feed type detection. Larger sources are
// not fully scanned — bounded cost is worth the occasional misclassification,
// which the widen-and-retry repair absorbs.
const SampleLimit = 1000

// ColumnType is the closed set of semantic SQL types a column can take.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeBoolean
	TypeInteger
	TypeBigint
	TypeDouble
	TypeDate
	TypeDateTime
)

func (t ColumnType) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeBigint:
		return "bigint"
	case TypeDouble:
		return "double"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	default:
		return "text"
	}
}

// Strictness selects how aggressively the detector classifies columns.
type Strictness string

const (
	// ModeAdaptive applies the full classification ladder.
	ModeAdaptive Strictness = "adaptive"

	// ModeConservative forces every column to text. Zero insertion-time
	// coercion failures, at the cost of query-time type safety. The safer
	// choice for unattended ingestion of unpredictable sources.
	ModeConservative Strictness = "conservative"
)

// truthyTokens is the shared boolean vocabulary used by both the detector
// and the row encoder. Keys are lowercase.
var truthyTokens = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true,
	"false": false, "no": false, "n": false, "0": false,
}

var (
	intPattern      = regexp.MustCompile(`^[+-]?[0-9]+$`)
	numPattern      = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)
	datePattern     = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	dateTimePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9]{2}:[0-9]{2}:[0-9]{2}(\.[0-9]+)?$`)
)

// DetectColumn classifies one column's sampled cells into a semantic type
// and a nullability flag. Cells must be passed positionally — an absent
// cell is the empty string, and any empty cell marks the column nullable.
//
// Classification runs every non-empty value through a priority ladder:
// boolean, integer (always widened to bigint so later data cannot
// overflow), numeric, date-time, date. A mixed date/date-time sample
// widens to date-time. Anything else is text, as is a column with no
// non-empty samples at all.
func DetectColumn(cells []string, mode Strictness) (ColumnType, bool) {
	nonNull := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			nonNull = append(nonNull, c)
		}
	}
	nullable := len(nonNull) < len(cells)

	if mode == ModeConservative || len(nonNull) == 0 {
		return TypeText, nullable
	}

	allBool, allInt, allNum := true, true, true
	allDateTime, allDateOrDT := true, true
	anyDateTime := false

	for _, v := range nonNull {
		if _, ok := truthyTokens[strings.ToLower(v)]; !ok {
			allBool = false
		}
		if !intPattern.MatchString(v) {
			allInt = false
		}
		if !numPattern.MatchString(v) {
			allNum = false
		}
		isDT := dateTimePattern.MatchString(v)
		if isDT {
			anyDateTime = true
		} else {
			allDateTime = false
		}
		if !isDT && !datePattern.MatchString(v) {
			allDateOrDT = false
		}
	}

	switch {
	case allBool:
		return TypeBoolean, nullable
	case allInt:
		// Always the widest integer type — a narrower pick risks overflow
		// when rows beyond the sample arrive.
		return TypeBigint, nullable
	case allNum:
		return TypeDouble, nullable
	case allDateTime:
		return TypeDateTime, nullable
	case allDateOrDT && anyDateTime:
		return TypeDateTime, nullable
	case allDateOrDT:
		return TypeDate, nullable
	default:
		return TypeText, nullable
	}
}
