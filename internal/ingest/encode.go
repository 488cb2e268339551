package ingest

import (
	"strconv"
	"strings"
)

// EncodeRow converts one raw row (keyed by original header) into the
// positional parameter list for an insert, one value per column in schema
// order.
//
// Per declared type: an empty or missing cell is NULL whatever the type;
// booleans become 1/0 from the detector's truthy vocabulary; integers and
// floats that fail to parse degrade to NULL rather than aborting the row;
// date and date-time values pass through as their original text — the store
// parses them, this layer never reformats or normalizes timezones.
func EncodeRow(row map[string]string, schema TableSchema) []any {
	params := make([]any, len(schema.Columns))
	for i, col := range schema.Columns {
		raw, ok := row[col.OriginalHeader]
		if !ok || raw == "" {
			params[i] = nil
			continue
		}

		switch col.Type {
		case TypeBoolean:
			if truthy, known := truthyTokens[strings.ToLower(raw)]; known {
				if truthy {
					params[i] = int64(1)
				} else {
					params[i] = int64(0)
				}
			} else {
				params[i] = nil
			}
		case TypeInteger, TypeBigint:
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				params[i] = n
			} else {
				params[i] = nil
			}
		case TypeDouble:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				params[i] = f
			} else {
				params[i] = nil
			}
		default:
			// date, datetime and text all travel as strings
			params[i] = raw
		}
	}
	return params
}

// encodeBatch flattens a batch of rows into one parameter slice matching
// the placeholder order of InsertSQL.
func encodeBatch(rows []map[string]string, schema TableSchema) []any {
	params := make([]any, 0, len(rows)*len(schema.Columns))
	for _, row := range rows {
		params = append(params, EncodeRow(row, schema)...)
	}
	return params
}
