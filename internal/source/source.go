// Package source parses local tabular files into the headers+rows structure
// the ingestion pipeline consumes. Parser selection is driven by file
// extension, with an optional explicit override.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/ingest"
)

// FileLoader implements ingest.Loader for local files.
type FileLoader struct{}

// NewLoader returns a FileLoader.
func NewLoader() *FileLoader {
	return &FileLoader{}
}

// Load parses the file at path. typeOverride, when non-empty, selects the
// parser instead of the file extension ("csv", "tsv", "xlsx").
func (l *FileLoader) Load(path, typeOverride string) (*ingest.Dataset, error) {
	kind := typeOverride
	if kind == "" {
		kind = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	switch strings.ToLower(kind) {
	case "csv":
		return parseDelimited(path, ',')
	case "tsv", "tab":
		return parseDelimited(path, '\t')
	case "xlsx", "xlsm":
		return parseXLSX(path)
	default:
		return nil, errs.New(errs.ErrKindUnsupportedFormat,
			fmt.Sprintf("no parser for source type %q", kind))
	}
}

// tabulate converts raw records (first record = headers) into a Dataset.
// Short rows leave their trailing cells absent; extra cells beyond the
// header count are dropped.
func tabulate(records [][]string) (*ingest.Dataset, error) {
	if len(records) == 0 {
		return nil, errs.New(errs.ErrKindEmptyDataset, "source has no header row")
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)

	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return &ingest.Dataset{Headers: headers, Rows: rows}, nil
}
