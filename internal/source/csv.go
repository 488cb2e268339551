package source

import (
	"encoding/csv"
	"os"

	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/ingest"
)

// parseDelimited reads a delimited text file with the given separator.
// Ragged rows are tolerated — real-world exports rarely keep a constant
// field count.
func parseDelimited(path string, comma rune) (*ingest.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot open source file", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "malformed delimited data", err)
	}

	return tabulate(records)
}
