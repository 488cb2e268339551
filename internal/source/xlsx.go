package source

import (
	"github.com/xuri/excelize/v2"

	"github.com/quarrydev/quarry/internal/errs"
	"github.com/quarrydev/quarry/internal/ingest"
)

// parseXLSX reads the first sheet of a spreadsheet; the first row supplies
// the headers.
func parseXLSX(path string) (*ingest.Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot open spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.New(errs.ErrKindEmptyDataset, "spreadsheet has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "cannot read sheet rows", err)
	}

	return tabulate(records)
}
