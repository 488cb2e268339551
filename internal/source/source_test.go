package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydev/quarry/internal/errs"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileLoader_CSV(t *testing.T) {
	path := writeFile(t, "people.csv", "name,age\nalice,30\nbob,41\n")

	ds, err := NewLoader().Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age"}, ds.Headers)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "alice", ds.Rows[0]["name"])
	assert.Equal(t, "41", ds.Rows[1]["age"])
}

func TestFileLoader_TSV(t *testing.T) {
	path := writeFile(t, "people.tsv", "name\tage\ncarol\t25\n")

	ds, err := NewLoader().Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age"}, ds.Headers)
	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "carol", ds.Rows[0]["name"])
}

func TestFileLoader_TypeOverride(t *testing.T) {
	// CSV content behind an unknown extension, rescued by the override.
	path := writeFile(t, "export.dat", "a,b\n1,2\n")

	ds, err := NewLoader().Load(path, "csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ds.Headers)
}

func TestFileLoader_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "report.pdf", "%PDF-1.4")

	_, err := NewLoader().Load(path, "")
	require.Error(t, err)
	assert.True(t, errs.IsUnsupportedFormat(err))
}

func TestFileLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.csv"), "")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestFileLoader_RaggedRows(t *testing.T) {
	// A short row leaves its trailing cells absent; an overlong row's extra
	// cells are dropped.
	path := writeFile(t, "ragged.csv", "a,b,c\n1,2\n1,2,3,4\n")

	ds, err := NewLoader().Load(path, "")
	require.NoError(t, err)

	require.Len(t, ds.Rows, 2)
	_, present := ds.Rows[0]["c"]
	assert.False(t, present)
	assert.Equal(t, "3", ds.Rows[1]["c"])
	assert.Len(t, ds.Rows[1], 3)
}

func TestFileLoader_HeadersOnly(t *testing.T) {
	path := writeFile(t, "empty.csv", "a,b,c\n")

	ds, err := NewLoader().Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ds.Headers)
	assert.Empty(t, ds.Rows)
}

func TestTabulate_NoRecords(t *testing.T) {
	_, err := tabulate(nil)
	require.Error(t, err)
	assert.True(t, errs.IsEmptyDataset(err))
}
