package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

const sampleCSV = "\ufeffLATITUDE,LONGITUDE,INVAGE,HOOD_174,YEAR,HOUR\n" +
	"43.65,-79.38,20 to 24,77,2019,17\n" +
	",-79.40,25 to 29,NSA,2020,8\n" +
	"43.70,-79.41,unknown,,2020,23\n"

func TestReadCSV(t *testing.T) {
	df, err := ReadCSV(strings.NewReader(sampleCSV), 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"LATITUDE", "LONGITUDE", "INVAGE", "HOOD_174", "YEAR", "HOUR"}, df.Names())
	assert.Equal(t, 3, df.Nrow())

	lat := df.Col("LATITUDE")
	assert.False(t, lat.Elem(0).IsNA())
	assert.True(t, lat.Elem(1).IsNA())
	assert.True(t, df.Col("HOOD_174").Elem(2).IsNA())
	assert.Equal(t, "NSA", df.Col("HOOD_174").Elem(1).String())
}

func TestReadCSVBoundsRows(t *testing.T) {
	df, err := ReadCSV(strings.NewReader(sampleCSV), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, df.Nrow())
}

func TestReadCSVHeaderOnly(t *testing.T) {
	df, err := ReadCSV(strings.NewReader("LATITUDE,LONGITUDE\n"), 5)
	require.NoError(t, err)
	assert.Equal(t, 0, df.Nrow())
	assert.Equal(t, 2, df.Ncol())
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), 5)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestReadCSVRaggedRows(t *testing.T) {
	df, err := ReadCSV(strings.NewReader("A,B,C\n1,2\n1,2,3,4\n"), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, df.Nrow())
	assert.True(t, df.Col("C").Elem(0).IsNA())
	assert.Equal(t, "3", df.Col("C").Elem(1).String())
}

func TestSourceReadCSVWithEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ksi.csv")
	// "Café" 的 windows-1252 编码
	body := []byte("STREET1,LATITUDE\nCaf\xe9 St,43.6\n")
	require.NoError(t, os.WriteFile(path, body, 0644))

	src := &Source{Path: path, Encoding: "windows-1252"}
	df, err := src.Read(10)
	require.NoError(t, err)
	assert.Equal(t, "Café St", df.Col("STREET1").Elem(0).String())
}

func TestSourceReadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := (&Source{Path: filepath.Join(dir, "nope.csv")}).Read(10)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := (&Source{Path: filepath.Join(dir, "ksi.parquet")}).Read(10)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("unknown encoding", func(t *testing.T) {
		path := filepath.Join(dir, "ksi.csv")
		require.NoError(t, os.WriteFile(path, []byte("A\n1\n"), 0644))
		_, err := (&Source{Path: path, Encoding: "ebcdic"}).Read(10)
		assert.ErrorIs(t, err, ErrUnsupportedEncoding)
	})

	t.Run("non positive rows", func(t *testing.T) {
		_, err := (&Source{Path: filepath.Join(dir, "ksi.csv")}).Read(0)
		assert.Error(t, err)
	})
}

func writeXLSX(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("KSI")
	require.NoError(t, err)
	for _, values := range rows {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))
}

func TestSourceReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ksi.xlsx")
	writeXLSX(t, path, [][]string{
		{"Toronto KSI export"},
		{"LATITUDE", "LONGITUDE", "INVAGE", "HOOD_174", "YEAR", "HOUR"},
		{"43.65", "-79.38", "20 to 24", "77", "2019", "17"},
		{"43.66", "-79.39", "30 to 34", "NSA", "2020", "2"},
		{"43.67", "-79.40", "35 to 39", "12", "2021", "3"},
	})

	src := &Source{Path: path, SheetName: "KSI", HeaderRow: 1}
	df, err := src.Read(2)
	require.NoError(t, err)

	assert.Equal(t, 2, df.Nrow())
	assert.Equal(t, "HOOD_174", df.Names()[3])
	assert.Equal(t, "NSA", df.Col("HOOD_174").Elem(1).String())

	_, err = (&Source{Path: path, SheetName: "Other"}).Read(2)
	assert.Error(t, err)

	_, err = (&Source{Path: path, HeaderRow: 10}).Read(2)
	assert.ErrorIs(t, err, ErrEmptySource)
}
