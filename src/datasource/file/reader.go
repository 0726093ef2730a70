// reader.go
package file

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"KSIDashboard/src/config"
)

var (
	ErrUnsupportedFormat   = errors.New("unsupported source format")
	ErrUnsupportedEncoding = errors.New("unsupported source encoding")
	ErrEmptySource         = errors.New("source has no header row")
)

// naValues 与 pandas 默认缺失值一致的子集
var naValues = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "<NA>", "<nil>"}

// Source 固定的表格数据源
type Source struct {
	Path      string
	Encoding  string // 仅对 csv 生效
	SheetName string // 仅对 xlsx 生效, 空则第一个工作表
	HeaderRow int    // 仅对 xlsx 生效
}

func NewSource(cfg *config.Config) *Source {
	return &Source{
		Path:      cfg.SourcePath(),
		Encoding:  cfg.SourceEncoding,
		SheetName: cfg.SheetName,
		HeaderRow: cfg.HeaderRow,
	}
}

// Read 读取标题行和至多 maxRows 行数据, 所有列均为字符串, 缺失值为 NA
func (s *Source) Read(maxRows int) (dataframe.DataFrame, error) {
	if maxRows <= 0 {
		return dataframe.DataFrame{}, fmt.Errorf("max rows must be positive, got %d", maxRows)
	}

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv", ".txt":
		return s.readCSV(maxRows)
	case ".xlsx":
		return s.readXLSX(maxRows)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, s.Path)
	}
}

func (s *Source) readCSV(maxRows int) (dataframe.DataFrame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r, err := decodeReader(f, s.Encoding)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return ReadCSV(r, maxRows)
}

// ReadCSV 从 r 读取 csv
func ReadCSV(r io.Reader, maxRows int) (dataframe.DataFrame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return dataframe.DataFrame{}, ErrEmptySource
	}
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("read csv header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	records := [][]string{header}
	for len(records)-1 < maxRows {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("read csv row %d: %w", len(records), err)
		}
		records = append(records, row)
	}

	return FrameFromRecords(records)
}

func (s *Source) readXLSX(maxRows int) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(s.Path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file: %w", err)
	}

	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表: %s", s.Path)
	}
	sheet := xlFile.Sheets[0]
	if s.SheetName != "" {
		var ok bool
		if sheet, ok = xlFile.Sheet[s.SheetName]; !ok {
			return dataframe.DataFrame{}, fmt.Errorf("sheet %q not found in %s", s.SheetName, s.Path)
		}
	}

	return convertSheetToDataFrame(sheet, s.HeaderRow, maxRows)
}

// convertSheetToDataFrame 将xlsx.Sheet转换为dataframe.DataFrame
func convertSheetToDataFrame(sheet *xlsx.Sheet, headerRow, maxRows int) (dataframe.DataFrame, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) || sheet.Rows[headerRow] == nil {
		return dataframe.DataFrame{}, ErrEmptySource
	}

	var header []string
	for _, cell := range sheet.Rows[headerRow].Cells {
		header = append(header, strings.TrimSpace(cell.Value))
	}

	records := [][]string{header}
	for _, row := range sheet.Rows[headerRow+1:] {
		if len(records)-1 >= maxRows {
			break
		}
		values := make([]string, 0, len(header))
		if row != nil {
			for _, cell := range row.Cells {
				values = append(values, cell.Value)
			}
		}
		records = append(records, values)
	}

	return FrameFromRecords(records)
}

// FrameFromRecords 第一行为列名; 行宽不足补 NA, 超出截断
func FrameFromRecords(records [][]string) (dataframe.DataFrame, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		return dataframe.DataFrame{}, ErrEmptySource
	}
	header := records[0]
	rows := records[1:]

	columns := make([][]string, len(header))
	for i := range columns {
		columns[i] = make([]string, len(rows))
	}
	for r, row := range rows {
		for i := range header {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			columns[i][r] = normalizeNA(v)
		}
	}

	seriesList := make([]series.Series, len(header))
	for i, colName := range header {
		seriesList[i] = series.New(columns[i], series.String, colName)
	}

	df := dataframe.New(seriesList...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("build dataframe: %w", df.Err)
	}
	return df, nil
}

// normalizeNA gota 把字符串 "NaN" 视为缺失值
func normalizeNA(v string) string {
	for _, na := range naValues {
		if strings.TrimSpace(v) == na {
			return "NaN"
		}
	}
	return v
}

func decodeReader(r io.Reader, name string) (io.Reader, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "gbk", "gb2312":
		enc = simplifiedchinese.GBK
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
