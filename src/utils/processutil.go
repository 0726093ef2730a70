package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// HasColumn 判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// WriteExcel 将DataFrame写成xlsx, NA 写为空单元格
func WriteExcel(df dataframe.DataFrame, sheetName string, w io.Writer) error {
	if df.Err != nil {
		return fmt.Errorf("dataframe error: %w", df.Err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheetName == "" {
		sheetName = "Sheet1"
	}
	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("重命名工作表失败: %w", err)
		}
	}

	// 写入列名
	colNames := df.Names()
	cols := make([]series.Series, len(colNames))
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return err
		}
		cols[i] = df.Col(name)
	}

	// 写入数据
	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, col := range cols {
			elem := col.Elem(rowIdx)
			if elem.IsNA() {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, elem.Val()); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("写入Excel失败: %w", err)
	}
	return nil
}

// SaveToExcel 将DataFrame保存为Excel文件
func SaveToExcel(df dataframe.DataFrame, sheetName, filePath string) error {
	out, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("创建Excel文件失败: %w", err)
	}
	if err := WriteExcel(df, sheetName, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
