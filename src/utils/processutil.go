package utils

import (
	"fmt"

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

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// MissingColumns 返回 cols 中 DataFrame 不存在的列
func MissingColumns(df dataframe.DataFrame, cols []string) []string {
	var missing []string
	names := df.Names()
	for _, c := range cols {
		if !Contains(names, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// PresentColumns 按 cols 的顺序返回 DataFrame 中存在的列
func PresentColumns(df dataframe.DataFrame, cols []string) []string {
	var present []string
	names := df.Names()
	for _, c := range cols {
		if Contains(names, c) {
			present = append(present, c)
		}
	}
	return present
}

// LinesFrame 把字符串列表包装成单列 DataFrame，用于导出审计日志
func LinesFrame(colName string, lines []string) dataframe.DataFrame {
	if lines == nil {
		lines = []string{}
	}
	return dataframe.New(series.New(lines, series.String, colName))
}

// Sheet Excel 中的一个工作表
type Sheet struct {
	Name string
	Data dataframe.DataFrame
}

// SaveToExcel 把多个 DataFrame 写入同一个 xlsx 文件，NA 单元格留空
func SaveToExcel(filePath string, sheets ...Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("没有需要保存的工作表")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return fmt.Errorf("重命名工作表失败: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("创建工作表 %s 失败: %w", sheet.Name, err)
		}
		if err := writeSheet(f, sheet); err != nil {
			return err
		}
	}

	// 保存文件
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet Sheet) error {
	df := sheet.Data

	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.Name, cell, name); err != nil {
			return fmt.Errorf("写入表头失败: %w", err)
		}
	}

	// 写入数据
	for colIdx, colName := range colNames {
		col := df.Col(colName)
		for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
			el := col.Elem(rowIdx)
			if el.IsNA() {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet.Name, cell, el.Val()); err != nil {
				return fmt.Errorf("写入单元格 %s 失败: %w", cell, err)
			}
		}
	}
	return nil
}
