// reader.go
package file

import (
	"TransportDelay/src/config"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 支持的数据集格式
const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
)

// 读入时视为缺失的文本
var naValues = []string{"", "NA", "NaN"}

// excel 序列日期的上限(9999-12-31)
const maxExcelSerial = 2958465.0

// IsDataset 判断文件扩展名是否为支持的数据集
func IsDataset(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ExtCSV || ext == ExtXLSX
}

// Load 按扩展名读取数据集，所有列均按字符串读入，类型转换留给清洗阶段
func Load(path string, cfg *config.Config) (dataframe.DataFrame, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ExtCSV:
		f, err := os.Open(path)
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("打开数据集失败: %w", err)
		}
		defer f.Close()
		return ReadCSV(f, cfg.InputEncoding)
	case ExtXLSX:
		return ReadXLSX(path, cfg.SheetName, cfg.HeaderRow)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("不支持的数据集格式: %s", path)
	}
}

// LoadBytes 读取邮件附件等内存中的数据集
func LoadBytes(name string, data []byte, cfg *config.Config) (dataframe.DataFrame, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ExtCSV:
		return ReadCSV(bytes.NewReader(data), cfg.InputEncoding)
	case ExtXLSX:
		return ReadXLSXBytes(data, cfg.SheetName, cfg.HeaderRow)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("不支持的数据集格式: %s", name)
	}
}

// ReadCSV encoding 为 gbk/gb2312 时先转为 UTF-8
func ReadCSV(r io.Reader, encoding string) (dataframe.DataFrame, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gbk", "gb2312":
		r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("解析 CSV 失败: %w", err)
	}
	return fromRecords(records)
}

// fromRecords 第一行为标题。只有标题行时返回 0 行的表
func fromRecords(records [][]string) (dataframe.DataFrame, error) {
	if len(records) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("数据集为空")
	}

	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	if len(records) == 1 {
		cols := make([]series.Series, len(header))
		for i, name := range header {
			cols[i] = series.New([]string{}, series.String, name)
		}
		df := dataframe.New(cols...)
		return df, df.Err
	}

	// 行长度与标题不一致时补齐或截断
	rows := make([][]string, 0, len(records))
	rows = append(rows, header)
	for _, rec := range records[1:] {
		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}

	df := dataframe.LoadRecords(rows,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(naValues),
	)
	if df.Err != nil {
		return df, fmt.Errorf("构建数据表失败: %w", df.Err)
	}
	return df, nil
}

func ReadXLSX(filePath, sheetName string, headerRow int) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("打开 xlsx 文件失败: %w", err)
	}
	return sheetFrame(xlFile, sheetName, headerRow)
}

func ReadXLSXBytes(data []byte, sheetName string, headerRow int) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("解析 xlsx 内容失败: %w", err)
	}
	return sheetFrame(xlFile, sheetName, headerRow)
}

// sheetFrame 找不到指定工作表时使用第一个工作表
func sheetFrame(xlFile *xlsx.File, sheetName string, headerRow int) (dataframe.DataFrame, error) {
	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表")
	}
	sheet, ok := xlFile.Sheet[sheetName]
	if !ok {
		sheet = xlFile.Sheets[0]
	}

	records, err := sheetRecords(sheet, headerRow)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("工作表 %s: %w", sheet.Name, err)
	}
	return fromRecords(records)
}

// sheetRecords 从标题行开始读取，时间列中的 excel 序列日期转为标准格式
func sheetRecords(sheet *xlsx.Sheet, headerRow int) ([][]string, error) {
	if headerRow < 0 || headerRow >= len(sheet.Rows) {
		return nil, fmt.Errorf("标题行 %d 超出范围 (共 %d 行)", headerRow, len(sheet.Rows))
	}

	var header []string
	for _, cell := range sheet.Rows[headerRow].Cells {
		header = append(header, strings.TrimSpace(cell.Value))
	}
	timeCol := make([]bool, len(header))
	for i, name := range header {
		timeCol[i] = name == config.ColScheduledTime || name == config.ColActualTime
	}

	records := [][]string{header}
	for _, row := range sheet.Rows[headerRow+1:] {
		if row == nil {
			continue
		}
		rec := make([]string, len(header))
		empty := true
		for i, cell := range row.Cells {
			if i >= len(header) {
				break
			}
			v := cell.Value
			if timeCol[i] {
				v = excelSerialToTime(v)
			}
			rec[i] = v
			if strings.TrimSpace(v) != "" {
				empty = false
			}
		}
		if !empty {
			records = append(records, rec)
		}
	}
	return records, nil
}

// excelSerialToTime 把 excel 序列日期(1899-12-30 起的天数)转为标准时间文本，
// 其他值原样返回。超过 9999 年的数值按 Unix 时间戳处理，不在这里转换。
func excelSerialToTime(v string) string {
	days, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || days <= 0 || days > maxExcelSerial {
		return v
	}

	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	whole := math.Floor(days)
	seconds := math.Round((days - whole) * 86400)
	t := base.AddDate(0, 0, int(whole)).Add(time.Duration(seconds) * time.Second)
	return t.Format("2006-01-02 15:04:05")
}
