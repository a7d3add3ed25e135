// Package export 将处理结果导出为 JSON / JSONL / CSV / XLSX
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"resume-extractor/internal/types"

	"github.com/xuri/excelize/v2"
)

// Format 导出格式
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
)

// BaseFileName 下载文件的默认文件名（不含扩展名）
const BaseFileName = "resume_parsing_results"

// ErrUnknownFormat 不支持的导出格式
var ErrUnknownFormat = errors.New("不支持的导出格式")

// CSVHeader CSV / XLSX 的列
var CSVHeader = []string{
	"file_name", "first_name", "last_name", "email", "phone",
	"location", "summary", "skills", "certifications",
}

// ParseFormat 解析格式名，空字符串按 JSON 处理
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatJSONL, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FileName 下载文件名，例如 resume_parsing_results.csv
func (f Format) FileName() string {
	return BaseFileName + "." + string(f)
}

// ContentType 下载时使用的 MIME 类型
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Record 导出的一条记录
type Record struct {
	FileName      string                  `json:"file_name"`
	ExtractedData *types.CandidateProfile `json:"extracted_data"`
}

// Records 只保留得到档案的结果，保持输入顺序
func Records(results []types.ProfileResult) []Record {
	records := make([]Record, 0, len(results))
	for _, r := range results {
		if !r.HasProfile() {
			continue
		}
		records = append(records, Record{FileName: r.FileName, ExtractedData: r.Profile})
	}
	return records
}

// Write 按格式写出结果
func Write(w io.Writer, format Format, results []types.ProfileResult) error {
	records := Records(results)
	switch format {
	case FormatJSON:
		return WriteJSON(w, records)
	case FormatJSONL:
		return WriteJSONL(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatXLSX:
		return WriteXLSX(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Bytes 按格式导出到内存
func Bytes(format Format, results []types.ProfileResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON 写出缩进为 2 的 JSON 数组
func WriteJSON(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}

// WriteJSONL 每行一条记录
func WriteJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Row 把一条记录拍平成 CSV 列，缺失字段为空字符串
func Row(r Record) []string {
	p := r.ExtractedData
	if p == nil {
		p = &types.CandidateProfile{}
	}
	return []string{
		r.FileName,
		p.FirstName,
		p.LastName,
		p.Email,
		p.Phone,
		p.Location,
		p.Summary,
		strings.Join(p.Skills, ", "),
		strings.Join(p.Certifications, ", "),
	}
}

// WriteCSV 写出带表头的 CSV
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const xlsxSheet = "Resumes"

// WriteXLSX 写出与 CSV 相同列的工作簿
func WriteXLSX(w io.Writer, records []Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}

	for i, h := range CSVHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(xlsxSheet, cell, h); err != nil {
			return err
		}
	}
	for rowIdx, r := range records {
		for col, v := range Row(r) {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(xlsxSheet, "A", "A", 28) // file name
	_ = f.SetColWidth(xlsxSheet, "B", "F", 18)
	_ = f.SetColWidth(xlsxSheet, "G", "G", 60) // summary
	_ = f.SetColWidth(xlsxSheet, "H", "I", 40)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
