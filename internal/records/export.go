package records

import (
	"bytes"
	"fmt"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/internal/domain"

	"github.com/xuri/excelize/v2"
)

// ExportHeader 锚定记录导出表头（只有链上公开字段，不含临床内容）
var ExportHeader = []string{
	"Content ID",
	"Content Hash",
	"Hospital Address",
	"Anchored At",
	"Diagnosis Code",
	"Record Type",
	"Verified",
}

const exportSheet = "Records"

// ExportXLSX 生成患者锚定记录列表的 Excel 文件
func ExportXLSX(refs []domain.ContentReference) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	widths := []float64{50, 68, 44, 22, 16, 18, 10}
	for i, w := range widths {
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(exportSheet, name, name, w)
	}

	for i, ref := range refs {
		anchored, verified := "", "no"
		if ref.Timestamp > 0 {
			anchored = time.Unix(ref.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
		}
		if ref.Verified {
			verified = "yes"
		}
		row := []interface{}{
			ref.ContentID,
			ref.HashHex(),
			ref.HospitalAddress,
			anchored,
			ref.DiagnosisCode,
			ref.RecordType,
			verified,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	return buf.Bytes(), nil
}
