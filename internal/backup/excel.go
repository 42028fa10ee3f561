package backup

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/hpnt/matreq/internal/models"
)

const sheetName = "자재요청"

var excelHeaders = []interface{}{
	"ID", "요청일", "자재명", "사양", "수량", "긴급도", "사유", "업체", "상태", "이미지", "등록일시",
}

// WriteExcel writes rows as an xlsx workbook with one sheet.
func WriteExcel(w io.Writer, rows []models.MaterialRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("backup: excel sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &excelHeaders); err != nil {
		return fmt.Errorf("backup: excel header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("backup: excel style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(excelHeaders))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("backup: excel style: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("backup: excel row %d: %w", i, err)
		}
		values := []interface{}{
			r.ID, r.RequestDate, r.ItemName, r.Specifications, r.Quantity, r.Urgency,
			r.Reason, r.Vendor, r.Status, r.ImageName(), r.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("backup: excel row %d: %w", i, err)
		}
	}

	widths := map[string]float64{"A": 6, "B": 12, "C": 24, "D": 30, "G": 30, "H": 18, "J": 32, "K": 20}
	for col, width := range widths {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("backup: excel column %s: %w", col, err)
		}
	}
	if len(rows) > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(rows)+1)
		if err := f.AutoFilter(sheetName, ref, nil); err != nil {
			return fmt.Errorf("backup: excel filter: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("backup: write excel: %w", err)
	}
	return nil
}
