package export

import (
	"encoding/json"
	"time"

	"github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Audit Log"

func generateXLSX(records []domain.AuditRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerCells := make([]any, len(header))
	for i, col := range header {
		headerCells[i] = col
	}
	if err := setRow(f, 1, headerCells); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	endCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A1", endCol+"1", bold); err != nil {
		return nil, err
	}

	for i, rec := range records {
		cells := []any{
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.EventType,
			rec.EntityType,
			rec.EntityID,
			rec.UserID,
			stringPtrValue(rec.IPAddress),
			stringPtrValue(rec.UserAgent),
			metadataCell(rec),
		}
		if err := setRow(f, i+2, cells); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, rowIdx int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIdx)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheetName, cell, &cells)
}

func metadataCell(rec domain.AuditRecord) string {
	if len(rec.Metadata) == 0 {
		return ""
	}
	raw, _ := json.Marshal(rec.Metadata)
	return string(raw)
}
