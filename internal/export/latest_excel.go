package export

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"wisefido-camera/internal/models"

	"github.com/xuri/excelize/v2"
)

// SheetName 导出工作表名
const SheetName = "Latest Readings"

// LatestReadingsHeader 导出表头
var LatestReadingsHeader = []string{
	"Sensor Key",
	"Position",
	"Value",
	"Timestamp",
	"Correlation Role",
	"Correlation ID",
	"Has Evidence",
	"Event ID",
	"Duration (s)",
	"Notes",
}

// GenerateLatestReadingsExcel 把每个传感器最近的读数列表导出为 Excel
// Position 0 为最新
func GenerateLatestReadingsExcel(readings map[string][]models.SensorReading) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range LatestReadingsHeader {
		if err := setCellValue(f, col+1, 1, header); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := f.SetCellStyle(SheetName, "A1", lastHeaderCell(), headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "A", 24); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "D", "D", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	sensorKeys := make([]string, 0, len(readings))
	for key := range readings {
		sensorKeys = append(sensorKeys, key)
	}
	sort.Strings(sensorKeys)

	row := 2
	for _, key := range sensorKeys {
		for pos, r := range readings[key] {
			values := []interface{}{
				key,
				pos,
				r.Value,
				r.Timestamp.UTC().Format(time.RFC3339),
				string(r.CorrelationRole),
				r.CorrelationID,
				yesNo(r.HasEvidence),
				r.Details[models.DetailEventID],
				r.Details[models.DetailDuration],
				r.Details[models.DetailNotes],
			}
			for col, value := range values {
				if value == "" {
					continue
				}
				if err := setCellValue(f, col+1, row, value); err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to set cell at row %d: %w", row, err)
				}
			}
			row++
		}
	}

	// 冻结表头
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, value)
}

func lastHeaderCell() string {
	cell, _ := excelize.CoordinatesToCellName(len(LatestReadingsHeader), 1)
	return cell
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
