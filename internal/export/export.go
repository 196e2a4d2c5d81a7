// Package export renders finished sessions as Excel workbooks.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"fitgrid-session/internal/persistence"
)

// SummaryHeader is the participant table header of the summary sheet.
var SummaryHeader = []string{
	"Participant",
	"Avg HR",
	"Max HR",
	"Total Beats",
	"Total Rotations",
	"Coins",
	"Active Ticks",
}

const summarySheet = "Session Summary"

// GenerateSessionWorkbook renders a persisted session document as an
// Excel workbook and returns the file bytes.
func GenerateSessionWorkbook(doc *persistence.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}

	f := excelize.NewFile()
	// WriteTo needs the file open, close happens after the buffer write

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// session block
	sessionRows := [][2]any{
		{"Session ID", doc.Session.ID},
		{"Date", doc.Session.Date},
		{"Start", doc.Session.Start},
		{"End", doc.Session.End},
		{"Duration (s)", doc.Session.DurationSeconds},
		{"Timezone", doc.Session.Timezone},
		{"Total Coins", doc.Summary.TotalCoins},
	}
	for i, pair := range sessionRows {
		if err := setCell(f, 1, i+1, pair[0]); err != nil {
			f.Close()
			return nil, err
		}
		if err := setCell(f, 2, i+1, pair[1]); err != nil {
			f.Close()
			return nil, err
		}
	}

	// participant table below the session block
	tableStart := len(sessionRows) + 2
	for col, header := range SummaryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, tableStart)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(summarySheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(summarySheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	ids := make([]string, 0, len(doc.Summary.Participants))
	for id := range doc.Summary.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for rowIdx, id := range ids {
		stats := doc.Summary.Participants[id]
		name := id
		if meta, ok := doc.Participants[id]; ok && meta.DisplayName != "" {
			name = meta.DisplayName
		}
		row := tableStart + 1 + rowIdx
		values := []any{
			name,
			stats.AvgHeartRate,
			stats.MaxHeartRate,
			stats.TotalBeats,
			stats.TotalRotations,
			stats.Coins,
			stats.ActiveTicks,
		}
		for col, value := range values {
			if err := setCell(f, col+1, row, value); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	columnWidths := []float64{22, 10, 10, 14, 16, 10, 12}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(summarySheet, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSessionWorkbook writes the workbook into dir and returns the
// full path of the created file.
func WriteSessionWorkbook(dir string, doc *persistence.Document) (string, error) {
	body, err := GenerateSessionWorkbook(doc)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("session_%s.xlsx", doc.Session.ID))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write workbook file: %w", err)
	}
	return path, nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(summarySheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
