package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportWorkbook writes an XLSX grade sheet of the exam to w: one row per
// session, one column per question with its effective points, then the
// total.
func (s *Service) ExportWorkbook(ctx context.Context, ownerID, examID string, w io.Writer) error {
	scores, err := s.scoreExam(ctx, ownerID, examID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetName(sheet, "Ergebnisse"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sheet = "Ergebnisse"

	placements := scores.composition.Placements()
	headers := []string{"Name", "E-Mail", "Gestartet", "Abgegeben", "Tab-Wechsel"}
	fixed := len(headers)
	for _, p := range placements {
		headers = append(headers, fmt.Sprintf("%s (%d)", p.Question.Title, p.Question.Points))
	}
	headers = append(headers, "Gesamt")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for rowIdx, p := range scores.participants {
		row := rowIdx + 2
		submitted := ""
		if p.SubmittedAt != nil {
			submitted = p.SubmittedAt.UTC().Format("2006-01-02 15:04:05")
		}
		values := []any{
			p.StudentName,
			p.StudentEmail,
			p.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			submitted,
			p.TabLeaveCount,
		}
		for _, r := range scores.reports[p.SessionID] {
			values = append(values, r.Effective)
		}
		values = append(values, scores.totals[p.SessionID].Exam.Awarded)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", "B", 28)
	_ = f.SetColWidth(sheet, "C", "D", 20)
	if len(headers) > fixed {
		first, _ := excelize.ColumnNumberToName(fixed + 1)
		_ = f.SetColWidth(sheet, first, last, 14)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
