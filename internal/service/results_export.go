package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const resultsSheet = "Results"

// ExportResults writes an exam's results as an xlsx workbook to w.
func (s *ExamService) ExportResults(ctx context.Context, staff Staff, examID uuid.UUID, w io.Writer) error {
	exam, rows, err := s.Results(ctx, staff, examID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headers := []any{"Student", "State", "Started At (UTC)", "Submitted At (UTC)", "Score", "Questions"}
	if err := f.SetSheetRow(resultsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		var score any
		if r.Score != nil {
			score = *r.Score
		}
		row := []any{
			r.StudentIdentity,
			string(r.State),
			formatTime(r.StartedAt),
			formatTime(r.SubmittedAt),
			score,
			exam.QuestionCount,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
