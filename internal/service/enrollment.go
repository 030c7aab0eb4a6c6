package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/xuri/excelize/v2"
)

// RosterColumn is the header of the identity column in an enrollment sheet.
const RosterColumn = "application_number"

// ErrRosterColumnMissing is returned when a roster sheet has no identity column.
var ErrRosterColumnMissing = errors.New("roster has no " + RosterColumn + " column")

// EnrollResult counts the outcome of a bulk enrollment.
type EnrollResult struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// ReadRoster returns the distinct identities listed under the
// application_number header of an xlsx roster. An empty sheet name reads the
// first sheet.
func ReadRoster(r io.Reader, sheet string) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrRosterColumnMissing
	}

	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), RosterColumn) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrRosterColumnMissing
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[col])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Enroll creates allowed, unstarted registrations for identities. Existing
// registrations are left untouched, whatever their state.
func (s *ExamService) Enroll(ctx context.Context, staff Staff, examID uuid.UUID, identities []string) (*EnrollResult, error) {
	if _, err := s.getOwned(ctx, staff, examID); err != nil {
		return nil, err
	}

	res := &EnrollResult{}
	for _, id := range identities {
		created, err := s.regs.CreateIfAbsent(ctx, &model.Registration{
			ExamID:          examID,
			StudentIdentity: id,
			Allowed:         true,
		})
		if err != nil {
			return res, unavailable("enroll "+id, err)
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Msg("Enrollment imported")
	return res, nil
}
