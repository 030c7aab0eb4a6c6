package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func rosterBook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return &buf
}

func TestReadRoster(t *testing.T) {
	buf := rosterBook(t, [][]any{
		{"Name", " Application_Number "},
		{"Ana", "2024001"},
		{"Budi", ""},
		{"Cici", " 2024002 "},
		{"Ana again", "2024001"},
		{"Short"},
	})

	ids, err := ReadRoster(buf, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024001", "2024002"}, ids)
}

func TestReadRosterWithoutColumn(t *testing.T) {
	buf := rosterBook(t, [][]any{{"Name", "NISN"}, {"Ana", "1"}})

	_, err := ReadRoster(buf, "")
	assert.ErrorIs(t, err, ErrRosterColumnMissing)
}

func TestEnrollKeepsExistingRegistrations(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	exam := scenarioExam()
	require.NoError(t, f.svc.Create(ctx, owner, &exam))
	f.regs.put(model.Registration{ExamID: exam.ID, StudentIdentity: "2024001", Allowed: true,
		StartedAt: ptr(at("10:05:00"))})

	res, err := f.svc.Enroll(ctx, owner, exam.ID, []string{"2024001", "2024002"})
	require.NoError(t, err)
	assert.Equal(t, &EnrollResult{Created: 1, Existing: 1}, res)

	kept, err := f.regs.Get(ctx, model.RegistrationRef{ExamID: exam.ID, StudentIdentity: "2024001"})
	require.NoError(t, err)
	assert.NotNil(t, kept.StartedAt)

	added, err := f.regs.Get(ctx, model.RegistrationRef{ExamID: exam.ID, StudentIdentity: "2024002"})
	require.NoError(t, err)
	assert.True(t, added.Allowed)
	assert.Nil(t, added.StartedAt)

	_, err = f.svc.Enroll(ctx, other, exam.ID, []string{"2024003"})
	assert.ErrorIs(t, err, ErrNotExamOwner)
}
