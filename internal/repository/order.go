package repository

import (
	"cmp"

	"github.com/stemsi/exam-portal/internal/model"
)

// CompareResultOrder orders registrations the way results are listed:
// submitted first by submission time, unsubmitted last, ties by identity.
// It matches ORDER BY submitted_at NULLS LAST, student_identity.
func CompareResultOrder(a, b model.Registration) int {
	switch {
	case a.SubmittedAt != nil && b.SubmittedAt != nil:
		if c := a.SubmittedAt.Compare(*b.SubmittedAt); c != 0 {
			return c
		}
	case a.SubmittedAt != nil:
		return -1
	case b.SubmittedAt != nil:
		return 1
	}
	return cmp.Compare(a.StudentIdentity, b.StudentIdentity)
}

