package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/identity"
	"github.com/stemsi/exam-portal/internal/model"
)

// Student is the caller identity supplied by the identity provider.
type Student struct {
	AccountID   string
	LoginHandle string
}

// RegistrationResolver maps a (student, exam) pair to its single registration.
type RegistrationResolver struct {
	regs         RegistrationStore
	handleDomain string
	log          zerolog.Logger
}

// NewRegistrationResolver creates a RegistrationResolver. handleDomain limits
// application-number derivation to login handles of that domain.
func NewRegistrationResolver(regs RegistrationStore, handleDomain string, log zerolog.Logger) *RegistrationResolver {
	return &RegistrationResolver{
		regs:         regs,
		handleDomain: handleDomain,
		log:          log.With().Str("component", "registration_resolver").Logger(),
	}
}

// Candidates returns the identities a student may be registered under: the
// account id first, then the application number derived from the login handle.
func (r *RegistrationResolver) Candidates(student Student) []string {
	var ids []string
	if student.AccountID != "" {
		ids = append(ids, student.AccountID)
	}
	if derived, ok := identity.DeriveApplicationNumber(student.LoginHandle, r.handleDomain); ok && derived != student.AccountID {
		ids = append(ids, derived)
	}
	return ids
}

// Resolve looks the registration up by account id and falls back to the
// application number only when the account id matches nothing. More than one
// record under a single identifier is an integrity fault, never a pick.
func (r *RegistrationResolver) Resolve(ctx context.Context, examID uuid.UUID, student Student) (*model.Registration, error) {
	for _, id := range r.Candidates(student) {
		found, err := r.regs.FindAllowed(ctx, examID, id, 2)
		if err != nil {
			return nil, unavailable("find registration", err)
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return &found[0], nil
		}

		r.log.Error().
			Str("exam_id", examID.String()).
			Str("account_id", student.AccountID).
			Str("login_handle", student.LoginHandle).
			Str("identity", id).
			Int("matches", len(found)).
			Msg("Multiple registrations share one identity")

		return nil, fmt.Errorf("%w: %d registrations for identity %q on exam %s",
			ErrIntegrityFault, len(found), id, examID)
	}
	return nil, ErrNotRegistered
}
