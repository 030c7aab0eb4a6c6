package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Engine errors. Handlers map these to response codes.
var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrNotRegistered     = errors.New("student is not registered for this exam")
	ErrIntegrityFault    = errors.New("registration integrity fault")
	ErrDeadlinePassed    = errors.New("attempt deadline passed before submission")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrExamNotOpen       = errors.New("exam has not opened yet")
	ErrExamExpired       = errors.New("exam window has closed")
	ErrAttemptNotStarted = errors.New("attempt has not been started")
	ErrSessionNotActive  = errors.New("attempt is not in progress")
	ErrExamLocked        = errors.New("exam has started attempts and can no longer be changed")
	ErrNotExamOwner      = errors.New("not the owner of this exam")
)

// ValidationError lists field-level problems with an exam or question write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// unavailable marks a store failure as transient.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
