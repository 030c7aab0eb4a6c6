package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrNotExamOwner      ErrCode = "NOT_EXAM_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"

	// ─── Registration ──────────────────────────────────────────────────
	ErrNotRegistered  ErrCode = "NOT_REGISTERED"
	ErrIntegrityFault ErrCode = "INTEGRITY_FAULT"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrExamNotOpen       ErrCode = "EXAM_NOT_OPEN"
	ErrExamExpired       ErrCode = "EXAM_EXPIRED"
	ErrAttemptExpired    ErrCode = "ATTEMPT_EXPIRED_UNSUBMITTED"
	ErrAttemptNotStarted ErrCode = "ATTEMPT_NOT_STARTED"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrExamLocked        ErrCode = "EXAM_LOCKED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStoreUnavailable ErrCode = "STORE_UNAVAILABLE"
	ErrInternal         ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrStaffAccessOnly:
		return "This resource is restricted to staff."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."
	case ErrNotExamOwner:
		return "You do not own this exam."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrQuestionNotFound:
		return "Question does not belong to this exam."

	// ─── Registration ──────────────────────────────────────────────────
	case ErrNotRegistered:
		return "You are not registered for this exam."
	case ErrIntegrityFault:
		return "Your registration is ambiguous. Please contact the exam administrator."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrExamNotOpen:
		return "This exam has not opened yet."
	case ErrExamExpired:
		return "This exam has closed."
	case ErrAttemptExpired:
		return "The time for this attempt has run out and it was not submitted."
	case ErrAttemptNotStarted:
		return "This attempt has not been started."
	case ErrSessionNotActive:
		return "This attempt is not in progress."
	case ErrExamLocked:
		return "This exam has started attempts and can no longer be changed."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStoreUnavailable:
		return "The service is temporarily unavailable. Please retry."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
