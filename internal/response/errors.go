package response

import (
	"context"

	"github.com/stemsi/exstem-runner/internal/i18n"
)

// ErrCode is a typed error code enum for consistent API error identification.
// Each code doubles as the message id in the locale files.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrExamNotFound    ErrCode = "EXAM_NOT_FOUND"
	ErrAttemptNotFound ErrCode = "ATTEMPT_NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotPublished ErrCode = "EXAM_NOT_PUBLISHED"
	ErrExamNotDraft     ErrCode = "EXAM_NOT_DRAFT"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"
	ErrInvalidRecords   ErrCode = "INVALID_RECORDS"
	ErrInvalidDuration  ErrCode = "INVALID_DURATION"

	// ─── Stream ────────────────────────────────────────────────────────
	ErrUnknownAction ErrCode = "UNKNOWN_ACTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"

	errUnknown ErrCode = "UNKNOWN_ERROR"
)

// GetMessage returns the message for code in the language carried by ctx.
func GetMessage(ctx context.Context, code ErrCode) string {
	if msg := i18n.T(ctx, string(code)); msg != string(code) {
		return msg
	}
	return i18n.T(ctx, string(errUnknown))
}
