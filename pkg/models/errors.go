package models

import "fmt"

// ErrorCode identifies a stable, contract-level failure class. Codes are
// part of the wire contract: collaborators switch on them, so they never
// change meaning between releases.
type ErrorCode string

const (
	// Session errors
	ErrInvalidSessionSeed      ErrorCode = "E_INVALID_SESSION_SEED"
	ErrSessionNotFound         ErrorCode = "E_SESSION_NOT_FOUND"
	ErrSessionAlreadyFinalized ErrorCode = "E_SESSION_ALREADY_FINALIZED"
	ErrSessionExpired          ErrorCode = "E_SESSION_EXPIRED"

	// Bank errors
	ErrBankDefect           ErrorCode = "E_BANK_DEFECT"
	ErrBankNotFound         ErrorCode = "E_BANK_NOT_FOUND"
	ErrBankCorrupted        ErrorCode = "E_BANK_CORRUPTED"
	ErrBankSignatureInvalid ErrorCode = "E_BANK_SIGNATURE_INVALID"
	ErrBankVersionMismatch  ErrorCode = "E_BANK_VERSION_MISMATCH"

	// State errors
	ErrState                  ErrorCode = "E_STATE"
	ErrStateTransitionInvalid ErrorCode = "E_STATE_TRANSITION_INVALID"

	// Pick errors
	ErrPickCount       ErrorCode = "E_PICK_COUNT"
	ErrInvalidFamily   ErrorCode = "E_INVALID_FAMILY"
	ErrDuplicateFamily ErrorCode = "E_DUPLICATE_FAMILY"

	// Question errors
	ErrQuestionNotFound ErrorCode = "E_QUESTION_NOT_FOUND"
	ErrBadQID           ErrorCode = "E_BAD_QID"
	ErrQuizComplete     ErrorCode = "E_QUIZ_COMPLETE"
	ErrIncompleteQuiz   ErrorCode = "E_INCOMPLETE_QUIZ"

	// Answer errors
	ErrInvalidOption     ErrorCode = "E_INVALID_OPTION"
	ErrAnswerOutOfOrder  ErrorCode = "E_ANSWER_OUT_OF_ORDER"
	ErrInternalCorrupted ErrorCode = "E_INTERNAL_CORRUPTED"

	// Replay errors
	ErrReplaySchemaUnsupported ErrorCode = "E_REPLAY_SCHEMA_UNSUPPORTED"
)

// Error is the single error shape every core operation returns. It carries
// the taxonomy code plus a human-readable message; Detail is optional
// machine-readable context (offending qid, family name, ...).
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches two engine errors by code, so callers can use
// errors.Is(err, models.Err(models.ErrBadQID)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Err constructs an error carrying just a code. Useful as an errors.Is target.
func Err(code ErrorCode) *Error {
	return &Error{Code: code, Message: string(code)}
}

// Errf constructs a coded error with a formatted message.
func Errf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from an error, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error code family to its HTTP equivalent:
// validation errors are 4xx, bank errors 5xx, state errors conflicts.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrSessionNotFound, ErrBankNotFound, ErrQuestionNotFound:
		return 404
	case ErrState, ErrStateTransitionInvalid, ErrSessionAlreadyFinalized,
		ErrQuizComplete, ErrIncompleteQuiz, ErrAnswerOutOfOrder:
		return 409
	case ErrInvalidSessionSeed, ErrPickCount, ErrInvalidFamily,
		ErrDuplicateFamily, ErrBadQID, ErrInvalidOption,
		ErrReplaySchemaUnsupported:
		return 400
	case ErrSessionExpired:
		return 410
	case ErrBankDefect, ErrBankCorrupted, ErrBankSignatureInvalid,
		ErrBankVersionMismatch, ErrInternalCorrupted:
		return 500
	default:
		return 500
	}
}
