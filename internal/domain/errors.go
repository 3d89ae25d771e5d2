package domain

const (
	ErrCodeValidation        = "validation"
	ErrCodeInvalidExpression = "validation.schedule_expression"
	ErrCodeNotFoundSchedule  = "not_found.schedule"
	ErrCodeNotFoundMessage   = "not_found.message"
	ErrCodeInternal          = "internal"
)

var (
	ErrNotFoundSchedule = Error{Code: ErrCodeNotFoundSchedule, Message: "schedule not found"}
	ErrNotFoundMessage  = Error{Code: ErrCodeNotFoundMessage, Message: "message not found"}
	ErrInternal         = Error{Code: ErrCodeInternal, Message: "internal store error"}
)

// Error is a machine-readable failure: Code identifies the kind,
// Message carries the human-readable detail.
type Error struct {
	Code    string
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}

func NewValidationError(msg string) Error {
	return Error{Code: ErrCodeValidation, Message: msg}
}

func NewInvalidExpressionError(msg string) Error {
	return Error{Code: ErrCodeInvalidExpression, Message: msg}
}
