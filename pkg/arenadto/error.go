package arenadto

// Error codes group domain failures the way callers need to react to them.
const (
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeStateConflict = "state_conflict"
	CodePersistence   = "persistence"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}

func Validation(msg string) DomainError {
	return DomainError{Code: CodeValidation, Message: msg}
}

func NotFound(msg string) DomainError {
	return DomainError{Code: CodeNotFound, Message: msg}
}

func StateConflict(msg string) DomainError {
	return DomainError{Code: CodeStateConflict, Message: msg}
}

func Persistence(msg string) DomainError {
	return DomainError{Code: CodePersistence, Message: msg, Retryable: true}
}

// CodeOf extracts the taxonomy code from an error, defaulting to validation.
func CodeOf(err error) string {
	if de, ok := err.(DomainError); ok {
		return de.Code
	}
	return CodeValidation
}
