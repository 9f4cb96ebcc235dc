package domain

// Code is a machine-readable error code for coordinator failures.
type Code string

const (
	CodeHandshakeRejected  Code = "HANDSHAKE_REJECTED"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeResolutionFailed   Code = "RESOLUTION_FAILED"
	CodeStaleSeeder        Code = "STALE_SEEDER"
	CodeConfigReloadFailed Code = "CONFIG_RELOAD_FAILED"
)

// Error is the coordinator's domain error type with a structured code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a domain error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a domain error that wraps an underlying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the domain code from an error chain, or "" when absent.
func CodeOf(err error) Code {
	for err != nil {
		if domainErr, ok := err.(*Error); ok {
			return domainErr.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
