package oauth

import "fmt"

// AuthErrorCode identifies the failure mode of an AuthError.
type AuthErrorCode string

const (
	ErrNotAuthenticated AuthErrorCode = "NOT_AUTHENTICATED"
	ErrCallbackInvalid  AuthErrorCode = "CALLBACK_INVALID"
	ErrStateMismatch    AuthErrorCode = "STATE_MISMATCH"
	ErrExchangeFailed   AuthErrorCode = "EXCHANGE_FAILED"
	ErrRefreshFailed    AuthErrorCode = "REFRESH_FAILED"
	ErrSessionRevoked   AuthErrorCode = "SESSION_REVOKED"
	ErrNetworkError     AuthErrorCode = "NETWORK_ERROR"
)

// AuthError represents an authentication failure. Every AuthError is
// recoverable by running the login flow again.
type AuthError struct {
	Message string
	Code    AuthErrorCode
	Status  int
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates an AuthError with a message and code.
func NewAuthError(message string, code AuthErrorCode) *AuthError {
	return &AuthError{Message: message, Code: code}
}

// EnvironmentError indicates the current environment cannot run an
// interactive login (no display, no browser). This is a programmer /
// deployment error, not a retryable condition.
type EnvironmentError struct {
	Reason string
}

func (e *EnvironmentError) Error() string {
	return "interactive login unavailable: " + e.Reason
}
