package prefid

import "fmt"

// APIError is a non-auth failure reported by the PrefID API.
type APIError struct {
	// Status is the HTTP status code.
	Status int

	// Code is the machine-readable error code from the response body,
	// or "API_ERROR" when the body carried none.
	Code string

	// Message is the human-readable description.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prefid: %s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

// AuthorizationError means the session is valid but lacks the scope or
// permission for the requested operation. Logging in again with the
// same scopes will not help.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "prefid: permission denied"
	}
	return "prefid: " + e.Message
}
