package wgerror

import "net/http"

type (
	// A WGError represents the error format that can be rendered by the wgui server.
	WGError struct {
		HTTPCode   int `json:"-"`
		FieldError err `json:"error"`
	}

	err struct {
		Tag     string `json:"tag,omitempty"`
		Message string `json:"message"`
	}
)

// StatusCode returns the HTTP status code.
func StatusCode(err error) int {
	if wgerr, ok := err.(*WGError); ok && wgerr.HTTPCode != 0 {
		return wgerr.HTTPCode
	}
	return http.StatusInternalServerError
}

// New returns a new WGError with the given message.
func New(message string) *WGError {
	return &WGError{FieldError: err{Message: message}}
}

// NewWithTagCode returns a new WGError with the given code, tag and message.
func NewWithTagCode(code int, tag, message string) *WGError {
	return &WGError{HTTPCode: code, FieldError: err{Tag: tag, Message: message}}
}

// NewValidation returns an error for a malformed document or parameter.
// No state is mutated when it is returned.
func NewValidation(message string) *WGError {
	return NewWithTagCode(http.StatusUnprocessableEntity, "invalid-payload", message)
}

// NewConflict returns an error for an operation rejected by a data
// constraint, like a duplicate name or a protected record.
func NewConflict(message string) *WGError {
	return NewWithTagCode(http.StatusConflict, "conflict", message)
}

// NewNotFound returns an error for a missing record.
func NewNotFound(message string) *WGError {
	return NewWithTagCode(http.StatusNotFound, "not-found", message)
}

// NewUnauthorized returns an error for failed authentication.
func NewUnauthorized(message string) *WGError {
	return NewWithTagCode(http.StatusUnauthorized, "invalid-auth", message)
}

// Error implements error interface.
func (e *WGError) Error() string {
	return e.FieldError.Message
}

// IsValidation returns true if err is a validation error.
func IsValidation(e error) bool {
	wgerr, ok := e.(*WGError)
	return ok && wgerr.FieldError.Tag == "invalid-payload"
}
