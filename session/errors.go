package session

import (
	"errors"
	"fmt"
)

// Validation codes.
const (
	CodeInvalidPort  = "invalid_port"
	CodeNameRequired = "name_required"
	CodeNameInUse    = "name_in_use"
	CodePortInUse    = "port_in_use"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrProbeFailed means nothing answered /api/rojo at the requested port.
	ErrProbeFailed = errors.New("couldn't find Rojo on that port")
)

// ValidationError rejects a connect or rename before any network call.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
