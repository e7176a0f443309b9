// Package apperrors defines the error taxonomy shared by the analysis
// workflow and its collaborators.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises an Error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConcurrentRequest Kind = "concurrent_request"
	KindTransport         Kind = "transport"
	KindService           Kind = "service"
	KindDecode            Kind = "decode"
	KindClassification    Kind = "classification"
	KindPrecondition      Kind = "precondition"
	KindUnauthenticated   Kind = "unauthenticated"
)

// Error is a categorised failure carrying a user facing message.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: status, Cause: cause}
}

// NewValidationError reports a missing or unacceptable file selection.
func NewValidationError(message string, cause error) *Error {
	return newError(KindValidation, http.StatusBadRequest, message, cause)
}

// NewConcurrentRequestError reports an upload attempted while another is in flight.
func NewConcurrentRequestError(message string) *Error {
	return newError(KindConcurrentRequest, http.StatusConflict, message, nil)
}

// NewTransportError reports a network failure. The cause's text becomes the message.
func NewTransportError(cause error) *Error {
	message := "prediction request failed"
	if cause != nil {
		message = cause.Error()
	}
	return newError(KindTransport, http.StatusBadGateway, message, cause)
}

// NewServiceError reports a non-success response from the prediction service.
func NewServiceError(message string, status int) *Error {
	return newError(KindService, http.StatusBadGateway, message, fmt.Errorf("upstream status %d", status))
}

// NewDecodeError reports a response body that could not be parsed.
func NewDecodeError(message string, cause error) *Error {
	return newError(KindDecode, http.StatusBadGateway, message, cause)
}

// NewClassificationError reports a prediction no verdict can be derived from.
func NewClassificationError(message string) *Error {
	return newError(KindClassification, http.StatusUnprocessableEntity, message, nil)
}

// NewPreconditionError reports an action invoked without its required state.
func NewPreconditionError(message string) *Error {
	return newError(KindPrecondition, http.StatusPreconditionFailed, message, nil)
}

// NewUnauthenticatedError reports a missing or invalidated session.
func NewUnauthenticatedError(message string, cause error) *Error {
	return newError(KindUnauthenticated, http.StatusUnauthorized, message, cause)
}

// IsKind reports whether err, or anything it wraps, is an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// StatusCode extracts the HTTP status code for err.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Message returns the human readable text for err, without kind prefixes.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
