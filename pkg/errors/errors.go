package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels classify failures independently of their message.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// kind is the HTTP mapping of a sentinel.
type kind struct {
	sentinel error
	status   int
	code     string
	message  string
}

var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input"},
	{ErrUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable"},
}

// AppError is an error with a stable code and a client-safe message.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NotFound reports a missing resource identified by key.
func NotFound(resource, key string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %q not found", resource, key),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput reports a request the caller must fix.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unavailable reports a failing backend. cause stays in the chain for
// errors.Is and logs; clients only see the resource name.
func Unavailable(resource string, cause error) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: resource + " is temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%w: %w", ErrUnavailable, cause),
	}
}

// From converts any error into an AppError. Errors that match no sentinel
// become a 500 with a generic message.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			msg := k.message
			if k.sentinel == ErrInvalidInput {
				msg = err.Error()
			}
			return &AppError{Code: k.code, Message: msg, Status: k.status, Err: err}
		}
	}
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	return From(err).Status
}
