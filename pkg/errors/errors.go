// Package errors defines the sentinel errors shared by the recognition
// service and maps them onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrEmptyVocabulary   = errors.New("empty vocabulary")
	ErrInvalidVocabulary = errors.New("invalid vocabulary")
	ErrWordOutOfRange    = errors.New("word id out of range")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSnapshotCorrupt   = errors.New("snapshot corrupt")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IndexOutOfRange wraps ErrIndexOutOfRange with the offending index and the
// current length.
func IndexOutOfRange(index, length int) error {
	return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, length)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrWordOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptyVocabulary), errors.Is(err, ErrInvalidVocabulary):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
