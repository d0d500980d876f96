// Package errors defines the closed error taxonomy reported by the engine
// on every result object, plus the sentinel errors used internally.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorID is the machine-readable failure category carried on IndexResult,
// SearchResult and EnumerationResult.
type ErrorID string

const (
	IDNone              ErrorID = "NONE"
	IDDestroyInProgress ErrorID = "DESTROY_IN_PROGRESS"
	IDMissingParams     ErrorID = "MISSING_PARAMS"
	IDRetrieveFailed    ErrorID = "RETRIEVE_FAILED"
	IDParseError        ErrorID = "PARSE_ERROR"
	IDWriteError        ErrorID = "WRITE_ERROR"
	IDReadError         ErrorID = "READ_ERROR"
	IDDeleteError       ErrorID = "DELETE_ERROR"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIndexNotFound     = errors.New("index not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentExists    = errors.New("document already exists")
	ErrDestroyInProgress = errors.New("index destroy in progress")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedType   = errors.New("unsupported for document type")
	ErrParse             = errors.New("parse error")
	ErrWrite             = errors.New("write error")
	ErrRead              = errors.New("read error")
	ErrDelete            = errors.New("delete error")
	ErrInternal          = errors.New("internal error")
)

// AppError attaches an ErrorID and an HTTP-equivalent status to an
// underlying error.
type AppError struct {
	ID         ErrorID
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

func New(id ErrorID, sentinel error, message string) *AppError {
	return &AppError{
		ID:         id,
		Err:        sentinel,
		Message:    message,
		StatusCode: statusFor(sentinel),
	}
}

func Newf(id ErrorID, sentinel error, format string, args ...any) *AppError {
	return New(id, sentinel, fmt.Sprintf(format, args...))
}

// Wrap records err under id, keeping err reachable through errors.Is/As.
func Wrap(id ErrorID, err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.ID == id {
		return appErr
	}
	return &AppError{
		ID:         id,
		Err:        err,
		Message:    message,
		StatusCode: statusFor(err),
	}
}

// IDOf returns the ErrorID recorded on err, IDNone for nil, and a best
// guess from the sentinel chain otherwise.
func IDOf(err error) ErrorID {
	if err == nil {
		return IDNone
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ID
	}
	switch {
	case errors.Is(err, ErrDestroyInProgress):
		return IDDestroyInProgress
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedType):
		return IDMissingParams
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIndexNotFound), errors.Is(err, ErrDocumentNotFound):
		return IDRetrieveFailed
	case errors.Is(err, ErrParse):
		return IDParseError
	case errors.Is(err, ErrWrite):
		return IDWriteError
	case errors.Is(err, ErrRead):
		return IDReadError
	case errors.Is(err, ErrDelete):
		return IDDeleteError
	default:
		return IDRetrieveFailed
	}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIndexNotFound) ||
		errors.Is(err, ErrDocumentNotFound)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return statusFor(err)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrDocumentExists), errors.Is(err, ErrDestroyInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedType), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
