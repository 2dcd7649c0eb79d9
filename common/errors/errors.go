package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of dataset cache failure.
type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"           // 404
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"     // 400
	ErrCorruptRecord     ErrorCode = "CORRUPT_RECORD"      // 500
	ErrEmptyDataset      ErrorCode = "EMPTY_DATASET"       // 422
	ErrRemoteFetchFailed ErrorCode = "REMOTE_FETCH_FAILED" // 502
	ErrTranscodeFailed   ErrorCode = "TRANSCODE_FAILED"    // 500
	ErrChannelClosed     ErrorCode = "CHANNEL_CLOSED"      // 499 (client went away)
	ErrIOFailure         ErrorCode = "IO_FAILURE"          // 500
	ErrInternal          ErrorCode = "INTERNAL"            // 500
)

// DatasetError is a structured error with code, status, message and an
// optional wrapped cause.
type DatasetError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *DatasetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *DatasetError) Unwrap() error {
	return e.Cause
}

// NewNotFound creates a 404 error for a missing blob or ledger entry.
func NewNotFound(kind, identifier string) *DatasetError {
	return &DatasetError{
		Code:    ErrNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewInvalidRequest creates a 400 error for malformed input.
func NewInvalidRequest(msg string) *DatasetError {
	return &DatasetError{
		Code:    ErrInvalidRequest,
		Status:  http.StatusBadRequest,
		Message: msg,
	}
}

// NewCorruptRecord creates an error for a ledger record that exists but
// cannot be parsed. It is never healed automatically.
func NewCorruptRecord(externalID string, cause error) *DatasetError {
	return &DatasetError{
		Code:    ErrCorruptRecord,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("ledger record for %q is corrupt", externalID),
		Details: map[string]any{"rid": externalID},
		Cause:   cause,
	}
}

// NewEmptyDataset creates an error for a remote dataset with zero rows.
func NewEmptyDataset(externalID string) *DatasetError {
	return &DatasetError{
		Code:    ErrEmptyDataset,
		Status:  http.StatusUnprocessableEntity,
		Message: fmt.Sprintf("remote dataset %q has no rows", externalID),
		Details: map[string]any{"rid": externalID},
	}
}

// NewRemoteFetchFailed wraps a failure of the remote data source.
func NewRemoteFetchFailed(externalID string, cause error) *DatasetError {
	return &DatasetError{
		Code:    ErrRemoteFetchFailed,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("fetching %q from remote failed", externalID),
		Details: map[string]any{"rid": externalID},
		Cause:   cause,
	}
}

// NewTranscodeFailed creates an error for a failed zip or unzip.
func NewTranscodeFailed(op, checksum string, cause error) *DatasetError {
	return &DatasetError{
		Code:    ErrTranscodeFailed,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("%s of %s failed", op, checksum),
		Details: map[string]any{"operation": op, "sha256": checksum},
		Cause:   cause,
	}
}

// NewChannelClosed reports that the client connection is gone.
func NewChannelClosed(cause error) *DatasetError {
	return &DatasetError{
		Code:    ErrChannelClosed,
		Status:  499,
		Message: "progress channel closed",
		Cause:   cause,
	}
}

// NewIOFailure wraps a storage error. Callers may retry.
func NewIOFailure(op string, cause error) *DatasetError {
	return &DatasetError{
		Code:    ErrIOFailure,
		Status:  http.StatusInternalServerError,
		Message: op,
		Cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *DatasetError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &DatasetError{
		Code:    ErrInternal,
		Status:  http.StatusInternalServerError,
		Message: msg,
		Cause:   err,
	}
}

// Is reports whether any error in err's chain is a DatasetError with code.
func Is(err error, code ErrorCode) bool {
	var dErr *DatasetError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first DatasetError in the chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var dErr *DatasetError
	if stderrors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrInternal
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var dErr *DatasetError
	if stderrors.As(err, &dErr) {
		return dErr.Status
	}
	return http.StatusInternalServerError
}
