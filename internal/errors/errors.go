// Package errors provides error code definitions for the FieldSync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced across the facade
// boundary so the host application can react without string matching.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Storage errors. StorageUnavailable is fatal at initialization: the
	// engine never degrades to memory-only storage.
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrMigration          ErrorCode = "MIGRATION_FAILED"
	ErrDuplicate          ErrorCode = "DUPLICATE"

	// Capture errors. CompressionFailed is recovered internally by falling
	// back to the original bytes; it never reaches a caller.
	ErrCompressionFailed ErrorCode = "COMPRESSION_FAILED"

	// Sync errors
	ErrUploadTransient ErrorCode = "UPLOAD_TRANSIENT"
	ErrUploadPermanent ErrorCode = "UPLOAD_PERMANENT"
	ErrSyncInProgress  ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout     ErrorCode = "SYNC_TIMEOUT"
)

// AppError represents an engine error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error (anywhere in its chain) carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
