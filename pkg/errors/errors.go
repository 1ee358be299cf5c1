// Package errors defines the sentinel errors shared across the modelstore
// engine and small helpers for wrapping them with context.
package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")

	// Request / session errors.
	ErrInvalidRequest    = fmt.Errorf("invalid download request")
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrInvalidTransition = fmt.Errorf("invalid session state transition")
	ErrSessionCancelled  = fmt.Errorf("session cancelled")
	ErrPaused            = fmt.Errorf("download paused")
	ErrQuotaDenied       = fmt.Errorf("download denied by quota check")

	// Transfer errors.
	ErrDownloadFailed      = fmt.Errorf("download failed")
	ErrRangeNotSupported   = fmt.Errorf("source does not support range requests")
	ErrRangeSupportDropped = fmt.Errorf("source stopped honoring range requests")
	ErrRetryBudgetExceeded = fmt.Errorf("chunk retry budget exhausted")

	// Verification errors.
	ErrHashMismatch  = fmt.Errorf("artifact hash mismatch")
	ErrInvalidFormat = fmt.Errorf("invalid artifact format")

	// Storage errors.
	ErrModelNotFound     = fmt.Errorf("model not found")
	ErrBlobNotFound      = fmt.Errorf("blob not found")
	ErrBlobInUse         = fmt.Errorf("blob still referenced by a manifest")
	ErrInsufficientSpace = fmt.Errorf("insufficient disk space")
	ErrInvalidPath       = fmt.Errorf("invalid path")
	ErrManifestExists    = fmt.Errorf("manifest already exists")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
