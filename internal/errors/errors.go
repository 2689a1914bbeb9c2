package errors

import (
	"errors"
	"fmt"
)

// KBError is the structured error type used across kbcontext.
type KBError struct {
	// Code is the unique error code (e.g., "ERR_201_KB_NOT_FOUND").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details carries extra context such as file paths or dimensions.
	Details map[string]string

	Cause      error
	Retryable  bool
	Suggestion string
}

// Error implements the error interface.
func (e *KBError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *KBError) Unwrap() error {
	return e.Cause
}

// Is matches another *KBError by code so sentinel comparisons work with errors.Is.
func (e *KBError) Is(target error) bool {
	if t, ok := target.(*KBError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the receiver.
func (e *KBError) WithDetail(key, value string) *KBError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable hint and returns the receiver.
func (e *KBError) WithSuggestion(suggestion string) *KBError {
	e.Suggestion = suggestion
	return e
}

// New creates a KBError. Category, severity and retryability derive from the code.
func New(code, message string, cause error) *KBError {
	return &KBError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a KBError whose message is err's message. Returns nil for a nil err.
func Wrap(code string, err error) *KBError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *KBError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *KBError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ProviderError creates a retryable embedding provider error.
func ProviderError(message string, cause error) *KBError {
	return New(ErrCodeEmbedUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *KBError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *KBError in err's chain.
func As(err error) (*KBError, bool) {
	var ke *KBError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable KBError.
func IsRetryable(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Retryable
	}
	return false
}

// IsFatal reports whether err carries a fatal KBError.
func IsFatal(err error) bool {
	if ke, ok := As(err); ok {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err is not a KBError.
func GetCode(err error) string {
	if ke, ok := As(err); ok {
		return ke.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err is not a KBError.
func GetCategory(err error) Category {
	if ke, ok := As(err); ok {
		return ke.Category
	}
	return ""
}
