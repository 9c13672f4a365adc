// ABOUTME: Custom error types for the reader cache and persistence core
// ABOUTME: Normalizes request failures and storage failures into inspectable shapes

package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Code is a machine-readable request failure code
type Code string

const (
	// CodeNetwork indicates a transport level failure
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeTimeout indicates the request exceeded its time bound
	CodeTimeout Code = "TIMEOUT"

	// CodeHTTP indicates a non-2xx HTTP response
	CodeHTTP Code = "HTTP_ERROR"

	// CodeCancelled indicates the caller aborted the request
	CodeCancelled Code = "CANCELLED"

	// CodeCircuitOpen indicates the endpoint breaker rejected the call
	CodeCircuitOpen Code = "CIRCUIT_OPEN"

	// CodeUpstream indicates the upstream API answered but reported a failure
	CodeUpstream Code = "UPSTREAM_ERROR"
)

// RequestError is the single error shape produced by the request layer.
type RequestError struct {
	Code     Code
	Status   int
	Attempts int
	Method   string
	URL      string
	Message  string
	Cause    error
}

// Error implements the error interface
func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Method != "" || e.URL != "" {
		fmt.Fprintf(&b, " %s %s", e.Method, e.URL)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// Storage error kinds. Use errors.Is against these.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrCorruptedEntry     = errors.New("corrupted storage entry")
	ErrVersionMismatch    = errors.New("storage schema version mismatch")
)

// StorageError describes a failed persistence operation
type StorageError struct {
	Kind error
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause
func (e *StorageError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewStorageError builds a StorageError of the given kind
func NewStorageError(kind error, op, key string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

// BatchError reports partial failure of a batch operation.
// Successful items are still applied when a BatchError is returned.
type BatchError struct {
	Op     string
	Total  int
	Failed int
	Errors map[string]error
}

// Error implements the error interface
func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Op, e.Failed, e.Total)
}

// Add records a failed item
func (e *BatchError) Add(key string, err error) {
	if e.Errors == nil {
		e.Errors = make(map[string]error)
	}
	e.Errors[key] = err
	e.Failed++
}

// ErrOrNil returns the BatchError if anything failed, nil otherwise
func (e *BatchError) ErrOrNil() error {
	if e == nil || e.Failed == 0 {
		return nil
	}
	return e
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsCancelled reports whether err represents a caller cancellation
func IsCancelled(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Code == CodeCancelled
	}
	return errors.Is(err, context.Canceled)
}

// IsRetryable applies the default retry condition: network failures,
// timeouts, 5xx, 429 and 408 are retryable. Other 4xx, cancellations and
// open breakers are not.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	switch reqErr.Code {
	case CodeNetwork, CodeTimeout:
		return true
	case CodeHTTP:
		return reqErr.Status >= 500 ||
			reqErr.Status == http.StatusTooManyRequests ||
			reqErr.Status == http.StatusRequestTimeout
	}
	return false
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
