package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTimeout        = errors.New("timeout")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrBackendUnavail = errors.New("backend unavailable")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// RouteNotFoundError is returned when no routing rule matches a request.
type RouteNotFoundError struct {
	Path   string
	Method string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Path: path, Method: method}
}

// NoHealthyBackendError is returned when the candidate set for a request
// contains no available backend service.
type NoHealthyBackendError struct {
	Rule       string
	Candidates []string
}

// Error implements the error interface.
func (e *NoHealthyBackendError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("no healthy backend available for rule %s (candidates: %v)", e.Rule, e.Candidates)
	}
	return "no healthy backend available"
}

// Is checks if the error matches the target.
func (e *NoHealthyBackendError) Is(target error) bool {
	if target == ErrBackendUnavail {
		return true
	}
	_, ok := target.(*NoHealthyBackendError)
	return ok
}

// NewNoHealthyBackendError creates a new NoHealthyBackendError.
func NewNoHealthyBackendError(rule string, candidates []string) *NoHealthyBackendError {
	return &NoHealthyBackendError{Rule: rule, Candidates: candidates}
}

// BackendError represents a transport failure while contacting a backend.
type BackendError struct {
	Backend string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend %s error: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s error: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BackendError) Is(target error) bool {
	if target == ErrBackendUnavail {
		return true
	}
	if target == ErrTimeout && isTimeout(e.Cause) {
		return true
	}
	_, ok := target.(*BackendError)
	return ok || errors.Is(e.Cause, target)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend, message string) *BackendError {
	return &BackendError{Backend: backend, Message: message}
}

// NewBackendErrorWithCause creates a new BackendError with a cause.
func NewBackendErrorWithCause(backend, message string, cause error) *BackendError {
	return &BackendError{Backend: backend, Message: message, Cause: cause}
}

// RateLimitError represents a rate limit exceeded error. It carries enough
// of the decision to build Retry-After and X-RateLimit-* headers.
type RateLimitError struct {
	Rule       string
	Algorithm  string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (rule: %s, algorithm: %s, limit: %d, retry after: %v)",
		e.Rule, e.Algorithm, e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(rule, algorithm string, limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Rule: rule, Algorithm: algorithm, Limit: limit, RetryAfter: retryAfter}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
