package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrorKind represents a classification of request failures.
type ErrorKind string

const (
	// KindNetwork represents transport failures (connection refused, DNS, reset).
	KindNetwork ErrorKind = "network"

	// KindAPI represents non-2xx responses.
	KindAPI ErrorKind = "api"

	// KindTimeout represents an exhausted overall request budget.
	KindTimeout ErrorKind = "timeout"

	// KindCancelled represents explicit cancellation by the caller.
	KindCancelled ErrorKind = "cancelled"

	// KindValidation represents locally detected invalid input.
	KindValidation ErrorKind = "validation"

	// KindAuth represents missing or rejected credentials.
	KindAuth ErrorKind = "auth"

	// KindNotFound represents a missing resource.
	KindNotFound ErrorKind = "not_found"

	// KindUnexpected is everything else.
	KindUnexpected ErrorKind = "unexpected"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrNetwork    = errors.New("network error")
	ErrAPI        = errors.New("api error")
	ErrTimeout    = errors.New("request timed out")
	ErrCancelled  = errors.New("request cancelled")
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("authentication error")
	ErrNotFound   = errors.New("not found")
	ErrUnexpected = errors.New("unexpected error")
)

var kindSentinels = map[ErrorKind]error{
	KindNetwork:    ErrNetwork,
	KindAPI:        ErrAPI,
	KindTimeout:    ErrTimeout,
	KindCancelled:  ErrCancelled,
	KindValidation: ErrValidation,
	KindAuth:       ErrAuth,
	KindNotFound:   ErrNotFound,
	KindUnexpected: ErrUnexpected,
}

// Error is the classified failure returned by the coordinator.
type Error struct {
	Kind    ErrorKind
	Message string

	// StatusCode and Body are set for KindAPI.
	StatusCode int
	Body       []byte

	// Fields holds per-field messages for KindValidation.
	Fields map[string]string

	// Attempts is the number of network attempts made before the error surfaced.
	Attempts int

	Err       error
	ID        string
	Timestamp time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Err:       cause,
		ID:        fmt.Sprintf("%s_%s", kind, uuid.NewString()),
		Timestamp: time.Now(),
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(cause error) *Error {
	return newError(KindNetwork, "network request failed", cause)
}

// NewAPIError builds an error for a non-2xx response.
func NewAPIError(statusCode int, message string, body []byte) *Error {
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", statusCode)
	}
	e := newError(KindAPI, message, nil)
	e.StatusCode = statusCode
	e.Body = body
	return e
}

// NewTimeoutError reports an exhausted request budget.
func NewTimeoutError(timeout time.Duration) *Error {
	return newError(KindTimeout, fmt.Sprintf("no result within %s", timeout), context.DeadlineExceeded)
}

// NewCancelledError reports explicit cancellation.
func NewCancelledError(cause error) *Error {
	return newError(KindCancelled, "request cancelled", cause)
}

// NewValidationError reports invalid input detected before any request was sent.
func NewValidationError(message string, fields map[string]string) *Error {
	e := newError(KindValidation, message, nil)
	e.Fields = fields
	return e
}

// NewAuthError reports missing or rejected credentials.
func NewAuthError(message string) *Error {
	return newError(KindAuth, message, nil)
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(message string) *Error {
	return newError(KindNotFound, message, nil)
}

// KindOf classifies any error. Returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindUnexpected
	}
}

// Retryable reports whether the coordinator retries errors of this kind.
// Non-2xx responses are retried like transport failures.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindAPI:
		return true
	default:
		return false
	}
}

// UserMessage maps an error to text suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return "An unknown error occurred."
	}

	var e *Error
	errors.As(err, &e)

	switch KindOf(err) {
	case KindNetwork:
		return "Unable to reach the server. Please check your connection."
	case KindTimeout:
		return "The request took too long. Please try again."
	case KindCancelled:
		return "The request was cancelled."
	case KindAuth:
		return "You must sign in to use this feature."
	case KindAPI:
		if e != nil {
			switch e.StatusCode {
			case 404:
				return "The requested resource does not exist."
			case 403:
				return "You do not have permission to perform this action."
			}
		}
		return "The server could not complete the request."
	case KindValidation:
		if e != nil && len(e.Fields) > 0 {
			return "Some information is missing or incorrect. Please review your input."
		}
		return "The submitted data is invalid. Please review your input."
	case KindNotFound:
		return "The item does not exist or has been deleted."
	default:
		return "An unexpected error occurred. Please try again or contact support."
	}
}

// LogError logs err with a severity chosen by its kind.
func LogError(logger zerolog.Logger, err error, operation string) {
	if err == nil {
		return
	}

	kind := KindOf(err)

	var event *zerolog.Event
	switch kind {
	case KindNetwork, KindTimeout, KindValidation, KindCancelled:
		event = logger.Warn()
	default:
		event = logger.Error()
	}

	var e *Error
	if errors.As(err, &e) {
		event = event.Str("error_id", e.ID).Time("error_time", e.Timestamp)
		if e.StatusCode != 0 {
			event = event.Int("status_code", e.StatusCode)
		}
		if len(e.Fields) > 0 {
			event = event.Interface("fields", e.Fields)
		}
	}

	event.Err(err).
		Str("error_kind", string(kind)).
		Str("operation", operation).
		Msg("Request error")
}
