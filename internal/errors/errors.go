// Package errors provides the structured error type returned by the portal API client.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed API call.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindMalformed Kind = "malformed"
)

// Sentinel errors, one per Kind. An *APIError matches its kind's sentinel with errors.Is.
var (
	ErrUnreachable = errors.New("backend unreachable")
	ErrTimeout     = errors.New("request timed out")
	ErrAuthFailure = errors.New("authentication failed")
	ErrRateLimit   = errors.New("rate limit exceeded")
	ErrServer      = errors.New("server error")
	ErrMalformed   = errors.New("malformed server response")
)

// Status codes used for failures that never reached an HTTP response.
const (
	StatusNetwork = 0
	StatusTimeout = http.StatusRequestTimeout
)

// APIError represents a failed call against the portal REST API.
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
	// Data is the decoded JSON error body, empty when the body was missing or not JSON.
	Data       map[string]any
	RetryAfter string
	RequestID  string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v", e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) and friends match on Kind.
func (e *APIError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrUnreachable
	case KindTimeout:
		return ErrTimeout
	case KindAuth:
		return ErrAuthFailure
	case KindRateLimit:
		return ErrRateLimit
	case KindServer:
		return ErrServer
	case KindMalformed:
		return ErrMalformed
	}
	return nil
}

// NewAPIError creates an error of the given kind.
func NewAPIError(kind Kind, statusCode int, message string) *APIError {
	return &APIError{Kind: kind, StatusCode: statusCode, Message: message, Data: map[string]any{}}
}

// Network is a reachability or transport failure (status 0).
func Network(message string, err error) *APIError {
	e := NewAPIError(KindNetwork, StatusNetwork, message)
	e.Err = err
	return e
}

// Timeout is an aborted or timed-out request (status 408).
func Timeout(err error) *APIError {
	e := NewAPIError(KindTimeout, StatusTimeout, "Request timeout")
	e.Err = err
	return e
}

// As returns the *APIError in err's chain, if any.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not an *APIError.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return ""
}

// StatusOf returns the status code carried by err, or -1 when err is not an *APIError.
func StatusOf(err error) int {
	if apiErr, ok := As(err); ok {
		return apiErr.StatusCode
	}
	return -1
}

// MessageOr returns the user-facing message for err, or fallback when there is none.
func MessageOr(err error, fallback string) string {
	if apiErr, ok := As(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && !isAPIError(err) && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

func isAPIError(err error) bool {
	_, ok := As(err)
	return ok
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	apiErr, ok := As(err)
	if !ok {
		return false
	}
	switch apiErr.Kind {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	case KindServer:
		switch apiErr.StatusCode {
		case 500, 502, 503, 504:
			return true
		}
	}
	return false
}
