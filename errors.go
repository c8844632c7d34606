package llmrelay

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors
var (
	ErrUnknownModel       = errors.New("unknown model")
	ErrUnknownEmbedder    = errors.New("unknown embedder")
	ErrUnknownVectorStore = errors.New("unknown vector store")
	ErrNoProviders        = errors.New("no providers registered")
	ErrAlreadyRegistered  = errors.New("name already registered")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrRequestTimeout     = errors.New("request timeout")
	ErrDuplicateTicket    = errors.New("ticket already queued")
)

// APIError represents an error from an LLM provider API
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Type       string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Provider
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusSentinel maps an HTTP status to the sentinel providers wrap into APIError.Err.
// It returns nil for statuses without a dedicated sentinel.
func StatusSentinel(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest:
		return ErrInvalidRequest
	}
	return nil
}

// IsTimeout reports whether err is a guarded-call deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout)
}

// IsRetryable returns true if the error is worth another attempt against the
// same provider. Timeouts are terminal for the guarded call.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// the caller gave up
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrDuplicateTicket) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusBadRequest:
			return false
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	// Default to retryable for unknown errors
	return true
}

// ShouldFallback reports whether the router should try the next provider in
// its fallback list after err.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRequestTimeout) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	return IsRetryable(err)
}

// IsRateLimited returns true if the error indicates rate limiting
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}
