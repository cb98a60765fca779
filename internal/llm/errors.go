package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors returned (wrapped) by providers.
var (
	// ErrAuthMissing means no credentials are configured for the provider.
	ErrAuthMissing = errors.New("llm credentials missing")

	// ErrMalformedPayload means the provider answered with a body that could
	// not be decoded into its response envelope.
	ErrMalformedPayload = errors.New("malformed provider payload")
)

// NetworkError wraps a transport failure (DNS, connection reset, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-200 response from the provider.
type HTTPError struct {
	Provider string
	Code     int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Code, e.Body)
}

// APIError is an error object reported inside a 200 response.
type APIError struct {
	Provider string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// IsConfiguration reports whether err is a credentials problem that retrying
// cannot fix.
func IsConfiguration(err error) bool {
	if errors.Is(err, ErrAuthMissing) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusUnauthorized || he.Code == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether err is a network or server-side failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusRequestTimeout || he.Code == http.StatusTooManyRequests || he.Code >= 500
	}
	return false
}

// IsMalformed reports whether err came from an undecodable provider payload.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedPayload)
}
