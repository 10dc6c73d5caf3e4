package network

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoSDKKey is returned when a request is attempted without an SDK key.
var ErrNoSDKKey = errors.New("network: SDK key is required")

// Error is a failed request. StatusCode is zero when no response was received.
type Error struct {
	Endpoint   Endpoint
	StatusCode int
	// Retriable marks failures a later attempt may not hit: transport errors, 408, 429 and 5xx.
	Retriable bool
	Err       error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d: %v", e.Endpoint, e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Class groups failures for deduplicated error reporting.
func (e *Error) Class() string {
	switch {
	case e.StatusCode == 0:
		return "NetworkError"
	case e.StatusCode >= 500:
		return "ServerError"
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "AuthError"
	default:
		return fmt.Sprintf("HTTP%d", e.StatusCode)
	}
}

func isRetriableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
