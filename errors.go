package flagkit

import (
	"errors"
)

var (
	// ErrShutdown is returned by lifecycle calls made after Shutdown.
	ErrShutdown = errors.New("flagkit: client is shut down")
	// ErrNoSDKKey is returned when a client is constructed without an SDK key.
	ErrNoSDKKey = errors.New("flagkit: sdk key is required")
)

// ClientError is a misuse of the client detected locally.
type ClientError struct {
	msg string
}

// APIError wraps a failure reported by the flag service.
type APIError struct {
	msg        string
	StatusCode int
	Err        error
}

func (e ClientError) Error() string {
	return e.msg
}

func (e APIError) Error() string {
	return e.msg
}

func (e APIError) Unwrap() error {
	return e.Err
}
