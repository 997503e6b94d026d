// Package broker holds the error taxonomy shared by the concrete protocol
// clients.
package broker

import (
	"errors"
	"fmt"
)

// ErrAlreadyAuthenticated is returned when Authenticate is called on a
// client that already holds a live session. That is a programming error in
// the caller, not a retryable condition.
var ErrAlreadyAuthenticated = errors.New("broker: already authenticated")

// ErrNotAuthenticated is returned by calls that require a session token
// before Authenticate has succeeded.
var ErrNotAuthenticated = errors.New("broker: not authenticated")

// ErrStreamingUnsupported is returned by trade-only clients that have no
// market-data stream.
var ErrStreamingUnsupported = errors.New("broker: streaming not supported")

// AuthError is fatal to startup once login retries are exhausted.
type AuthError struct {
	Broker string
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Broker, e.Msg)
}

// DataError covers non-200 responses and malformed payloads on data calls.
// Callers treat it as "no data this cycle", never as fatal.
type DataError struct {
	Broker string
	Op     string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Broker, e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
