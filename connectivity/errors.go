// Package connectivity holds the retry and circuit breaker helpers shared
// by the HTTP clients.
package connectivity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned when the breaker guarding a service rejects a
// call without attempting it.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("connectivity: %s %s: status %d", e.Method, e.URL, e.Code)
}

// Temporary reports whether retrying may succeed: server errors, 408 and
// 429.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent or is an open circuit.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	var open *ErrCircuitOpen
	return errors.As(err, &open)
}
