package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
)

// UpstreamError is returned by clients of third-party services when the
// remote side answered with a non-success status.
type UpstreamError struct {
	Service    string
	Status     int
	Message    string
	RetryAfter time.Duration // zero when the remote gave no hint
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *UpstreamError) Permanent() bool {
	if e.Status == 408 || e.Status == 429 {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}
