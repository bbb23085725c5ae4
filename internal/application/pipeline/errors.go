package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/recallbot/internal/domain"
)

// FetchError is a failure of the fetch collaborator: network, timeout,
// non-success status or a response body that failed schema validation.
// Status is zero when no HTTP response was received.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch failed: status %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("fetch failed: %v", e.Err)
	default:
		return "fetch failed: " + e.Message
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ConfigurationError reports a problem that retrying cannot fix, such as an
// unknown source key.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Message, e.Err)
	}
	return "configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure unrelated to the dedup keys.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// PublishError is a broadcast failure for one recall. Ambiguous is set when
// at least one attempt timed out, so the remote side may have accepted it.
type PublishError struct {
	RecallID  string
	Ambiguous bool
	Err       error
}

func (e *PublishError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("publish %s (outcome unknown): %v", e.RecallID, e.Err)
	}
	return fmt.Sprintf("publish %s: %v", e.RecallID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// StageError is what a failed run returns: the stage that failed and why.
type StageError struct {
	RunID string
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NoRetry marks an error as non-retryable.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a server-suggested delay (HTTP 429 Retry-After) to err.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// classifyUpstream applies retry hints carried by an UpstreamError.
func classifyUpstream(err error) error {
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		return err
	}
	if ue.Permanent() {
		return NoRetry(err)
	}
	if ue.RetryAfter > 0 {
		return RetryAfter(err, ue.RetryAfter)
	}
	return err
}

func toFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var ue *domain.UpstreamError
	if errors.As(err, &ue) {
		return &FetchError{Status: ue.Status, Message: ue.Message, Err: err}
	}
	return &FetchError{Message: err.Error(), Err: err}
}

// isTimeout reports whether err means the call may have reached the remote
// side without us seeing the answer.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
