package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for the platform package.
var (
	// ErrNotConnected is returned when the stream client has no live connection.
	ErrNotConnected = errors.New("platform: not connected")

	// ErrAuthFailed is returned when the event-stream auth handshake is rejected.
	ErrAuthFailed = errors.New("platform: authentication failed")

	// ErrReconnectExhausted is returned when reconnection attempts are used up.
	ErrReconnectExhausted = errors.New("platform: reconnect attempts exhausted")

	// ErrEntityNotFound is returned for an unknown entity id.
	ErrEntityNotFound = errors.New("platform: entity not found")
)

// TransientError wraps a failure that is safe to retry: network timeouts,
// connection errors, and 429/502/503/504 responses.
type TransientError struct {
	Op     string // operation that failed, e.g. "call_service"
	Status int    // HTTP status, 0 if not an HTTP failure
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform: %s: transient (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("platform: %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix: 4xx responses
// other than 429, or responses whose body indicates an invalid request.
type PermanentError struct {
	Op     string
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("platform: %s: permanent (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("platform: %s: permanent: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// transientStatus reports whether an HTTP status code indicates a
// retryable condition.
func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return status >= 500
}

// classifyStatus converts a non-2xx HTTP response into the taxonomy.
func classifyStatus(op string, status int, body string) error {
	base := fmt.Errorf("unexpected response: %s", strings.TrimSpace(body))
	if transientStatus(status) {
		return &TransientError{Op: op, Status: status, Err: base}
	}
	return &PermanentError{Op: op, Status: status, Err: base}
}

// ClassifyError converts an arbitrary call failure into the taxonomy.
// Already-classified errors pass through unchanged. Timeouts and network
// errors are transient; errors whose text indicates an invalid request or
// a missing resource are permanent; everything else defaults to transient
// so the retry policy gets a chance.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsPermanent(err) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid") || strings.Contains(msg, "not found") {
		return &PermanentError{Op: op, Err: err}
	}

	return &TransientError{Op: op, Err: err}
}
