// Package resilience provides the error taxonomy and retry/circuit-breaker
// patterns used around email transport and job execution.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (timeouts, 5xx,
// connection resets). The queue's backoff policy retries these.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks an error as non-retryable: the job runner abandons
// further attempts immediately instead of backing off.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retryable.
func Permanent(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// AuthError wraps a provider authorization failure. Auth errors are
// permanent for retry purposes and additionally trigger the inbox
// disconnect cascade.
type AuthError struct {
	Err        error
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError wraps an error as an authorization failure.
func NewAuthError(err error, statusCode int) *AuthError {
	return &AuthError{Err: err, StatusCode: statusCode}
}

// authPatterns are the message substrings that identify an authorization
// failure. Loose substrings like "auth" alone are deliberately excluded so
// words such as "author" or "authority" do not false-positive.
var authPatterns = []string{
	"unauthorized",
	"invalid_grant",
	"invalid_client",
	"token expired",
	"token has been expired",
	"token has been revoked",
	"refresh token",
	"authentication",
	"auth_error",
	"auth error",
	"insufficient permissions",
}

// IsAuthError reports whether the error is a provider authorization failure,
// either via an explicit AuthError in the chain, a 401/403 status code, or a
// message matching the fixed heuristic patterns.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}

	if code, ok := statusCodeOf(err); ok && (code == 401 || code == 403) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// statusCodeOf extracts a status code from a TransientError in the chain.
func statusCodeOf(err error) (int, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return te.StatusCode, true
	}
	return 0, false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or matches common transient patterns (network timeouts,
// connection resets, DNS failures). Permanent and auth errors are never
// transient, whatever their underlying cause.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) || IsAuthError(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientSMTPStatus returns true if the SMTP reply code indicates a
// transient server-side issue that is safe to retry.
func IsTransientSMTPStatus(code int) bool {
	switch code {
	case 421, // service not available
		450, // mailbox busy
		451, // local error in processing
		452: // insufficient storage
		return true
	default:
		return false
	}
}
