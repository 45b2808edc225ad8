// Package rpcerr provides the error taxonomy shared across the fleet service.
// Every error that can reach a client is representable as a *Error carrying
// the JSON-RPC 2.0 code it maps to (see internal/rpc for the wire envelope).
package rpcerr

import "errors"

// JSON-RPC 2.0 error codes, plus the service-specific codes spec.md §7 names.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternal       = -32603
	CodeAuthRequired   = -32001
	CodeAuthFailed     = -32002
	CodeRateLimited    = -32003
)

// Sentinel errors for consistent handling across the application.
// Checked with errors.Is() by callers that need to branch on kind
// without caring about the enclosing *Error's message.
var (
	// Instance errors
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrInstanceCrashed   = errors.New("browser process crashed")
	ErrLaunchFailed      = errors.New("failed to launch browser")
	ErrAcquireTimeout    = errors.New("timeout waiting for instance from pool")
	ErrPoolClosed        = errors.New("instance pool is closed")
	ErrPoolAtCapacity    = errors.New("instance pool is at capacity")

	// Driver errors
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrElementNotFound   = errors.New("element not found")
	ErrScriptError       = errors.New("script execution error")

	// Store errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrProfileExists    = errors.New("profile already exists")

	// Protocol / policy errors
	ErrInvalidEnvelope = errors.New("invalid JSON-RPC envelope")
	ErrMethodNotFound  = errors.New("method not found")
	ErrBadParams       = errors.New("invalid params")
	ErrAuthRequired    = errors.New("authentication required")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Error is the common shape of every structured error this service returns.
// It carries the JSON-RPC code that goes into the wire error object, plus
// optional structured data (e.g. retry_after for rate limiting).
type Error struct {
	Kind    string // category, e.g. "instance", "driver", "navigation", "interaction", "store", "internal"
	Code    int
	Message string
	Data    map[string]any
	Err     error // underlying sentinel, for errors.Is/As
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// New builds a structured error with the given kind, code and message.
func New(kind string, code int, message string, underlying error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: underlying}
}

// Instance-layer constructors.

func NotFound(id string) *Error {
	return New("instance", CodeInternal, "instance not found: "+id, ErrInstanceNotFound)
}

func AcquireTimeout() *Error {
	return New("instance", CodeInternal, "timed out waiting for an instance from the pool", ErrAcquireTimeout)
}

func LaunchFailed(reason string) *Error {
	return New("instance", CodeInternal, "failed to launch browser: "+reason, ErrLaunchFailed)
}

func Crashed(id string) *Error {
	return New("instance", CodeInternal, "instance crashed: "+id, ErrInstanceCrashed)
}

// Driver-layer constructors.

func NavigationTimeout(url string) *Error {
	return New("driver", CodeInternal, "navigation timed out: "+url, ErrNavigationTimeout)
}

func ElementNotFound(selector string) *Error {
	return New("driver", CodeInternal, "element not found: "+selector, ErrElementNotFound)
}

func ScriptError(message string) *Error {
	return New("driver", CodeInternal, "script error: "+message, ErrScriptError)
}

// Store-layer constructors.

func SessionNotFound(id string) *Error {
	return New("store", CodeInternal, "session not found: "+id, ErrSessionNotFound)
}

func ProfileNotFound(name string) *Error {
	return New("store", CodeInternal, "profile not found: "+name, ErrProfileNotFound)
}

func ProfileExists(name string) *Error {
	return New("store", CodeInternal, "profile already exists: "+name, ErrProfileExists)
}

// Protocol-layer constructors.

func ParseError(message string) *Error {
	return New("protocol", CodeParseError, "parse error: "+message, nil)
}

func InvalidRequest(message string) *Error {
	return New("protocol", CodeInvalidRequest, "invalid request: "+message, ErrInvalidEnvelope)
}

func MethodNotFound(method string) *Error {
	return New("protocol", CodeMethodNotFound, "method not found: "+method, ErrMethodNotFound)
}

func BadParams(message string) *Error {
	return New("protocol", CodeInvalidRequest, "invalid params: "+message, ErrBadParams)
}

func Internal(err error) *Error {
	if err == nil {
		return New("internal", CodeInternal, "internal error", nil)
	}
	return New("internal", CodeInternal, err.Error(), err)
}

// Policy-layer constructors.

func AuthRequired() *Error {
	return New("policy", CodeAuthRequired, "authentication required", ErrAuthRequired)
}

func AuthFailed() *Error {
	return New("policy", CodeAuthFailed, "authentication failed", ErrAuthFailed)
}

// RateLimited builds a rate-limit error carrying the suggested retry delay
// in seconds, surfaced to clients as error.data.retry_after per spec.md §7.
func RateLimited(retryAfterSeconds float64) *Error {
	return New("policy", CodeRateLimited, "rate limit exceeded", ErrRateLimited).withData(
		map[string]any{"retry_after": retryAfterSeconds},
	)
}

func (e *Error) withData(data map[string]any) *Error {
	e.Data = data
	return e
}

// AsStructured extracts a *Error from any error, falling back to a generic
// internal error when err isn't already one of ours, so any error can be
// turned into a well-formed JSON-RPC error response. No caller in this
// module uses it.
func AsStructured(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return Internal(err)
}
