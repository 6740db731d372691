package rpckit

import (
	"errors"
	"fmt"
)

// ErrorCode is a wire-stable JSON-RPC error code.
type ErrorCode int

// Error codes. These values are part of the wire contract and must not change.
const (
	CodeParseError          ErrorCode = -32700
	CodeInvalidRequest      ErrorCode = -32600
	CodeMethodNotFound      ErrorCode = -32601
	CodeInvalidParams       ErrorCode = -32602
	CodeInternalError       ErrorCode = -32603
	CodeServerError         ErrorCode = -32000
	CodeAuthenticationError ErrorCode = -32001
	CodeRateLimitExceeded   ErrorCode = -32002
	CodeValidationError     ErrorCode = -32003
)

// SanitizedMessage replaces the message of untyped errors when sanitization is on.
const SanitizedMessage = "Internal error"

var codeNames = map[ErrorCode]string{
	CodeParseError:          "ParseError",
	CodeInvalidRequest:      "InvalidRequest",
	CodeMethodNotFound:      "MethodNotFound",
	CodeInvalidParams:       "InvalidParams",
	CodeInternalError:       "InternalError",
	CodeServerError:         "ServerError",
	CodeAuthenticationError: "AuthenticationError",
	CodeRateLimitExceeded:   "RateLimitExceeded",
	CodeValidationError:     "ValidationError",
}

var defaultMessages = map[ErrorCode]string{
	CodeParseError:          "Parse error",
	CodeInvalidRequest:      "Invalid Request",
	CodeMethodNotFound:      "Method not found",
	CodeInvalidParams:       "Invalid params",
	CodeInternalError:       "Internal error",
	CodeServerError:         "Server error",
	CodeAuthenticationError: "Authentication required",
	CodeRateLimitExceeded:   "Rate limit exceeded",
	CodeValidationError:     "Validation error",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Message returns the default human message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return defaultMessages[CodeServerError]
}

// Error is a taxonomy error. It is both a Go error and the wire error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, int(e.Code), e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// NewError creates a taxonomy error. An empty message falls back to the code's
// default message.
func NewError(code ErrorCode, message string) *Error {
	if message == "" {
		message = code.Message()
	}
	return &Error{Code: code, Message: message}
}

// WrapError creates a taxonomy error that keeps cause for errors.Is/As.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.cause = cause
	return e
}

func NewParseError(detail string) *Error {
	return withDetail(NewError(CodeParseError, ""), detail)
}

func NewInvalidRequest(detail string) *Error {
	return withDetail(NewError(CodeInvalidRequest, ""), detail)
}

func NewMethodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "").WithData(map[string]string{"method": method})
}

func NewInvalidParams(detail string) *Error {
	return withDetail(NewError(CodeInvalidParams, ""), detail)
}

// NewInternalError wraps cause as an InternalError. The cause message becomes the
// error message; use AsError with sanitize to hide it from clients.
func NewInternalError(cause error) *Error {
	if cause == nil {
		return NewError(CodeInternalError, "")
	}
	return WrapError(CodeInternalError, cause.Error(), cause)
}

func NewServerError(message string) *Error {
	return NewError(CodeServerError, message)
}

func NewAuthenticationError(message string) *Error {
	return NewError(CodeAuthenticationError, message)
}

func NewRateLimitExceeded(message string) *Error {
	return NewError(CodeRateLimitExceeded, message)
}

func NewValidationError(message string, data any) *Error {
	return NewError(CodeValidationError, message).WithData(data)
}

func withDetail(e *Error, detail string) *Error {
	if detail == "" {
		return e
	}
	return e.WithData(map[string]string{"detail": detail})
}

// AsError maps any error onto the taxonomy. Taxonomy errors found anywhere in the
// chain are returned unchanged, so mapping is idempotent. Anything else becomes an
// InternalError; with sanitize set its message is replaced by SanitizedMessage and
// no data is attached.
func AsError(err error, sanitize bool) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if sanitize {
		return WrapError(CodeInternalError, SanitizedMessage, err)
	}
	return WrapError(CodeInternalError, err.Error(), err)
}

// HasCode reports whether err maps to code.
func HasCode(err error, code ErrorCode) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// Registry errors.
var (
	ErrDuplicateMethod = errors.New("rpckit: method already registered")
	ErrReservedPrefix  = errors.New("rpckit: method name uses reserved prefix")
	ErrEmptyMethodName = errors.New("rpckit: method name is empty")
	ErrNilHandler      = errors.New("rpckit: handler is nil")
)
