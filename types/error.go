package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Transport and session error codes
const (
	ErrTransportFault   ErrorCode = "TRANSPORT_FAULT"
	ErrHeartbeatTimeout ErrorCode = "HEARTBEAT_TIMEOUT"
	ErrProtocolParse    ErrorCode = "PROTOCOL_PARSE"
	ErrSessionState     ErrorCode = "SESSION_STATE"
)

// Model call error codes
const (
	ErrModelCallFailure ErrorCode = "MODEL_CALL_FAILURE"
	ErrModelTimeout     ErrorCode = "MODEL_TIMEOUT"
	ErrModelNotFound    ErrorCode = "MODEL_NOT_FOUND"
)

// Synthesis and API error codes
const (
	ErrSynthesisEmpty  ErrorCode = "SYNTHESIS_EMPTY"
	ErrSynthesisFailed ErrorCode = "SYNTHESIS_FAILED"
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Model      string    `json:"model,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithModel attaches the model the error belongs to.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// AsError extracts a *Error from err, wrapping unknown errors as INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(ErrInternalError, "internal error").WithCause(err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
