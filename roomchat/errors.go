package roomchat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotInitialized is returned by Manager operations called before Initialize.
var ErrNotInitialized = errors.New("roomchat: manager not initialized")

// ErrorKind categorizes an AppError.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorConnection
	ErrorAuthentication
	ErrorValidation
	ErrorNetwork
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection"
	case ErrorAuthentication:
		return "authentication"
	case ErrorValidation:
		return "validation"
	case ErrorNetwork:
		return "network"
	default:
		return fmt.Sprintf("unknown_kind_%d", k)
	}
}

// Error codes carried in AppError.Code.
const (
	CodeNicknameRequired   = "nickname_required"
	CodeNicknameTooLong    = "nickname_too_long"
	CodeRoomIDRequired     = "room_id_required"
	CodeNotConnected       = "not_connected"
	CodeTimeout            = "timeout"
	CodeRoomNotFound       = "room_not_found"
	CodeRoomFull           = "room_full"
	CodeTransportClosed    = "transport_closed"
	CodeReconnectExhausted = "reconnect_exhausted"
	CodeMessageProcessing  = "message_processing"
	CodeSendFailed         = "send_failed"
)

// AppError is the error model surfaced to callers.
type AppError struct {
	Kind        ErrorKind
	Message     string
	Code        string
	Timestamp   time.Time
	Recoverable bool
	Wrapped     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *AppError) Unwrap() error {
	return e.Wrapped
}

// Is matches on Kind, and on Code when the target sets one.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// NewError creates a recoverable AppError.
func NewError(kind ErrorKind, code, message string) *AppError {
	return &AppError{
		Kind:        kind,
		Message:     message,
		Code:        code,
		Timestamp:   time.Now(),
		Recoverable: true,
	}
}

// WrapError wraps an existing error with an AppError.
func WrapError(kind ErrorKind, code, message string, err error) *AppError {
	e := NewError(kind, code, message)
	e.Wrapped = err
	return e
}

// ServerError describes an error reply sent by the chat server.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// classify converts any failure from a room operation into an AppError.
// action prefixes the message, e.g. "failed to join room".
func classify(err error, action string) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}

	var se *ServerError
	if errors.As(err, &se) {
		switch se.Code {
		case CodeRoomNotFound:
			return WrapError(ErrorConnection, CodeRoomNotFound, action+": room not found, check the id", err)
		case CodeRoomFull:
			e := WrapError(ErrorConnection, CodeRoomFull, action+": room is full", err)
			e.Recoverable = false
			return e
		case "unauthorized", "access_denied":
			return WrapError(ErrorAuthentication, se.Code, action+": "+se.Message, err)
		case "bad_request", "invalid_message":
			return WrapError(ErrorValidation, se.Code, action+": "+se.Message, err)
		default:
			return WrapError(ErrorUnknown, se.Code, action+": "+se.Message, err)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(ErrorNetwork, CodeTimeout, action+": timed out, check your connection and retry", err)
	case errors.Is(err, ErrTransportClosed):
		return WrapError(ErrorConnection, CodeTransportClosed, action+": connection closed", err)
	default:
		return WrapError(ErrorNetwork, "", action+": "+err.Error(), err)
	}
}

// IsValidationError reports whether err is a Validation AppError.
func IsValidationError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Kind == ErrorValidation
}

// IsConnectionError checks if an error is a connection or network error.
func IsConnectionError(err error) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == ErrorConnection || ae.Kind == ErrorNetwork
}

// IsRecoverable reports whether retrying the operation may succeed.
func IsRecoverable(err error) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return true
	}
	return ae.Recoverable
}
