package protocol

import (
	"errors"
	"time"
)

var (
	// Transport errors

	ErrTransportNotConfigured = errors.New("transport not configured")
	ErrTransportClosed        = errors.New("transport is closed")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrBindFailed             = errors.New("bind failed")
	ErrDialFailed             = errors.New("dial failed")
	ErrInboxFull              = errors.New("inbox is full")

	// Packet errors

	ErrUnknownFormat    = errors.New("unknown packet format")
	ErrMalformedPacket  = errors.New("malformed packet")
	ErrUnknownType      = errors.New("unknown message type")
	ErrInvalidMessageID = errors.New("invalid message ID")

	ErrUnknownError = errors.New("unknown error")
)

// ErrorCode is a numeric error code for errors crossing package boundaries.
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Transport error codes (7000-7999)

	ErrorCodeTransportNotConfigured ErrorCode = 7001
	ErrorCodeTransportClosed        ErrorCode = 7002
	ErrorCodeInvalidAddress         ErrorCode = 7004
	ErrorCodeBindFailed             ErrorCode = 7005
	ErrorCodeDialFailed             ErrorCode = 7007
	ErrorCodeInboxFull              ErrorCode = 7008

	// Packet error codes (8000-8999)

	ErrorCodeUnknownFormat    ErrorCode = 8001
	ErrorCodeMalformedPacket  ErrorCode = 8002
	ErrorCodeUnknownType      ErrorCode = 8003
	ErrorCodeInvalidMessageID ErrorCode = 8004

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error is a protocol error with a code and optional context.
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsTemporary reports whether retrying the operation could succeed.
func (e *Error) IsTemporary() bool {
	switch e.Code {
	case ErrorCodeInboxFull, ErrorCodeDialFailed:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the transport is unusable after this error.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeTransportClosed, ErrorCodeTransportNotConfigured, ErrorCodeBindFailed:
		return true
	default:
		return false
	}
}

var errorCodeMap = map[error]ErrorCode{
	ErrTransportNotConfigured: ErrorCodeTransportNotConfigured,
	ErrTransportClosed:        ErrorCodeTransportClosed,
	ErrInvalidAddress:         ErrorCodeInvalidAddress,
	ErrBindFailed:             ErrorCodeBindFailed,
	ErrDialFailed:             ErrorCodeDialFailed,
	ErrInboxFull:              ErrorCodeInboxFull,

	ErrUnknownFormat:    ErrorCodeUnknownFormat,
	ErrMalformedPacket:  ErrorCodeMalformedPacket,
	ErrUnknownType:      ErrorCodeUnknownType,
	ErrInvalidMessageID: ErrorCodeInvalidMessageID,

	ErrUnknownError: ErrorCodeUnknownError,
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	if code, exists := errorCodeMap[err]; exists {
		return code
	}

	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a protocol error
func WrapError(err error, message string) *Error {
	code := GetErrorCode(err)
	return NewProtocolError(code, message, err)
}
