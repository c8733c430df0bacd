package lilyvoice

import (
	"fmt"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeNotConnected           = "NOT_CONNECTED"
	ErrCodeSessionClosing         = "SESSION_CLOSING"
	ErrCodeSocketFault            = "SOCKET_FAULT"
	ErrCodeRegistrationExhausted  = "REGISTRATION_EXHAUSTED"
	ErrCodeDeviceAccessDenied     = "DEVICE_ACCESS_DENIED"
	ErrCodeDeviceUnavailable      = "DEVICE_UNAVAILABLE"
	ErrCodeAlreadyCapturing       = "ALREADY_CAPTURING"
	ErrCodePlaybackFault          = "PLAYBACK_FAULT"
	ErrCodeConfigInvalid          = "CONFIG_INVALID"
	ErrCodeStorage                = "STORAGE_ERROR"
)

// ClientError carries a stable code alongside the message so callers can
// branch without string matching.
type ClientError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewClientError(message, code string) *ClientError {
	return &ClientError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *ClientError) Unwrap() error {
	return e.err
}

// AddDetail attaches extra context to the error.
func (e *ClientError) AddDetail(key string, value interface{}) *ClientError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WrapError converts any error into a ClientError with the given code.
func WrapError(err error, code string) *ClientError {
	if err == nil {
		return nil
	}
	cerr := NewClientError(err.Error(), code)
	cerr.err = err
	return cerr
}

// IsErrorCode reports whether err is a ClientError carrying code.
func IsErrorCode(err error, code string) bool {
	cerr, ok := err.(*ClientError)
	return ok && cerr.Code == code
}

func newNotConnectedError() *ClientError {
	return NewClientError("websocket not connected", ErrCodeNotConnected)
}

func newSessionClosingError() *ClientError {
	return NewClientError("session is shutting down", ErrCodeSessionClosing)
}

func newDeviceError(err error) *ClientError {
	// PortAudio reports permission problems and missing hardware through
	// the same error type; keep them apart for callers where we can.
	msg := strings.ToLower(err.Error())
	code := ErrCodeDeviceUnavailable
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		code = ErrCodeDeviceAccessDenied
	}
	return WrapError(err, code)
}
