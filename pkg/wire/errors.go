package wire

import (
	"fmt"

	"github.com/WebFirstLanguage/lanbeacon/pkg/constants"
)

// Error represents a protocol-level error (§7).
type Error struct {
	Code       uint16  `cbor:"code"`
	Reason     string  `cbor:"reason"`
	RetryAfter *uint32 `cbor:"retry_after,omitempty"`
}

// NewError creates a new protocol error.
func NewError(code uint16, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// NewErrorWithRetry creates a protocol error carrying a retry-after hint.
func NewErrorWithRetry(code uint16, reason string, retryAfter uint32) *Error {
	return &Error{Code: code, Reason: reason, RetryAfter: &retryAfter}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("wire error %d: %s (retry after %ds)", e.Code, e.Reason, *e.RetryAfter)
	}
	return fmt.Sprintf("wire error %d: %s", e.Code, e.Reason)
}

// IsRetryable reports whether the caller should retry the operation.
func (e *Error) IsRetryable() bool {
	return e.RetryAfter != nil || e.Code == constants.ErrorTransient
}

// ErrorCodeName returns a human-readable name for an error code.
func ErrorCodeName(code uint16) string {
	switch code {
	case constants.ErrorProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case constants.ErrorTransient:
		return "TRANSIENT"
	case constants.ErrorSourceRefused:
		return "SOURCE_REFUSED"
	case constants.ErrorIntegrity:
		return "INTEGRITY"
	case constants.ErrorLocalIO:
		return "LOCAL_IO"
	case constants.ErrorConfiguration:
		return "CONFIGURATION"
	default:
		return fmt.Sprintf("UNKNOWN_%d", code)
	}
}

// ErrorFrame wraps err in a Frame of KindError.
func ErrorFrame(from string, tag uint32, err *Error) *Frame {
	return New(constants.KindError, from, tag, err)
}

// IsErrorFrame reports whether f carries an Error body.
func IsErrorFrame(f *Frame) bool {
	return f.Kind == constants.KindError
}

// ExtractError pulls the Error out of an error frame.
func ExtractError(f *Frame) (*Error, error) {
	if !IsErrorFrame(f) {
		return nil, fmt.Errorf("frame is not an error frame")
	}
	err, ok := f.Body.(*Error)
	if !ok {
		return nil, fmt.Errorf("frame body is not an Error")
	}
	return err, nil
}
