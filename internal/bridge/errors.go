package bridge

import (
	"errors"
	"fmt"
)

// ChannelError reports a failure inside the channel. Most are logged and
// the offending event dropped; none of them escape a handler call.
type ChannelError struct {
	// Code identifies the error category.
	Code ChannelErrorCode

	// Name is the event name involved, if any.
	Name string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// ChannelErrorCode categorizes channel errors.
type ChannelErrorCode string

const (
	// ErrCodeMalformedFrame indicates a frame that is not valid JSON or
	// fails envelope validation.
	ErrCodeMalformedFrame ChannelErrorCode = "MALFORMED_FRAME"

	// ErrCodeCoalesceFailed indicates a coalescer rejected a payload.
	ErrCodeCoalesceFailed ChannelErrorCode = "COALESCE_FAILED"

	// ErrCodeHandlerPanic indicates a handler panicked during fan-out.
	ErrCodeHandlerPanic ChannelErrorCode = "HANDLER_PANIC"

	// ErrCodeChannelClosed indicates use of a closed channel.
	ErrCodeChannelClosed ChannelErrorCode = "CHANNEL_CLOSED"

	// ErrCodeTransportFailed indicates the transport failed or closed.
	ErrCodeTransportFailed ChannelErrorCode = "TRANSPORT_FAILED"
)

// Error implements the error interface.
func (e *ChannelError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Name != "" {
		msg = fmt.Sprintf("%s (event=%s)", msg, e.Name)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a malformed frame error.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformedFrame)
}

// IsClosed reports whether err is a closed channel error.
func IsClosed(err error) bool {
	return hasCode(err, ErrCodeChannelClosed)
}

// IsTransportFailed reports whether err is a transport failure.
func IsTransportFailed(err error) bool {
	return hasCode(err, ErrCodeTransportFailed)
}

func hasCode(err error, code ChannelErrorCode) bool {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
