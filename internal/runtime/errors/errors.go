package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrClientRequired       = sterrors.New("protobus: bus client is required")
	ErrHandlerRequired      = sterrors.New("protobus: handler function is required")
	ErrEventNameRequired    = sterrors.New("protobus: event name is required")
	ErrClientNameRequired   = sterrors.New("protobus: client name is required")
	ErrTargetRequired       = sterrors.New("protobus: call target is required")
	ErrPublisherRequired    = sterrors.New("protobus: publisher is required")
	ErrSubscriberRequired   = sterrors.New("protobus: subscriber is required")
	ErrConfigRequired       = sterrors.New("protobus: configuration is required")
	ErrLoggerRequired       = sterrors.New("protobus: logger is required")
	ErrEventPayloadRequired = sterrors.New("protobus: event payload is required")
	ErrPayloadConflict      = sterrors.New("protobus: payload cannot be combined with args or kwargs")
	ErrClientClosed         = sterrors.New("protobus: client is closed")
	ErrNotConnected         = sterrors.New("protobus: client is not connected")
	ErrAlreadyStarted       = sterrors.New("protobus: client already started")
	ErrProtoTypeRequired    = sterrors.New("protobus: proto message type is required")
	ErrProtoPointerNeeded   = sterrors.New("protobus: proto message type must be a pointer")

	// ErrTimeout is returned by Call when no reply arrived before the deadline.
	// It also covers calls to unknown events: the remote side never replies.
	ErrTimeout = sterrors.New("protobus: timed out waiting for reply")
)

// ConfigValidationError wraps configuration problems detected by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "protobus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// TransportError reports a connect or write failure on the underlying transport.
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("protobus: transport %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("protobus: transport %s %q failed: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnknownEventError is logged when an inbound event has no registered handler.
type UnknownEventError struct {
	Event  string
	Sender string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("protobus: unknown event %q from %q", e.Event, e.Sender)
}

// BindingError reports a payload that does not fit a handler's parameter shape.
type BindingError struct {
	Handler string
	Shape   []string
	Reason  string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("protobus: cannot bind payload to %s(%s): %s",
		e.Handler, strings.Join(e.Shape, ", "), e.Reason)
}

// HandlerError wraps an error returned (or a panic raised) by a handler.
type HandlerError struct {
	Event string
	Err   error
	Panic bool
}

func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("protobus: handler %q panicked: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("protobus: handler %q failed: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
