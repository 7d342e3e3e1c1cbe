package protobus

import (
	"context"

	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/protobus/internal/runtime"
	"github.com/drblury/protobus/internal/runtime/binder"
	configpkg "github.com/drblury/protobus/internal/runtime/config"
	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	handlerpkg "github.com/drblury/protobus/internal/runtime/handlers"
	idspkg "github.com/drblury/protobus/internal/runtime/ids"
	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
	transportpkg "github.com/drblury/protobus/internal/runtime/transport"
	newtransport "github.com/drblury/protobus/transport"
)

type (
	Config           = configpkg.Config
	Client           = runtimepkg.Client
	Dependencies     = runtimepkg.Dependencies
	State            = runtimepkg.State
	TransportFactory = transportpkg.Factory

	Result      = runtimepkg.Result
	Failure     = runtimepkg.Failure
	CallOption  = runtimepkg.CallOption
	BusMetrics  = runtimepkg.BusMetrics
	Descriptor  = handlerpkg.Descriptor
	Invocation  = handlerpkg.Invocation
	HandlerFunc = handlerpkg.Func
	AsyncFunc   = handlerpkg.AsyncFunc
	Outcome     = handlerpkg.Outcome
	Param       = binder.Param
	Shape       = binder.Shape
	Arguments   = binder.Arguments

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	DispatchContext = runtimepkg.DispatchContext
	DispatchHooks   = runtimepkg.DispatchHooks

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	TransportError        = errspkg.TransportError
	UnknownEventError     = errspkg.UnknownEventError
	BindingError          = errspkg.BindingError
	HandlerError          = errspkg.HandlerError

	// Modular transport types
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
	Requester             = newtransport.Requester
)

const (
	StateDisconnected = runtimepkg.StateDisconnected
	StateConnecting   = runtimepkg.StateConnecting
	StateSubscribed   = runtimepkg.StateSubscribed
	StateActive       = runtimepkg.StateActive
	StateDraining     = runtimepkg.StateDraining
	StateClosed       = runtimepkg.StateClosed

	FailureTypeError  = runtimepkg.FailureTypeError
	FailureTypePanic  = runtimepkg.FailureTypePanic
	FailureTypeEncode = runtimepkg.FailureTypeEncode

	// PayloadParam is the parameter name a single-blob payload binds to.
	PayloadParam = handlerpkg.PayloadParam
)

// Metadata keys set on every bus message.
const (
	MetadataKeyCorrelationID = envelopepkg.MetadataKeyCorrelationID
	MetadataKeyKind          = envelopepkg.MetadataKeyKind
	MetadataKeyEvent         = envelopepkg.MetadataKeyEvent
	MetadataKeySender        = envelopepkg.MetadataKeySender
	MetadataKeyReplyTo       = envelopepkg.MetadataKeyReplyTo
)

var (
	NewClient      = runtimepkg.NewClient
	LoadFile       = configpkg.LoadFile
	ValidateConfig = configpkg.ValidateConfig

	WithArgs         = runtimepkg.WithArgs
	WithKwargs       = runtimepkg.WithKwargs
	WithPayload      = runtimepkg.WithPayload
	WithProtoPayload = runtimepkg.WithProtoPayload
	WithReply        = runtimepkg.WithReply
	WithTimeout      = runtimepkg.WithTimeout
	WithMetadata     = runtimepkg.WithMetadata
	NewBusMetrics    = runtimepkg.NewBusMetrics
	DefaultFactory   = transportpkg.DefaultFactory
	RegistryFactory  = transportpkg.RegistryFactory
	Required         = binder.Required
	Optional         = binder.Optional
	Raw              = handlerpkg.Raw
	Async            = handlerpkg.Async
	EncodeResult     = handlerpkg.EncodeResult

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Use RegisterTransport and BuildTransport to plug in custom transports.
	// Built-in transports are registered via: _ "github.com/drblury/protobus/transport/transports"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrClientRequired       = errspkg.ErrClientRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrEventNameRequired    = errspkg.ErrEventNameRequired
	ErrClientNameRequired   = errspkg.ErrClientNameRequired
	ErrTargetRequired       = errspkg.ErrTargetRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired = errspkg.ErrEventPayloadRequired
	ErrPayloadConflict      = errspkg.ErrPayloadConflict
	ErrClientClosed         = errspkg.ErrClientClosed
	ErrAlreadyStarted       = errspkg.ErrAlreadyStarted
	ErrProtoTypeRequired    = errspkg.ErrProtoTypeRequired
	ErrTimeout              = errspkg.ErrTimeout

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Func0 adapts a handler without parameters.
func Func0[R any](fn func(ctx context.Context, inv *Invocation) (R, error)) *Descriptor {
	return handlerpkg.Func0(fn)
}

// Func1 adapts a handler with one parameter.
func Func1[A, R any](p Param, fn func(ctx context.Context, inv *Invocation, a A) (R, error)) *Descriptor {
	return handlerpkg.Func1(p, fn)
}

func Func2[A, B, R any](p1, p2 Param, fn func(ctx context.Context, inv *Invocation, a A, b B) (R, error)) *Descriptor {
	return handlerpkg.Func2(p1, p2, fn)
}

func Func3[A, B, C, R any](p1, p2, p3 Param, fn func(ctx context.Context, inv *Invocation, a A, b B, c C) (R, error)) *Descriptor {
	return handlerpkg.Func3(p1, p2, p3, fn)
}

// Typed adapts a handler taking one JSON payload decoded into T.
func Typed[T, R any](fn func(ctx context.Context, inv *Invocation, in T) (R, error)) *Descriptor {
	return handlerpkg.Typed(fn)
}

// Proto adapts a handler taking one protojson payload decoded into a clone of
// prototype.
func Proto[T proto.Message, R any](prototype T, fn func(ctx context.Context, inv *Invocation, in T) (R, error)) (*Descriptor, error) {
	return handlerpkg.Proto(prototype, fn)
}

// Arg returns the i-th bound argument converted to T.
func Arg[T any](args Arguments, i int) (T, error) {
	return binder.Arg[T](args, i)
}
