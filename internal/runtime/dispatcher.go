package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/protobus/internal/runtime/binder"
	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	handlerpkg "github.com/drblury/protobus/internal/runtime/handlers"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
)

// Failure types sent back when a handler did not produce its own *Failure.
const (
	FailureTypeError  = "HandlerError"
	FailureTypePanic  = "HandlerPanic"
	FailureTypeEncode = "EncodeError"
)

// Dispatcher turns inbound envelopes into handler invocations and replies.
// Each event runs on its own goroutine so a slow handler never holds up the
// inbound loop.
type Dispatcher struct {
	registry *handlerpkg.Registry
	requests *RequestClient
	publish  publishFunc
	sender   func() string
	logger   loggingpkg.ServiceLogger
	metrics  *BusMetrics
	tracer   trace.Tracer
	hooks    DispatchHooks

	inflight sync.WaitGroup
}

func newDispatcher(registry *handlerpkg.Registry, requests *RequestClient, publish publishFunc, sender func() string, logger loggingpkg.ServiceLogger, metrics *BusMetrics, hooks DispatchHooks) *Dispatcher {
	return &Dispatcher{
		hooks:    hooks,
		registry: registry,
		requests: requests,
		publish:  publish,
		sender:   sender,
		logger:   logger,
		metrics:  metrics,
		tracer:   busTracer(),
	}
}

// HandleMessage is the router handler for the inbound topic. It never returns
// an error: malformed input is logged and acknowledged.
func (d *Dispatcher) HandleMessage(msg *message.Message) error {
	env, err := envelopepkg.FromMessage(msg)
	if err != nil {
		d.logger.Error("Dropping malformed envelope", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"sender":       msg.Metadata.Get(envelopepkg.MetadataKeySender),
		})
		d.metrics.recordDispatch("", outcomeMalformed, 0)
		return nil
	}

	md := metadatapkg.FromWatermill(msg.Metadata)
	d.OnEnvelope(context.WithoutCancel(msg.Context()), env, md)
	return nil
}

// OnEnvelope routes one decoded envelope. Responses resolve pending calls;
// events are bound and handed to a new goroutine.
func (d *Dispatcher) OnEnvelope(ctx context.Context, env *envelopepkg.Envelope, md metadatapkg.Metadata) {
	if env.Kind == envelopepkg.KindResponse {
		d.requests.Resolve(env)
		return
	}

	fields := loggingpkg.LogFields{
		"event":          env.Name,
		"sender":         env.Sender,
		"correlation_id": env.CorrelationID,
	}

	desc, ok := d.registry.Resolve(env.Name)
	if !ok {
		d.logger.Error("No handler registered", &errspkg.UnknownEventError{Event: env.Name, Sender: env.Sender}, fields)
		d.metrics.recordDispatch(env.Name, outcomeUnknown, 0)
		return
	}

	args, err := binder.Bind(binder.FromParts(env.Args, env.Kwargs, env.Payload), desc.Params)
	if err != nil {
		var bindErr *errspkg.BindingError
		if errors.As(err, &bindErr) {
			bindErr.Handler = desc.Name
		}
		d.logger.Error("Cannot bind arguments", err, fields)
		d.metrics.recordDispatch(env.Name, outcomeUnbound, 0)
		return
	}

	inv := &handlerpkg.Invocation{
		Event:         env.Name,
		Sender:        env.Sender,
		CorrelationID: env.CorrelationID,
		WantsReply:    env.WantsReply,
		Metadata:      md,
		Logger:        d.logger.With(fields),
		Args:          args,
	}

	d.inflight.Add(1)
	go d.invoke(ctx, desc, env, inv)
}

func (d *Dispatcher) invoke(ctx context.Context, desc *handlerpkg.Descriptor, env *envelopepkg.Envelope, inv *handlerpkg.Invocation) {
	defer d.inflight.Done()

	ctx, span := d.tracer.Start(ctx, "protobus.dispatch "+env.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("protobus.event", env.Name),
			attribute.String("protobus.sender", env.Sender),
			attribute.Bool("protobus.wants_reply", env.WantsReply),
		))
	defer span.End()

	hookCtx := DispatchContext{
		Event:         env.Name,
		Sender:        env.Sender,
		CorrelationID: env.CorrelationID,
		WantsReply:    env.WantsReply,
		Metadata:      inv.Metadata,
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	runHook(inv.Logger, "start", func() { d.hooks.start(hookCtx) })

	value, panicked, err := safeInvoke(ctx, desc, inv)
	elapsed := time.Since(hookCtx.StartedAt)
	hookCtx.Duration = elapsed
	runHook(inv.Logger, "finish", func() { d.hooks.finish(hookCtx, err) })

	resp := envelopepkg.NewResponse(d.sender(), env)
	if err != nil {
		herr := &errspkg.HandlerError{Event: env.Name, Err: err, Panic: panicked}
		inv.Logger.Error("Handler failed", herr, loggingpkg.LogFields{"duration": elapsed})
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		d.metrics.recordDispatch(env.Name, outcomeFailure, elapsed)
		resp.Failure = failureOf(err, panicked)
	} else {
		d.metrics.recordDispatch(env.Name, outcomeOK, elapsed)
		if env.WantsReply {
			raw, encErr := handlerpkg.EncodeResult(value)
			if encErr != nil {
				inv.Logger.Error("Cannot encode handler result", encErr, nil)
				resp.Failure = &Failure{Type: FailureTypeEncode, Message: encErr.Error()}
			} else {
				resp.Result = raw
			}
		}
	}

	if !env.WantsReply {
		return
	}

	replyTo := inv.ReplyTo()
	if replyTo == "" {
		replyTo = env.Sender
	}
	msg, err := envelopepkg.ToMessage(resp, nil)
	if err != nil {
		inv.Logger.Error("Cannot build response", err, nil)
		return
	}
	msg.SetContext(ctx)
	if err := d.publish(ctx, replyTo, msg); err != nil {
		inv.Logger.Error("Cannot publish response", &errspkg.TransportError{Op: "reply", Target: replyTo, Err: err}, nil)
	}
}

// Wait blocks until every in-flight handler has finished and replied, or ctx
// is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func safeInvoke(ctx context.Context, desc *handlerpkg.Descriptor, inv *handlerpkg.Invocation) (value any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			panicked = true
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	value, err = desc.Invoke(ctx, inv)
	return value, false, err
}

// runHook runs a dispatch hook. A panicking hook is logged and does not stop
// the reply.
func runHook(logger loggingpkg.ServiceLogger, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dispatch hook panicked", fmt.Errorf("%v", r), loggingpkg.LogFields{"stage": stage})
		}
	}()
	fn()
}

// failureOf keeps a *Failure returned by the handler as is.
func failureOf(err error, panicked bool) *Failure {
	var f *Failure
	if errors.As(err, &f) && f != nil {
		return &Failure{Type: f.Type, Message: f.Message}
	}
	if panicked {
		return &Failure{Type: FailureTypePanic, Message: err.Error()}
	}
	return &Failure{Type: FailureTypeError, Message: err.Error()}
}
