package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
)

// DispatchContext describes one handler invocation to hooks.
type DispatchContext struct {
	// Event is the name the handler is registered under.
	Event string
	// Sender is the channel name of the caller.
	Sender string
	// CorrelationID is set for correlated requests.
	CorrelationID string
	// WantsReply reports whether the caller waits for a result.
	WantsReply bool
	// Metadata contains the message metadata.
	Metadata metadatapkg.Metadata
	// Context is the context the handler runs with.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnDone and OnError).
	Duration time.Duration
}

// DispatchHooks defines callbacks for the handler lifecycle.
// All hooks are optional - nil hooks are simply not called.
// Hooks run on the handler goroutine and delay its reply.
type DispatchHooks struct {
	OnStart func(ctx DispatchContext)
	OnDone  func(ctx DispatchContext)
	OnError func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks; the hooks from other run after h's.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DispatchHooks) start(ctx DispatchContext) {
	if h.OnStart != nil {
		h.OnStart(ctx)
	}
}

func (h DispatchHooks) finish(ctx DispatchContext, err error) {
	switch {
	case err != nil && h.OnError != nil:
		h.OnError(ctx, err)
	case err == nil && h.OnDone != nil:
		h.OnDone(ctx)
	}
}

// LoggingHooks returns hooks that log every invocation at debug level.
// Failures are already logged by the dispatcher.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnStart: func(ctx DispatchContext) {
			logger.Debug("Handler started", loggingpkg.LogFields{
				"event":          ctx.Event,
				"sender":         ctx.Sender,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnDone: func(ctx DispatchContext) {
			logger.Debug("Handler completed", loggingpkg.LogFields{
				"event":       ctx.Event,
				"sender":      ctx.Sender,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on handler errors.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnError: alertFunc,
	}
}
