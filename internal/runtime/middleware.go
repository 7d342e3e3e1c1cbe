package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	idspkg "github.com/drblury/protobus/internal/runtime/ids"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
)

const tracerName = "github.com/drblury/protobus"

func busTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// MiddlewareBuilder constructs a handler middleware for the inbound router of
// a connection.
type MiddlewareBuilder func(*ConnectionManager, *message.Router) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on the
// inbound router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain wrapped around the inbound handler.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Watermill's Prometheus router metrics when metrics
// are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(m *ConnectionManager, router *message.Router) (message.HandlerMiddleware, error) {
			if !m.conf.MetricsEnabled || m.metrics == nil {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				m.metrics.registerer,
				"protobus",
				m.conf.PubSubSystem,
			)
			metricsBuilder.AddPrometheusRouterMetrics(router)
			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the payload and metadata of inbound messages at
// debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(m *ConnectionManager, _ *message.Router) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = m.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps the receipt of each inbound message in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RecovererMiddleware turns a panic in the inbound handler into an error.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (m *ConnectionManager) registerMiddleware(router *message.Router, cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(m, router)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	router.AddMiddleware(mw)
	return nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(envelopepkg.MetadataKeyCorrelationID) == "" {
			msg.Metadata.Set(envelopepkg.MetadataKeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := busTracer().Start(msg.Context(), "protobus.receive",
			trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("protobus.kind", msg.Metadata.Get(envelopepkg.MetadataKeyKind)),
			attribute.String("protobus.sender", msg.Metadata.Get(envelopepkg.MetadataKeySender)),
		)
		return h(msg)
	}
}
