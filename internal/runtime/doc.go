/*
Package runtime hosts the bus client behind the protobus facade.

# Architecture Overview

A Client joins a shared bus under a channel name. Events addressed to that
name arrive on its inbound topic, are matched against the handler registry
and run concurrently. Outbound calls travel the other way: the client wraps
the event in an envelope, publishes it to the target's topic and, when a
reply is wanted, waits for the correlated response.

# Package Structure

## Client (client.go)

The Client wires together:
  - the handler registry
  - the ConnectionManager and its Watermill router
  - the Dispatcher serving inbound events
  - the RequestClient issuing outbound calls
  - Prometheus metrics and the optional /metrics server

## Connection (connection.go)

ConnectionManager builds the transport through a Factory, performs the
explicit connect step of transports that have one and runs the inbound
router. Its State only moves forward: disconnected, connecting, subscribed,
active, draining, closed.

## Dispatch (dispatcher.go, hooks.go)

Each inbound event is bound to the handler parameters and invoked on its own
goroutine. Handler errors and panics become a Failure in the reply. Unknown
events and unbindable arguments are logged and never answered; the caller
times out. DispatchHooks observe every invocation; a panicking hook is logged
and the reply still goes out.

## Requests (requests.go)

Calls with a reply use the native request primitive of the transport when it
has one, and a correlation table keyed by ULID otherwise. Every waiting call
ends exactly once: with a Result, ErrTimeout, the caller's context error or
ErrClientClosed.

## Middleware (middleware.go)

The inbound router runs:
  - CorrelationID: fills in a missing correlation identifier
  - LogMessages: debug logging of payload and metadata
  - Tracer: OpenTelemetry span per received message
  - Metrics: Watermill's Prometheus router metrics
  - Recoverer: panic recovery

# Sub-packages

  - binder/: maps positional and keyword arguments onto handler parameters
  - config/: client configuration, defaults and YAML/TOML files
  - envelope/: wire envelope and its Watermill message mapping
  - errors/: sentinel errors and error types
  - handlers/: handler descriptors, typed adapters and the registry
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - metadata/: message metadata utilities
  - transport/: factory resolving transports from the registry

# Usage Example

	client, err := protobus.NewClient(&protobus.Config{
		Name:         "music",
		PubSubSystem: "relay",
		RelayAddress: "localhost:42069",
	}, logger, protobus.Dependencies{})

	client.Register("song", protobus.Func0(func(ctx context.Context, inv *protobus.Invocation) (string, error) {
		return "Daft Punk - One More Time", nil
	}))

	client.Start(ctx)
	defer client.Close(ctx)

	res, err := client.Request(ctx, "display", "show", protobus.WithArgs("hello"))
*/
package runtime
