// Package protobus lets processes talk to each other by name over a shared
// message bus. Every process joins the bus as a Client under a channel name,
// registers named handlers and calls the handlers of other clients, either
// fire-and-forget or waiting for the correlated reply.
//
// The transport is picked from Config.PubSubSystem. A minimal setup fills
// Config, creates a Client, registers handlers and calls Start; Close drains
// in-flight handlers before releasing the connection.
//
// # Transports
//
//   - channel: in-process Go channels for tests and single-binary setups
//   - relay: newline-delimited JSON over TCP through `protobus relay`
//   - nats: NATS subjects with native request/reply
//   - kafka: one topic per client name, correlated replies
//   - rabbitmq: one durable queue per client name
//   - aws: SNS topics fanned into SQS queues
//
// # Handlers
//
// Func0 to Func3 adapt ordinary functions whose parameters are bound from the
// positional and keyword arguments of the call. Typed and Proto bind a single
// JSON or protojson payload. Async handlers return a channel that yields one
// Outcome. A handler error or panic is sent back to the caller as a Failure;
// it never stops the client.
//
// # Calls
//
// Call, Send and Request address a target client by name. A Request that gets
// no reply within the configured timeout fails with ErrTimeout, which also
// covers targets that do not exist and events nobody handles.
//
// # Middleware
//
// The inbound router runs correlation ID injection, debug message logging,
// OpenTelemetry tracing, Prometheus router metrics and panic recovery.
// Dependencies.Middlewares appends custom middleware and DispatchHooks observe
// every handler invocation.
package protobus
