package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	idspkg "github.com/drblury/protobus/internal/runtime/ids"
	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
	"github.com/drblury/protobus/transport"
)

// Failure is the failure-shaped result of a remote handler error.
type Failure = envelopepkg.Failure

// Result is the reply to a call. Exactly one of Value and Failure is meaningful.
type Result struct {
	Value   jsoncodec.RawMessage
	Failure *Failure
}

// Failed reports whether the remote handler returned an error.
func (r *Result) Failed() bool {
	return r != nil && r.Failure != nil
}

// Decode unmarshals the result value into dst. A failed result is returned as
// the *Failure error.
func (r *Result) Decode(dst any) error {
	if r == nil {
		return errors.New("result is nil")
	}
	if r.Failure != nil {
		return r.Failure
	}
	if len(r.Value) == 0 {
		return nil
	}
	return jsoncodec.Unmarshal(r.Value, dst)
}

// DecodeProto unmarshals a protojson result value into dst.
func (r *Result) DecodeProto(dst proto.Message) error {
	if r == nil {
		return errors.New("result is nil")
	}
	if r.Failure != nil {
		return r.Failure
	}
	if dst == nil {
		return errspkg.ErrProtoTypeRequired
	}
	if len(r.Value) == 0 {
		return nil
	}
	return protojson.Unmarshal(r.Value, dst)
}

// CallOption customises a single outbound call.
type CallOption func(*callOptions)

type callOptions struct {
	args       []jsoncodec.RawMessage
	kwargs     map[string]jsoncodec.RawMessage
	payload    jsoncodec.RawMessage
	wantsReply bool
	timeout    time.Duration
	metadata   metadatapkg.Metadata
	err        error
}

func (o *callOptions) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

// WithArgs sets the positional arguments.
func WithArgs(args ...any) CallOption {
	return func(o *callOptions) {
		for _, arg := range args {
			raw, err := jsoncodec.MarshalRaw(arg)
			if err != nil {
				o.fail(err)
				return
			}
			o.args = append(o.args, raw)
		}
	}
}

// WithKwargs sets the keyword arguments.
func WithKwargs(kwargs map[string]any) CallOption {
	return func(o *callOptions) {
		if o.kwargs == nil {
			o.kwargs = make(map[string]jsoncodec.RawMessage, len(kwargs))
		}
		for k, v := range kwargs {
			raw, err := jsoncodec.MarshalRaw(v)
			if err != nil {
				o.fail(err)
				return
			}
			o.kwargs[k] = raw
		}
	}
}

// WithPayload sends v as the single typed blob of the event.
func WithPayload(v any) CallOption {
	return func(o *callOptions) {
		raw, err := jsoncodec.MarshalRaw(v)
		if err != nil {
			o.fail(err)
			return
		}
		o.payload = raw
	}
}

// WithProtoPayload sends msg as the typed blob, encoded with protojson.
func WithProtoPayload(msg proto.Message) CallOption {
	return func(o *callOptions) {
		if msg == nil {
			o.fail(errspkg.ErrEventPayloadRequired)
			return
		}
		data, err := protojson.Marshal(msg)
		if err != nil {
			o.fail(err)
			return
		}
		o.payload = data
	}
}

// WithReply asks the target to reply and waits for it.
func WithReply() CallOption {
	return func(o *callOptions) { o.wantsReply = true }
}

// WithTimeout overrides the configured request timeout for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMetadata adds transport metadata to the outgoing message.
func WithMetadata(md metadatapkg.Metadata) CallOption {
	return func(o *callOptions) { o.metadata = o.metadata.Merge(md) }
}

// PendingRequest is a call waiting for its correlated reply.
type PendingRequest struct {
	CorrelationID string
	Target        string
	Event         string
	Deadline      time.Time

	slot chan *envelopepkg.Envelope
}

type publishFunc func(ctx context.Context, topic string, msg *message.Message) error

// RequestClient builds outbound envelopes and waits for replies, either via
// the transport's native request primitive or by correlation id.
type RequestClient struct {
	sender    func() string
	publish   publishFunc
	requester func(context.Context) transport.Requester
	timeout   time.Duration
	logger    loggingpkg.ServiceLogger
	metrics   *BusMetrics
	tracer    trace.Tracer

	mu      sync.Mutex
	pending map[string]*PendingRequest
	closed  bool
}

func newRequestClient(sender func() string, publish publishFunc, requester func(context.Context) transport.Requester, timeout time.Duration, logger loggingpkg.ServiceLogger, metrics *BusMetrics) *RequestClient {
	return &RequestClient{
		sender:    sender,
		publish:   publish,
		requester: requester,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		tracer:    busTracer(),
		pending:   make(map[string]*PendingRequest),
	}
}

// Call sends event to target. Without WithReply it returns nil, nil once the
// transport accepted the message. With WithReply it returns the reply, or
// ErrTimeout when none arrived in time.
func (c *RequestClient) Call(ctx context.Context, target, event string, opts ...CallOption) (*Result, error) {
	if target == "" {
		return nil, errspkg.ErrTargetRequired
	}
	if event == "" {
		return nil, errspkg.ErrEventNameRequired
	}

	o := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}

	env := envelopepkg.NewEvent(c.sender(), event)
	env.Args = o.args
	env.Kwargs = o.kwargs
	env.Payload = o.payload
	env.WantsReply = o.wantsReply

	ctx, span := c.tracer.Start(ctx, "protobus.call "+event,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("protobus.target", target),
			attribute.String("protobus.event", event),
			attribute.Bool("protobus.wants_reply", o.wantsReply),
		))
	defer span.End()

	var (
		result *Result
		err    error
		mode   string
	)
	var requester transport.Requester
	if o.wantsReply {
		requester = c.requester(ctx)
	}
	switch {
	case !o.wantsReply:
		mode = callModeSend
		err = c.send(ctx, target, env, o.metadata)
	case requester != nil:
		mode = callModeNative
		result, err = c.request(ctx, requester, target, env, o)
	default:
		mode = callModeManual
		result, err = c.await(ctx, target, env, o)
	}

	c.metrics.recordCall(target, mode, callOutcome(result, err))
	if err != nil && !errors.Is(err, errspkg.ErrTimeout) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *RequestClient) send(ctx context.Context, target string, env *envelopepkg.Envelope, md metadatapkg.Metadata) error {
	msg, err := envelopepkg.ToMessage(env, md)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := c.publish(ctx, target, msg); err != nil {
		return &errspkg.TransportError{Op: "publish", Target: target, Err: err}
	}
	return nil
}

func (c *RequestClient) request(ctx context.Context, requester transport.Requester, target string, env *envelopepkg.Envelope, o callOptions) (*Result, error) {
	msg, err := envelopepkg.ToMessage(env, o.metadata)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	msg.SetContext(ctx)

	reply, err := requester.Request(ctx, target, msg)
	switch {
	case err == nil:
		return decodeReply(reply.Payload), nil
	case errors.Is(err, transport.ErrNoReply), errors.Is(err, context.DeadlineExceeded):
		if cerr := ctx.Err(); errors.Is(cerr, context.Canceled) {
			return nil, cerr
		}
		c.logger.Debug("No reply before timeout", loggingpkg.LogFields{"target": target, "event": env.Name, "timeout": o.timeout})
		return nil, errspkg.ErrTimeout
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, &errspkg.TransportError{Op: "request", Target: target, Err: err}
	}
}

func (c *RequestClient) await(ctx context.Context, target string, env *envelopepkg.Envelope, o callOptions) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	p := &PendingRequest{
		CorrelationID: idspkg.NewCorrelationID(),
		Target:        target,
		Event:         env.Name,
		Deadline:      time.Now().Add(o.timeout),
		slot:          make(chan *envelopepkg.Envelope, 1),
	}
	if err := c.track(p); err != nil {
		return nil, err
	}
	defer c.forget(p.CorrelationID)

	env.CorrelationID = p.CorrelationID
	if err := c.send(ctx, target, env, o.metadata); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-p.slot:
		if !ok {
			return nil, errspkg.ErrClientClosed
		}
		return &Result{Value: resp.Result, Failure: resp.Failure}, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		c.logger.Debug("No reply before timeout", loggingpkg.LogFields{
			"target":         target,
			"event":          env.Name,
			"correlation_id": p.CorrelationID,
			"timeout":        o.timeout,
		})
		return nil, errspkg.ErrTimeout
	}
}

func (c *RequestClient) track(p *PendingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errspkg.ErrClientClosed
	}
	c.pending[p.CorrelationID] = p
	c.metrics.setPending(len(c.pending))
	return nil
}

func (c *RequestClient) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	c.metrics.setPending(len(c.pending))
}

// Resolve hands a response envelope to the call waiting on its correlation
// id. The first response wins; later or unknown responses are dropped and
// Resolve reports false.
func (c *RequestClient) Resolve(resp *envelopepkg.Envelope) bool {
	if resp == nil {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[resp.CorrelationID]
	if ok {
		delete(c.pending, resp.CorrelationID)
		c.metrics.setPending(len(c.pending))
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response without pending request", loggingpkg.LogFields{
			"sender":         resp.Sender,
			"event":          resp.Name,
			"correlation_id": resp.CorrelationID,
		})
		return false
	}

	p.slot <- resp
	return true
}

// Pending returns the number of calls waiting for a reply.
func (c *RequestClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// cancelAll wakes every waiting call with ErrClientClosed and refuses new ones.
func (c *RequestClient) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, p := range c.pending {
		close(p.slot)
		delete(c.pending, id)
	}
	c.metrics.setPending(0)
}

// decodeReply unwraps a native reply. A response envelope yields its result or
// failure; any other body is the value itself.
func decodeReply(body []byte) *Result {
	if resp, err := envelopepkg.Decode(body); err == nil && resp.Kind == envelopepkg.KindResponse {
		return &Result{Value: resp.Result, Failure: resp.Failure}
	}
	return &Result{Value: jsoncodec.RawMessage(body)}
}

func callOutcome(result *Result, err error) string {
	switch {
	case errors.Is(err, errspkg.ErrTimeout):
		return outcomeTimeout
	case err != nil:
		return outcomeError
	case result.Failed():
		return outcomeFailure
	default:
		return outcomeOK
	}
}
