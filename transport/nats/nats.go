// Package nats provides a NATS Core transport for protobus.
//
// Inbound subscriptions are queue subscriptions whose group equals the
// subject, so replicas sharing a client name compete for calls. Requests use
// the native request/reply primitive with a private inbox per call; the inbox
// of an inbound request is exposed to the bus client as message metadata.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/protobus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// MetadataKeyReplyTo carries the reply inbox of an inbound request.
const MetadataKeyReplyTo = "protobus_reply_to"

// Conn is the subset of *nats.Conn used by the transport.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	Drain() error
}

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(url string, opts ...nats.Option) (Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build connects to NATS and returns a transport with native request/reply.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	conn, err := ConnectionFactory(url, connectionOptions(cfg.GetClientName(), logger)...)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("nats: connect %s: %w", url, err)
	}

	t := New(conn, logger)
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
		Requester:  t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func connectionOptions(name string, logger watermill.LoggerAdapter) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS connection lost", err, nil)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS connection restored", watermill.LogFields{"url": c.ConnectedUrlRedacted()})
		}),
	}
}

// Transport publishes, subscribes and requests over one NATS connection.
type Transport struct {
	conn      Conn
	logger    watermill.LoggerAdapter
	marshaler wmnats.NATSMarshaler

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New wraps an established connection.
func New(conn Conn, logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		conn:    conn,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Publish sends each message to the subject topic.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return errors.New("nats: transport closed")
	}
	for _, msg := range messages {
		natsMsg, err := t.marshaler.Marshal(topic, msg)
		if err != nil {
			return err
		}
		if err := t.conn.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("nats: publish %q: %w", topic, err)
		}
	}
	return nil
}

// Request sends msg to target and waits for the single reply.
func (t *Transport) Request(ctx context.Context, target string, msg *message.Message) (*message.Message, error) {
	natsMsg, err := t.marshaler.Marshal(target, msg)
	if err != nil {
		return nil, err
	}

	reply, err := t.conn.RequestMsgWithContext(ctx, natsMsg)
	switch {
	case err == nil:
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, nats.ErrNoResponders), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %v", transport.ErrNoReply, err)
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, fmt.Errorf("nats: request %q: %w", target, err)
	}

	return t.marshaler.Unmarshal(reply)
}

// Subscribe joins the queue group named after topic. The returned channel is
// closed when ctx is done or the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, errors.New("nats: transport closed")
	}

	s := &subscription{
		out:     make(chan *message.Message),
		ctx:     ctx,
		closing: t.closing,
		logger:  t.logger.With(watermill.LogFields{"topic": topic}),
		decode:  t.marshaler.Unmarshal,
	}

	sub, err := t.conn.QueueSubscribe(topic, topic, s.handle)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %q: %w", topic, err)
	}

	go s.stopWhenDone(sub)
	return s.out, nil
}

// Close drains the connection. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		t.closeErr = t.conn.Drain()
	})
	return t.closeErr
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

type subscription struct {
	out     chan *message.Message
	ctx     context.Context
	closing chan struct{}
	logger  watermill.LoggerAdapter
	decode  func(*nats.Msg) (*message.Message, error)

	mu      sync.RWMutex
	stopped bool
}

func (s *subscription) handle(natsMsg *nats.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}

	msg, err := s.decode(natsMsg)
	if err != nil {
		s.logger.Error("Dropping undecodable NATS message", err, nil)
		return
	}
	if natsMsg.Reply != "" {
		msg.Metadata.Set(MetadataKeyReplyTo, natsMsg.Reply)
	}
	msg.SetContext(s.ctx)

	select {
	case s.out <- msg:
	case <-s.ctx.Done():
		return
	case <-s.closing:
		return
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Info("NATS core has no redelivery, nacked message dropped", watermill.LogFields{"uuid": msg.UUID})
	case <-s.ctx.Done():
	case <-s.closing:
	}
}

func (s *subscription) stopWhenDone(sub *nats.Subscription) {
	select {
	case <-s.ctx.Done():
	case <-s.closing:
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			s.logger.Error("Failed to unsubscribe", err, nil)
		}
	}

	s.mu.Lock()
	s.stopped = true
	close(s.out)
	s.mu.Unlock()
}
