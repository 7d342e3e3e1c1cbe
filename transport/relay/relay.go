// Package relay provides the raw-connection transport for protobus: every
// client keeps one TCP connection to a relay server, announces its name, and
// the relay forwards newline-delimited frames by destination name.
//
// The relay has no queue groups and no native request/reply. A client that
// loses its connection reconnects lazily, at most once per send.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/protobus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "relay"

// MetadataKeyFrom carries the sender name stamped by the relay.
const MetadataKeyFrom = "relay_from"

// HandshakeTimeout bounds the wait for the relay's name acknowledgement.
var HandshakeTimeout = 5 * time.Second

// Dialer allows overriding how connections are opened for testing.
var Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("relay: client closed")

func init() {
	Register()
}

// Register registers the relay transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RelayCapabilities)
}

// Build creates a relay client. The connection is opened by Connect or by the
// first Publish or Subscribe.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRelayAddress()
	if addr == "" {
		return transport.Transport{}, errors.New("relay: address is required")
	}
	if cfg.GetClientName() == "" {
		return transport.Transport{}, errors.New("relay: client name is required")
	}

	c := NewClient(addr, cfg.GetClientName(), logger)
	c.retries = cfg.GetConnectRetries()
	c.delay = cfg.GetConnectRetryDelay()

	return transport.Transport{
		Publisher:  c,
		Subscriber: c,
		Identity:   c,
		Connector:  c,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RelayCapabilities
}

// Client is one connection to a relay server.
type Client struct {
	addr    string
	name    string
	retries int
	delay   time.Duration
	logger  watermill.LoggerAdapter

	mu        sync.Mutex
	conn      net.Conn
	writer    *bufio.Writer
	effective string

	inbound   chan *message.Message
	closing   chan struct{}
	closeOnce sync.Once
	readers   sync.WaitGroup
}

// NewClient creates a client that will announce itself as name. Names are
// case-insensitive and normalised to lower case.
func NewClient(addr, name string, logger watermill.LoggerAdapter) *Client {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Client{
		addr:    addr,
		name:    strings.ToLower(name),
		delay:   time.Second,
		logger:  logger.With(watermill.LogFields{"relay": addr}),
		inbound: make(chan *message.Message),
		closing: make(chan struct{}),
	}
}

// EffectiveName returns the name the relay admitted this client under. Before
// the first handshake it is the requested name.
func (c *Client) EffectiveName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.effective == "" {
		return c.name
	}
	return c.effective
}

// Connected reports whether a relay connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect opens the connection, retrying with a fixed delay.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Info("Retrying relay connection", watermill.LogFields{"attempt": attempt, "delay": c.delay.String()})
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.closing:
				return ErrClosed
			}
		}
		if lastErr = c.ensureConnected(ctx); lastErr == nil {
			return nil
		}
		c.logger.Error("Cannot connect to relay", lastErr, nil)
	}
	return lastErr
}

// Publish sends each message to the client named topic.
func (c *Client) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		frame := &Frame{
			To:       Targets{strings.ToLower(topic)},
			UUID:     msg.UUID,
			Metadata: map[string]string(msg.Metadata),
			Payload:  json.RawMessage(msg.Payload),
		}
		if err := c.send(msg.Context(), frame); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe returns the frames addressed to this client. The relay routes by
// connection, so topic is expected to be the client's own name.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if !strings.EqualFold(topic, c.name) && !strings.EqualFold(topic, c.EffectiveName()) {
		c.logger.Info("Relay delivers by connection name, topic ignored", watermill.LogFields{"topic": topic})
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-c.inbound:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-c.closing:
					return
				}
			case <-ctx.Done():
				return
			case <-c.closing:
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
			c.writer = nil
		}
		c.mu.Unlock()
		c.readers.Wait()
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// send writes f, connecting first when needed. A failed write triggers a
// single reconnect and one more write.
func (c *Client) send(ctx context.Context, f *Frame) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	err := c.write(f)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}

	c.logger.Info("Relay write failed, reconnecting once", watermill.LogFields{"error": err.Error()})
	if err := c.ensureConnected(ctx); err != nil {
		return fmt.Errorf("relay: server offline: %w", err)
	}
	return c.write(f)
}

func (c *Client) write(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.conn == nil {
		return errors.New("relay: not connected")
	}
	if err := WriteFrame(c.writer, f); err != nil {
		c.dropLocked(c.conn)
		return err
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	conn, err := Dialer(ctx, c.addr)
	if err != nil {
		return fmt.Errorf("relay: dial %s: %w", c.addr, err)
	}
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	effective, err := handshake(conn, reader, writer, c.name)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if effective != c.name {
		c.logger.Info("Relay renamed client on collision", watermill.LogFields{"requested": c.name, "effective": effective})
	}

	c.conn = conn
	c.writer = writer
	c.effective = effective

	c.readers.Add(1)
	go c.readLoop(conn, reader)
	return nil
}

func handshake(conn net.Conn, r *bufio.Reader, w *bufio.Writer, name string) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return "", err
	}
	defer conn.SetDeadline(time.Time{})

	if err := WriteFrame(w, &Frame{Name: name}); err != nil {
		return "", fmt.Errorf("relay: send handshake: %w", err)
	}
	ack, err := ReadFrame(r)
	if err != nil {
		return "", fmt.Errorf("relay: read handshake: %w", err)
	}
	if !ack.IsHandshake() || ack.Name == "" {
		return "", errors.New("relay: unexpected handshake reply")
	}
	return ack.Name, nil
}

func (c *Client) readLoop(conn net.Conn, r *bufio.Reader) {
	defer c.readers.Done()
	for {
		f, err := ReadFrame(r)
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Error("Dropping invalid relay frame", err, nil)
				continue
			}
			if !c.isClosed() {
				c.logger.Info("Relay connection closed", watermill.LogFields{"error": err.Error()})
			}
			c.mu.Lock()
			c.dropLocked(conn)
			c.mu.Unlock()
			return
		}
		if f.IsHandshake() {
			continue
		}
		if !c.deliver(f) {
			return
		}
	}
}

func (c *Client) deliver(f *Frame) bool {
	msg := message.NewMessage(f.UUID, []byte(f.Payload))
	for k, v := range f.Metadata {
		msg.Metadata.Set(k, v)
	}
	if f.From != "" {
		msg.Metadata.Set(MetadataKeyFrom, f.From)
	}

	select {
	case c.inbound <- msg:
	case <-c.closing:
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
	case <-c.closing:
		return false
	}
	return true
}

func (c *Client) dropLocked(conn net.Conn) {
	if c.conn != conn || conn == nil {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.writer = nil
}
