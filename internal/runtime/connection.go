package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/protobus/internal/runtime/config"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	transportpkg "github.com/drblury/protobus/internal/runtime/transport"
	"github.com/drblury/protobus/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// State is the lifecycle position of a connection. It only moves forward.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnectionManager owns the transport of one client: it builds and connects
// it, subscribes the inbound topic through a Watermill router and tears it
// down again.
type ConnectionManager struct {
	conf        *configpkg.Config
	factory     transportpkg.Factory
	logger      loggingpkg.ServiceLogger
	wmLogger    watermill.LoggerAdapter
	middlewares []MiddlewareRegistration
	metrics     *BusMetrics

	state atomic.Int32

	mu         sync.Mutex
	transport  transport.Transport
	built      bool
	connected  bool
	router     *message.Router
	routerDone chan error
}

// NewConnectionManager prepares a manager. Nothing is dialled until Connect.
func NewConnectionManager(conf *configpkg.Config, factory transportpkg.Factory, logger loggingpkg.ServiceLogger, metrics *BusMetrics, middlewares []MiddlewareRegistration) *ConnectionManager {
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	return &ConnectionManager{
		conf:        conf,
		factory:     factory,
		logger:      logger,
		wmLogger:    loggingpkg.NewWatermillAdapter(logger),
		middlewares: middlewares,
		metrics:     metrics,
	}
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	return State(m.state.Load())
}

func (m *ConnectionManager) advance(to State) {
	for {
		cur := m.state.Load()
		if cur >= int32(to) {
			return
		}
		if m.state.CompareAndSwap(cur, int32(to)) {
			m.logger.Debug("Connection state changed", loggingpkg.LogFields{"from": State(cur).String(), "to": to.String()})
			return
		}
	}
}

// Name is the effective channel name: the one the transport was admitted
// under, or the configured name.
func (m *ConnectionManager) Name() string {
	m.mu.Lock()
	identity := m.transport.Identity
	m.mu.Unlock()
	if identity != nil {
		if name := identity.EffectiveName(); name != "" {
			return name
		}
	}
	return m.conf.Name
}

// Capabilities describes the configured transport.
func (m *ConnectionManager) Capabilities() transport.Capabilities {
	return m.factory.Capabilities(m.conf.PubSubSystem)
}

// Connect builds the transport and performs its explicit connect step when it
// has one. Broker clients connect while being built and reconnect on their
// own; the relay client retries with a fixed delay inside Connect.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *ConnectionManager) connectLocked(ctx context.Context) error {
	if m.connected {
		return nil
	}
	if m.State() >= StateDraining {
		return errspkg.ErrClientClosed
	}
	m.advance(StateConnecting)

	if !m.built {
		t, err := m.factory.Build(ctx, m.conf, m.wmLogger)
		if err != nil {
			return &errspkg.TransportError{Op: "connect", Target: m.conf.PubSubSystem, Err: err}
		}
		m.transport = t
		m.built = true
	}

	if m.transport.Connector != nil {
		if err := m.transport.Connector.Connect(ctx); err != nil {
			return &errspkg.TransportError{Op: "connect", Target: m.conf.PubSubSystem, Err: err}
		}
	}

	m.connected = true
	m.logger.Info("Connected to bus", loggingpkg.LogFields{
		"pubsub_system": m.conf.PubSubSystem,
		"name":          m.nameLocked(),
		"native_reply":  m.transport.Requester != nil,
	})
	return nil
}

func (m *ConnectionManager) nameLocked() string {
	if m.transport.Identity != nil {
		if name := m.transport.Identity.EffectiveName(); name != "" {
			return name
		}
	}
	return m.conf.Name
}

// Subscribe connects if needed and starts the router that feeds handler with
// every message on the client's inbound topic. It returns once the router is
// running.
func (m *ConnectionManager) Subscribe(ctx context.Context, handler message.NoPublishHandlerFunc) error {
	m.mu.Lock()
	if err := m.connectLocked(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.router != nil {
		m.mu.Unlock()
		return errspkg.ErrAlreadyStarted
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: m.conf.CloseTimeout}, m.wmLogger)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, reg := range m.middlewares {
		if err := m.registerMiddleware(router, reg); err != nil {
			m.mu.Unlock()
			return err
		}
	}

	topic := m.nameLocked()
	router.AddNoPublisherHandler(topic+"-inbound", topic, m.transport.Subscriber, handler)
	m.router = router
	m.advance(StateSubscribed)

	done := make(chan error, 1)
	m.routerDone = done
	m.mu.Unlock()

	go func() {
		done <- routerRun(router, context.WithoutCancel(ctx))
	}()

	select {
	case <-router.Running():
	case err := <-done:
		done <- err
		if err == nil {
			err = errors.New("router stopped before running")
		}
		return &errspkg.TransportError{Op: "subscribe", Target: topic, Err: err}
	case <-ctx.Done():
		return ctx.Err()
	}

	m.advance(StateActive)
	m.logger.Info("Listening for events", loggingpkg.LogFields{"topic": topic})
	return nil
}

// Publish sends msg to topic, connecting first when the client has not been
// started yet.
func (m *ConnectionManager) Publish(ctx context.Context, topic string, msg *message.Message) error {
	m.mu.Lock()
	if err := m.connectLocked(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	publisher := m.transport.Publisher
	m.mu.Unlock()

	return publisher.Publish(topic, msg)
}

// Requester returns the native request primitive of the transport, if any.
// A transport that offers one but is not built yet is connected with ctx.
func (m *ConnectionManager) Requester(ctx context.Context) transport.Requester {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.built {
		return m.transport.Requester
	}
	if m.Capabilities().SupportsRequestReply {
		if err := m.connectLocked(ctx); err == nil {
			return m.transport.Requester
		}
	}
	return nil
}

// StopConsuming closes the router so no new message reaches the handler.
// Messages already handed to the handler are unaffected.
func (m *ConnectionManager) StopConsuming() error {
	m.advance(StateDraining)

	m.mu.Lock()
	router := m.router
	done := m.routerDone
	m.mu.Unlock()

	if router == nil {
		return nil
	}
	if err := router.Close(); err != nil {
		return err
	}
	if done != nil {
		if err := <-done; err != nil {
			m.logger.Error("Router stopped with error", err, nil)
		}
	}
	return nil
}

// Close releases the transport. The state becomes Closed even on error.
// Transports sharing one value for both roles tolerate the second Close.
func (m *ConnectionManager) Close() error {
	m.advance(StateClosed)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.built {
		return nil
	}

	var errs []error
	if m.transport.Subscriber != nil {
		errs = append(errs, m.transport.Subscriber.Close())
	}
	if m.transport.Publisher != nil {
		errs = append(errs, m.transport.Publisher.Close())
	}
	m.connected = false
	return errors.Join(errs...)
}
