package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/protobus/internal/runtime/config"
	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	handlerpkg "github.com/drblury/protobus/internal/runtime/handlers"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	transportpkg "github.com/drblury/protobus/internal/runtime/transport"
	"github.com/drblury/protobus/transport"
)

// Dependencies holds the optional collaborators a Client can use.
// Leave fields nil to get the defaults.
type Dependencies struct {
	TransportFactory          transportpkg.Factory
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips the default middleware chain when true.
	MetricsRegisterer         prometheus.Registerer    // Defaults to prometheus.DefaultRegisterer.
	Hooks                     DispatchHooks
}

// Client is one participant on the bus: it owns a handler registry, a
// connection, the dispatcher serving inbound events and the request client
// issuing outbound calls.
type Client struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry   *handlerpkg.Registry
	conn       *ConnectionManager
	requests   *RequestClient
	dispatcher *Dispatcher
	metrics    *BusMetrics

	mu            sync.Mutex
	metricsServer *http.Server
	closeOnce     sync.Once
	closeErr      error
}

// NewClient validates conf and wires a client. Nothing connects until Start
// or the first outbound call.
func NewClient(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Client, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log = loggingpkg.ForComponent(log, resolved.Name, "bus")
	log.Info("Creating bus client", loggingpkg.LogFields{
		"pubsub_system": resolved.PubSubSystem,
		"config":        resolved,
	})

	var middlewares []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		middlewares = append(middlewares, DefaultMiddlewares()...)
	}
	middlewares = append(middlewares, deps.Middlewares...)

	var metrics *BusMetrics
	if resolved.MetricsEnabled {
		metrics = NewBusMetrics(deps.MetricsRegisterer)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	c := &Client{
		Conf:     &resolved,
		Logger:   log,
		registry: handlerpkg.NewRegistry(),
		metrics:  metrics,
	}
	c.conn = NewConnectionManager(c.Conf, deps.TransportFactory, log, metrics, middlewares)
	c.requests = newRequestClient(c.conn.Name, c.conn.Publish, c.conn.Requester, resolved.RequestTimeout, log, metrics)
	c.dispatcher = newDispatcher(c.registry, c.requests, c.conn.Publish, c.conn.Name, log, metrics, deps.Hooks)
	return c, nil
}

// Register makes desc callable under name. A second registration under the
// same name replaces the first.
func (c *Client) Register(name string, desc *handlerpkg.Descriptor) error {
	if c == nil {
		return errspkg.ErrClientRequired
	}
	if err := c.registry.Register(name, desc); err != nil {
		return err
	}
	c.Logger.Debug("Registered handler", loggingpkg.LogFields{"event": name, "params": desc.Params.Names(), "async": desc.IsAsync})
	return nil
}

// Unregister removes the handler registered under name.
func (c *Client) Unregister(name string) bool {
	return c.registry.Unregister(name)
}

// Handlers lists the registered event names.
func (c *Client) Handlers() []string {
	return c.registry.Names()
}

// Call sends event to target. Pass WithReply to wait for the result.
//
// With the relay transport a Call before Start connects implicitly. Replies
// are only read once Start subscribed the inbound topic.
func (c *Client) Call(ctx context.Context, target, event string, opts ...CallOption) (*Result, error) {
	if c == nil {
		return nil, errspkg.ErrClientRequired
	}
	return c.requests.Call(ctx, target, event, opts...)
}

// Send is a fire-and-forget Call.
func (c *Client) Send(ctx context.Context, target, event string, opts ...CallOption) error {
	_, err := c.Call(ctx, target, event, append(opts[:len(opts):len(opts)], func(o *callOptions) { o.wantsReply = false })...)
	return err
}

// Request is a Call that waits for the reply. It returns ErrTimeout when none
// arrived in time.
func (c *Client) Request(ctx context.Context, target, event string, opts ...CallOption) (*Result, error) {
	return c.Call(ctx, target, event, append(opts[:len(opts):len(opts)], WithReply())...)
}

// Start connects, subscribes the inbound topic and returns once events are
// being dispatched.
func (c *Client) Start(ctx context.Context) error {
	if c == nil {
		return errspkg.ErrClientRequired
	}
	if err := c.conn.Subscribe(ctx, c.dispatcher.HandleMessage); err != nil {
		return err
	}
	c.startMetricsServer()
	return nil
}

// Close stops consuming, waits for in-flight handlers to reply, fails the
// calls still waiting and releases the transport. It is safe to call twice.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, c.Conf.CloseTimeout)
		defer cancel()

		var errs []error
		if err := c.conn.StopConsuming(); err != nil {
			errs = append(errs, fmt.Errorf("stop router: %w", err))
		}
		if err := c.dispatcher.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain handlers: %w", err))
		}
		c.requests.cancelAll()
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		if err := c.stopMetricsServer(ctx); err != nil {
			errs = append(errs, err)
		}

		c.closeErr = errors.Join(errs...)
		c.Logger.Info("Bus client closed", loggingpkg.LogFields{"name": c.Name()})
	})
	return c.closeErr
}

// State returns the connection lifecycle state.
func (c *Client) State() State {
	return c.conn.State()
}

// Name returns the effective channel name of the client.
func (c *Client) Name() string {
	return c.conn.Name()
}

// Capabilities describes the configured transport.
func (c *Client) Capabilities() transport.Capabilities {
	return c.conn.Capabilities()
}

// Pending returns the number of calls waiting for a correlated reply.
func (c *Client) Pending() int {
	return c.requests.Pending()
}

func (c *Client) startMetricsServer() {
	if c.metrics == nil || c.Conf.MetricsPort == 0 {
		return
	}

	handler := promhttp.Handler()
	if gatherer, ok := c.metrics.registerer.(prometheus.Gatherer); ok {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	addr := fmt.Sprintf(":%d", c.Conf.MetricsPort)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	c.mu.Lock()
	c.metricsServer = srv
	c.mu.Unlock()

	c.Logger.Info("Starting metrics server", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error("Failed to start metrics server", err, loggingpkg.LogFields{"address": addr})
		}
	}()
}

func (c *Client) stopMetricsServer(ctx context.Context) error {
	c.mu.Lock()
	srv := c.metricsServer
	c.metricsServer = nil
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
