package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	configpkg "github.com/drblury/protobus/internal/runtime/config"
	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	idspkg "github.com/drblury/protobus/internal/runtime/ids"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	transportpkg "github.com/drblury/protobus/internal/runtime/transport"
	"github.com/drblury/protobus/transport"
	"github.com/drblury/protobus/transport/channel"
)

func newTestBus(t *testing.T) *channel.Bus {
	t.Helper()
	bus := channel.NewBus(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// busFactory builds clients on bus. With native set, the transport also
// offers an inbox based Requester like NATS does.
func busFactory(bus *channel.Bus, native bool) transportpkg.Factory {
	reg := transport.NewRegistry()
	caps := transport.ChannelCapabilities
	if native {
		caps.SupportsRequestReply = true
	}
	reg.RegisterWithCapabilities("channel", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		pub, sub := bus.Factory()(gochannel.Config{}, logger)
		tr := transport.Transport{Publisher: pub, Subscriber: sub}
		if native {
			tr.Requester = inboxRequester{pub: pub, sub: sub}
		}
		return tr, nil
	}, caps)
	return transportpkg.RegistryFactory(reg)
}

type inboxRequester struct {
	pub message.Publisher
	sub message.Subscriber
}

func (r inboxRequester) Request(ctx context.Context, target string, msg *message.Message) (*message.Message, error) {
	inbox := "_inbox." + idspkg.CreateULID()
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies, err := r.sub.Subscribe(subCtx, inbox)
	if err != nil {
		return nil, err
	}

	msg.Metadata.Set(envelopepkg.MetadataKeyReplyTo, inbox)
	if err := r.pub.Publish(target, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		reply.Ack()
		return reply, nil
	case <-ctx.Done():
		return nil, transport.ErrNoReply
	}
}

type clientOption func(*configpkg.Config, *Dependencies)

func withNative(bus *channel.Bus) clientOption {
	return func(_ *configpkg.Config, d *Dependencies) { d.TransportFactory = busFactory(bus, true) }
}

func withTimeout(timeout time.Duration) clientOption {
	return func(c *configpkg.Config, _ *Dependencies) { c.RequestTimeout = timeout }
}

func withDeps(fn func(*Dependencies)) clientOption {
	return func(_ *configpkg.Config, d *Dependencies) { fn(d) }
}

func newTestClient(t *testing.T, bus *channel.Bus, name string, log loggingpkg.ServiceLogger, opts ...clientOption) *Client {
	t.Helper()
	conf := &configpkg.Config{Name: name, PubSubSystem: "channel", RequestTimeout: 2 * time.Second}
	deps := Dependencies{TransportFactory: busFactory(bus, false)}
	for _, opt := range opts {
		opt(conf, &deps)
	}
	if log == nil {
		log = loggingpkg.NewNopServiceLogger()
	}

	client, err := NewClient(conf, log, deps)
	if err != nil {
		t.Fatalf("NewClient(%s): %v", name, err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func startClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start(%s): %v", c.Name(), err)
	}
}

type loggedEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]loggedEntry
	fields  loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]loggedEntry{}}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, loggedEntry{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}

// errors returns the logged errors whose message is msg.
func (r *recordingLogger) errors(msg string) []loggedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []loggedEntry
	for _, e := range *r.entries {
		if e.level == "error" && e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
