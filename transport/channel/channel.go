// Package channel provides an in-memory Go channel transport for protobus.
// This transport is useful for testing and for wiring several clients inside
// one process.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/protobus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// Bus is one in-memory broker shared by every client built through its
// Factory. Clients closing their transport do not close the bus.
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus creates a shared in-memory broker.
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{pubSub: gochannel.NewGoChannel(gochannel.Config{}, logger)}
}

// Factory returns a function suitable for the package Factory variable.
func (b *Bus) Factory() func(gochannel.Config, watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	return func(gochannel.Config, watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		view := sharedView{bus: b.pubSub}
		return view, view
	}
}

// Close shuts the broker down for every client.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

// sharedView forwards to the bus but keeps Close local. Subscriptions end when
// the subscriber's context is cancelled.
type sharedView struct {
	bus *gochannel.GoChannel
}

func (v sharedView) Publish(topic string, messages ...*message.Message) error {
	return v.bus.Publish(topic, messages...)
}

func (v sharedView) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return v.bus.Subscribe(ctx, topic)
}

func (v sharedView) Close() error { return nil }
