package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protobus/internal/runtime/config"
	bustransport "github.com/drblury/protobus/transport"
)

func TestDefaultFactoryBuildsChannel(t *testing.T) {
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{Name: "svc", PubSubSystem: "channel"}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Publisher.Close()

	assert.NotNil(t, tr.Subscriber)
	assert.Nil(t, tr.Requester)
}

func TestDefaultFactoryRegistersBuiltins(t *testing.T) {
	for _, name := range []string{"aws", "channel", "kafka", "nats", "rabbitmq", "relay"} {
		assert.True(t, bustransport.DefaultRegistry.Has(name), name)
	}
}

func TestFactoryNilConfig(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), nil, watermill.NopLogger{})
	assert.ErrorContains(t, err, "config is required")
}

func TestFactoryUnknownTransport(t *testing.T) {
	_, err := DefaultFactory().Build(context.Background(), &config.Config{Name: "svc", PubSubSystem: "carrier-pigeon"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestRegistryFactoryRejectsIncompleteTransport(t *testing.T) {
	reg := bustransport.NewRegistry()
	reg.Register("half", func(context.Context, bustransport.Config, watermill.LoggerAdapter) (bustransport.Transport, error) {
		return bustransport.Transport{Publisher: gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})}, nil
	})

	_, err := RegistryFactory(reg).Build(context.Background(), &config.Config{Name: "svc", PubSubSystem: "half"}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "no publisher or subscriber")
}

func TestRegistryFactoryCapabilities(t *testing.T) {
	reg := bustransport.NewRegistry()
	custom := bustransport.Capabilities{Name: "custom", SupportsRequestReply: true}
	reg.RegisterWithCapabilities("custom", nil, custom)

	f := RegistryFactory(reg)
	assert.Equal(t, custom, f.Capabilities("custom"))
	assert.Equal(t, bustransport.RelayCapabilities, f.Capabilities("relay"))
}
