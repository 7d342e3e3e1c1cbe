// Package transport defines the core interfaces and types for protobus transports.
// Each transport implementation (kafka, rabbitmq, aws, nats, relay, etc.) lives
// in its own sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrNoReply is returned by a Requester when the request expired, nobody is
// subscribed to the target, or the reply was lost.
var ErrNoReply = errors.New("transport: no reply")

// Transport combines a publisher and subscriber pair produced by a factory,
// plus the optional extensions a backend may offer.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Requester is set by transports with a native request/reply primitive.
	Requester Requester
	// Identity is set by transports that negotiate the client name with a peer.
	Identity Identity
	// Connector is set by transports that need an explicit connect step.
	Connector Connector
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string
	// GetClientName returns the logical channel name of the client.
	GetClientName() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// Relay
	GetRelayAddress() string
	GetConnectRetries() int
	GetConnectRetryDelay() time.Duration

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Requester is implemented by transports that can send a message and wait for
// the single reply natively. Implementations return ErrNoReply when no reply
// arrived before ctx expired.
type Requester interface {
	Request(ctx context.Context, target string, msg *message.Message) (*message.Message, error)
}

// Identity reports the name a transport was admitted under. It can differ from
// the configured name when the peer renamed the client on a collision.
type Identity interface {
	EffectiveName() string
}

// Connector is implemented by transports that connect explicitly instead of
// on first use.
type Connector interface {
	Connect(ctx context.Context) error
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
