package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsRequestReply indicates the transport offers a native request
	// primitive with a private reply inbox. When false, replies are matched
	// by correlation id on the caller's own channel.
	SupportsRequestReply bool

	// SupportsQueueGroups indicates that several clients subscribing under the
	// same name compete for messages instead of each receiving a copy.
	SupportsQueueGroups bool

	// SupportsOrdering indicates the transport guarantees message ordering.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates metadata headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// ReconnectsNatively indicates the underlying client library restores
	// lost connections on its own.
	ReconnectsNatively bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// RequiresCorrelation returns true if replies must be matched by correlation
// id because the transport has no native request/reply.
func (c Capabilities) RequiresCorrelation() bool {
	return !c.SupportsRequestReply
}

// RequiresConnectRetry returns true if the bus client has to retry the
// initial connection itself.
func (c Capabilities) RequiresConnectRetry() bool {
	return !c.ReconnectsNatively
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsOrdering:   true,
		SupportsTracing:    true,
		SupportsAck:        true,
		SupportsNack:       true,
		ReconnectsNatively: true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                "kafka",
		SupportsQueueGroups: true,
		SupportsOrdering:    true,
		SupportsTracing:     true,
		SupportsAck:         true,
		ReconnectsNatively:  true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsQueueGroups: true,
		SupportsOrdering:    true,
		SupportsTracing:     true,
		SupportsAck:         true,
		SupportsNack:        true,
		ReconnectsNatively:  true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:                 "nats",
		SupportsRequestReply: true,
		SupportsQueueGroups:  true,
		SupportsTracing:      true,
		ReconnectsNatively:   true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                "aws",
		SupportsQueueGroups: true,
		SupportsTracing:     true,
		SupportsAck:         true,
		SupportsNack:        true,
		ReconnectsNatively:  true,
		MaxMessageSize:      262144, // 256KB
	}

	// RelayCapabilities for the raw TCP relay transport.
	RelayCapabilities = Capabilities{
		Name:             "relay",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
