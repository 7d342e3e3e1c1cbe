package envelope

// Metadata keys stamped on every bus message. They duplicate a few envelope
// fields so brokers and log pipelines can route or filter without decoding
// the body.
const (
	// MetadataKeyCorrelationID links a response to the request that caused it.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyKind is "event" or "response".
	MetadataKeyKind = "protobus_kind"

	// MetadataKeyEvent is the event name of an event envelope.
	MetadataKeyEvent = "protobus_event"

	// MetadataKeySender is the channel name of the sending client.
	MetadataKeySender = "protobus_sender"

	// MetadataKeyReplyTo carries a transport-native reply address (for example
	// a NATS inbox). When present, responses go there instead of to the sender.
	MetadataKeyReplyTo = "protobus_reply_to"
)
