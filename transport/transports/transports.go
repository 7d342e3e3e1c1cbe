// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/protobus/transport/aws"
	_ "github.com/drblury/protobus/transport/channel"
	_ "github.com/drblury/protobus/transport/kafka"
	_ "github.com/drblury/protobus/transport/nats"
	_ "github.com/drblury/protobus/transport/rabbitmq"
	_ "github.com/drblury/protobus/transport/relay"
)
