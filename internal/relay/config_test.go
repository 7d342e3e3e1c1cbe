package relay

import (
	"time"

	"github.com/drblury/protobus/transport"
)

type staticConfig struct {
	transport.StaticConfig
	addr    string
	name    string
	retries int
	delay   time.Duration
}

func (c *staticConfig) GetRelayAddress() string             { return c.addr }
func (c *staticConfig) GetClientName() string               { return c.name }
func (c *staticConfig) GetConnectRetries() int              { return c.retries }
func (c *staticConfig) GetConnectRetryDelay() time.Duration { return c.delay }
