package transport

import "time"

// StaticConfig is a plain Config implementation for tools and tests that do
// not load the full client configuration.
type StaticConfig struct {
	PubSubSystem       string
	ClientName         string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	RelayAddress       string
	ConnectRetries     int
	ConnectRetryDelay  time.Duration
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *StaticConfig) GetPubSubSystem() string             { return c.PubSubSystem }
func (c *StaticConfig) GetClientName() string               { return c.ClientName }
func (c *StaticConfig) GetKafkaBrokers() []string           { return c.KafkaBrokers }
func (c *StaticConfig) GetKafkaConsumerGroup() string       { return c.KafkaConsumerGroup }
func (c *StaticConfig) GetRabbitMQURL() string              { return c.RabbitMQURL }
func (c *StaticConfig) GetNATSURL() string                  { return c.NATSURL }
func (c *StaticConfig) GetRelayAddress() string             { return c.RelayAddress }
func (c *StaticConfig) GetConnectRetries() int              { return c.ConnectRetries }
func (c *StaticConfig) GetConnectRetryDelay() time.Duration { return c.ConnectRetryDelay }
func (c *StaticConfig) GetAWSRegion() string                { return c.AWSRegion }
func (c *StaticConfig) GetAWSAccountID() string             { return c.AWSAccountID }
func (c *StaticConfig) GetAWSAccessKeyID() string           { return c.AWSAccessKeyID }
func (c *StaticConfig) GetAWSSecretAccessKey() string       { return c.AWSSecretAccessKey }
func (c *StaticConfig) GetAWSEndpoint() string              { return c.AWSEndpoint }
