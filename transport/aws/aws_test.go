package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protobus/transport"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsQueueGroups)
	assert.True(t, caps.RequiresCorrelation())
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.AWSCapabilities, caps)
	assert.Equal(t, "aws", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "aws", TransportName)
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		originalConfigLoader := DefaultConfigLoader
		originalTopicResolver := TopicResolverFactory
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			DefaultConfigLoader = originalConfigLoader
			TopicResolverFactory = originalTopicResolver
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "us-east-1"}, nil
		}
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			return &sns.GenerateArnTopicResolver{}, nil
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return mockSub, nil
		}

		cfg := &mockConfig{
			AWSRegion:    "us-east-1",
			AWSAccountID: "123456789012",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		require.NoError(t, tr.Publisher.Publish("music", message.NewMessage("m-1", nil)))
		_, err = tr.Subscriber.Subscribe(context.Background(), "display")
		require.NoError(t, err)
		assert.Equal(t, []string{"protobus-music"}, mockPub.topics)
		assert.Equal(t, []string{"protobus-display"}, mockSub.topics)
	})

	t.Run("points both clients at a custom endpoint", func(t *testing.T) {
		originalConfigLoader := DefaultConfigLoader
		originalTopicResolver := TopicResolverFactory
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			DefaultConfigLoader = originalConfigLoader
			TopicResolverFactory = originalTopicResolver
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "eu-west-1"}, nil
		}
		var gotAccount string
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			gotAccount = accountID
			return &sns.GenerateArnTopicResolver{}, nil
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Len(t, cfg.OptFns, 1)
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Len(t, cfg.OptFns, 1)
			assert.Len(t, sqsCfg.OptFns, 1)
			queue, err := cfg.GenerateSqsQueueName(context.Background(), "arn:aws:sns:eu-west-1:000000000000:protobus-music")
			assert.NoError(t, err)
			assert.Equal(t, "protobus-music", queue)
			return &mockSubscriber{}, nil
		}

		_, err := Build(context.Background(), &mockConfig{AWSEndpoint: "http://localhost:4566"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, localstackAccountID, gotAccount)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		originalConfigLoader := DefaultConfigLoader
		defer func() { DefaultConfigLoader = originalConfigLoader }()

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		cfg := &mockConfig{AWSRegion: "us-east-1"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config error")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalConfigLoader := DefaultConfigLoader
		originalTopicResolver := TopicResolverFactory
		originalPubFactory := PublisherFactory
		defer func() {
			DefaultConfigLoader = originalConfigLoader
			TopicResolverFactory = originalTopicResolver
			PublisherFactory = originalPubFactory
		}()

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "us-east-1"}, nil
		}
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			return &sns.GenerateArnTopicResolver{}, nil
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &mockConfig{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})

	t.Run("returns error when subscriber factory fails", func(t *testing.T) {
		originalConfigLoader := DefaultConfigLoader
		originalTopicResolver := TopicResolverFactory
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			DefaultConfigLoader = originalConfigLoader
			TopicResolverFactory = originalTopicResolver
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{Region: "us-east-1"}, nil
		}
		TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
			return &sns.GenerateArnTopicResolver{}, nil
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		cfg := &mockConfig{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "subscriber error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		cfg := &mockConfig{
			AWSAccountID: "123456789012",
			AWSRegion:    "us-west-2",
		}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-west-2", region)
	})

	t.Run("uses fallback region when config region empty", func(t *testing.T) {
		cfg := &mockConfig{AWSAccountID: "123456789012"}
		accountID, region := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("uses localstack default when endpoint set and account empty", func(t *testing.T) {
		cfg := &mockConfig{AWSEndpoint: "http://localhost:4566"}
		accountID, _ := resolveAccountAndRegion(cfg, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("returns empty values for nil config", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(nil, watermill.NopLogger{}, "us-east-1")
		assert.Equal(t, "", accountID)
		assert.Equal(t, "us-east-1", region)
	})
}

func TestAwsEndpointURL(t *testing.T) {
	t.Run("returns nil for nil config", func(t *testing.T) {
		url, err := awsEndpointURL(nil)
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("returns nil for empty endpoint", func(t *testing.T) {
		cfg := &mockConfig{}
		url, err := awsEndpointURL(cfg)
		assert.NoError(t, err)
		assert.Nil(t, url)
	})

	t.Run("parses valid endpoint", func(t *testing.T) {
		cfg := &mockConfig{AWSEndpoint: "http://localhost:4566"}
		url, err := awsEndpointURL(cfg)
		assert.NoError(t, err)
		assert.NotNil(t, url)
		assert.Equal(t, "localhost:4566", url.Host)
	})
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "protobus-music", TopicName("music"))
	assert.Equal(t, "protobus-my_bot_1", TopicName("my.bot 1"))
	assert.Len(t, TopicName(strings.Repeat("x", 200)), maxResourceName)
}

type mockConfig = transport.StaticConfig

type mockPublisher struct {
	topics []string
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.topics = append(m.topics, topic)
	return nil
}
func (m *mockPublisher) Close() error { return nil }

type mockSubscriber struct {
	topics []string
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.topics = append(m.topics, topic)
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
