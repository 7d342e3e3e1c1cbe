// Package aws provides an AWS SNS/SQS transport for protobus.
//
// A client name maps to one SNS topic and one SQS queue subscribed to it.
// Replicas running under the same name share the queue and compete for its
// messages. Replies travel the same way, so calls are correlated by the bus.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/protobus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// TopicPrefix is prepended to every client name to form its SNS topic and
// SQS queue name.
const TopicPrefix = "protobus-"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12

	// SQS caps queue names at 80 characters, SNS at 256.
	maxResourceName = 80
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// TopicName maps a client name onto a valid SNS topic and SQS queue name.
// Characters AWS rejects become underscores.
func TopicName(name string) string {
	var b strings.Builder
	b.WriteString(TopicPrefix)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > maxResourceName {
		out = out[:maxResourceName]
	}
	return out
}

// settings is everything resolved from the client config before the SNS and
// SQS clients are created.
type settings struct {
	aws       aws.Config
	accountID string
	region    string
	endpoint  *url.URL
}

// Build creates a new AWS SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := resolveSettings(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Resolved AWS settings", watermill.LogFields{
		"account_id":      s.accountID,
		"region":          s.region,
		"custom_endpoint": s.endpoint != nil,
	})

	topicResolver, err := TopicResolverFactory(s.accountID, s.region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"account_id": s.accountID,
			"region":     s.region,
		})
		return transport.Transport{}, err
	}

	snsOpts, sqsOpts := s.endpointOptions()

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     s.aws,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            s.aws,
			OptFns:               snsOpts,
			TopicResolver:        topicResolver,
			GenerateSqsQueueName: queueForTopic,
		},
		sqs.SubscriberConfig{
			AWSConfig: s.aws,
			OptFns:    sqsOpts,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  namedPublisher{publisher},
		Subscriber: namedSubscriber{subscriber},
	}, nil
}

// namedPublisher publishes to the topic of a client name.
type namedPublisher struct {
	message.Publisher
}

func (p namedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(TopicName(topic), messages...)
}

// namedSubscriber consumes the queue of a client name.
type namedSubscriber struct {
	message.Subscriber
}

func (s namedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, TopicName(topic))
}

// queueForTopic names the SQS queue after its topic so every replica of a
// name lands on the same queue.
func queueForTopic(_ context.Context, snsTopic sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}

func resolveSettings(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (settings, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg != nil {
		if region := cfg.GetAWSRegion(); region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
			logger.Info("Using static AWS credentials from config", nil)
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(key, secret)))
		}
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, nil)
		return settings{}, err
	}
	if cfg != nil && cfg.GetAWSRegion() != "" {
		awsCfg.Region = cfg.GetAWSRegion()
	}

	endpoint, err := awsEndpointURL(cfg)
	if err != nil {
		return settings{}, err
	}
	if endpoint == nil && awsCfg.BaseEndpoint != nil && *awsCfg.BaseEndpoint != "" {
		if endpoint, err = url.Parse(*awsCfg.BaseEndpoint); err != nil {
			return settings{}, fmt.Errorf("failed to parse BaseEndpoint: %w", err)
		}
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	return settings{aws: awsCfg, accountID: accountID, region: region, endpoint: endpoint}, nil
}

// endpointOptions points both SDK clients at a custom endpoint such as
// LocalStack.
func (s settings) endpointOptions() ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if s.endpoint == nil {
		return nil, nil
	}
	endpoint := smithyendpoints.Endpoint{URI: *s.endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: endpoint}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: endpoint}),
		}
}

func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if cfg.GetAWSEndpoint() != "" && len(accountID) != awsAccountIDLength {
		logger.Info("AWS account ID missing or invalid; using LocalStack default", watermill.LogFields{"account_id": accountID})
		accountID = localstackAccountID
	}
	return accountID, region
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsedURL, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
