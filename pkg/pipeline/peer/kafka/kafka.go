package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var ErrUnknownTopic = errors.New("kafka: unknown topic")

// Client handles producer, consumer group and topic administration
type Client struct {
	config *Config
	logger *zap.Logger
}

func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		logger: logger,
	}
}

func (c *Client) newClusterAdmin() (sarama.ClusterAdmin, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}

	return admin, nil
}

// CreateProducer creates a new SyncProducer
func (c *Client) CreateProducer() (sarama.SyncProducer, error) {
	conf, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	producer, err := sarama.NewSyncProducer(c.config.GetBrokers(), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	return producer, nil
}

// CreateConsumerGroup joins the configured consumer group.
func (c *Client) CreateConsumerGroup() (sarama.ConsumerGroup, error) {
	conf, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	group, err := sarama.NewConsumerGroup(c.config.GetBrokers(), c.config.GroupID, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return group, nil
}

// ListTopics lists all topics
func (c *Client) ListTopics() (map[string]sarama.TopicDetail, error) {
	admin, err := c.newClusterAdmin()
	if err != nil {
		return nil, err
	}
	defer admin.Close()

	topics, err := admin.ListTopics()
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	return topics, nil
}

// CreateTopic creates a new topic
func (c *Client) CreateTopic(topicName string, detail *sarama.TopicDetail) error {
	admin, err := c.newClusterAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()

	err = admin.CreateTopic(topicName, detail, false)
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	c.logger.Info("topic created", zap.String("topic", topicName))
	return nil
}

// EnsureTopic creates topic with the configured partitions, replicas and
// retention unless it already exists.
func (c *Client) EnsureTopic(topic string) error {
	topics, err := c.ListTopics()
	if err != nil {
		return err
	}
	if _, exists := topics[topic]; exists {
		return nil
	}
	retention := fmt.Sprintf("%d", c.config.RetentionMS)
	return c.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     c.config.Partitions,
		ReplicationFactor: c.config.Replicas,
		ConfigEntries:     map[string]*string{"retention.ms": &retention},
	})
}

// TopicExists reports whether the cluster knows topic.
func (c *Client) TopicExists(_ context.Context, topic string) (bool, error) {
	topics, err := c.ListTopics()
	if err != nil {
		return false, err
	}
	_, ok := topics[topic]
	return ok, nil
}

// PartitionCount returns the number of partitions of topic.
func (c *Client) PartitionCount(_ context.Context, topic string) (uint32, error) {
	topics, err := c.ListTopics()
	if err != nil {
		return 0, err
	}
	detail, ok := topics[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	return uint32(detail.NumPartitions), nil
}
