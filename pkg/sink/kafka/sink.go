package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"go.uber.org/zap"
)

// SinkKafka publishes events with a sync producer. Messages are keyed by
// record id so that changes of one record stay ordered within a partition.
type SinkKafka struct {
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	logger   *zap.Logger
	config   *Config
	topics   map[string]struct{}
	mu       sync.Mutex
}

func (s *SinkKafka) Connect(config json.RawMessage, logger *zap.Logger) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal Kafka config: %w", err)
	}
	cfg.setDefaults()

	saramaConfig, err := cfg.ToSaramaConfig()
	if err != nil {
		return err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	if cfg.CreateTopics {
		admin, err := sarama.NewClusterAdmin(cfg.Brokers, saramaConfig)
		if err != nil {
			producer.Close()
			return fmt.Errorf("failed to create cluster admin: %w", err)
		}
		s.admin = admin
	}

	s.producer = producer
	s.config = &cfg
	s.topics = make(map[string]struct{})
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return nil
}

// Topic returns the topic an event is published to: {prefix}.{table}.{type}
func Topic(prefix string, event broker.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.Table, event.Type)
}

// Message builds the producer message for an event.
func Message(prefix string, event broker.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: Topic(prefix, event),
		Key:   sarama.StringEncoder(event.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
			{Key: []byte("table"), Value: []byte(event.Table)},
		},
	}, nil
}

func (s *SinkKafka) Pub(_ context.Context, event broker.Event) error {
	if s.producer == nil {
		return sink.ErrNotConnected
	}

	msg, err := Message(s.config.TopicPrefix, event)
	if err != nil {
		return err
	}

	if err := s.ensureTopic(msg.Topic); err != nil {
		return err
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	s.logger.Debug("published message",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *SinkKafka) ensureTopic(topic string) error {
	if s.admin == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic]; ok {
		return nil
	}

	topicDetail := &sarama.TopicDetail{
		NumPartitions:     s.config.Partitions,
		ReplicationFactor: s.config.Replicas,
		ConfigEntries: map[string]*string{
			"retention.ms": stringPtr(fmt.Sprintf("%d", s.config.RetentionMS)),
		},
	}

	err := s.admin.CreateTopic(topic, topicDetail, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	if err == nil {
		s.logger.Info("created topic", zap.String("topic", topic))
	}
	s.topics[topic] = struct{}{}
	return nil
}

func (s *SinkKafka) Disconnect() error {
	var errs []error
	if s.admin != nil {
		errs = append(errs, s.admin.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return errors.Join(errs...)
}

func stringPtr(s string) *string {
	return &s
}

func init() {
	sink.RegisterConnector(sink.ConnectorKafka, func() sink.Connector { return &SinkKafka{} })
}
