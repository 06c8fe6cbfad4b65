package sink

import (
	"context"
	"fmt"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/bridgedist/bucketd/encoding"
	"github.com/bridgedist/bucketd/notify"
	"github.com/segmentio/kafka-go"
)

// DefaultTopicPrefix is used when topic_prefix is empty
const DefaultTopicPrefix = "bucketd"

func init() {
	notify.RegisterSink("kafka", func(config cfg.SinkConfiguration) (notify.Sink, error) {
		return NewKafkaSink(KafkaConfig{
			Brokers:          config.Brokers,
			TopicPrefix:      config.TopicPrefix,
			Format:           config.Format,
			RequiredAcks:     kafka.RequireAll,
			AutoCreateTopics: true,
		})
	})
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string
	TopicPrefix      string
	Format           string // "msgpack" (default) or "json"
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

// KafkaSink publishes messages to Kafka, one topic per bucket
type KafkaSink struct {
	writer *kafka.Writer
	prefix string
	format string
}

// NewKafkaSink creates a synchronous Kafka writer
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if !encoding.ValidFormat(config.Format) {
		return nil, fmt.Errorf("unknown format: %s", config.Format)
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Same bucket, same partition
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer, prefix: config.TopicPrefix, format: config.Format}, nil
}

// Topic returns the topic a bucket's messages are written to
func (k *KafkaSink) Topic(bucketName string) string {
	return k.prefix + "." + bucketName
}

// Send writes the encoded message keyed by bucket name
func (k *KafkaSink) Send(ctx context.Context, msg *notify.Message) error {
	data, err := encoding.Encode(k.format, msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.Topic(msg.Bucket),
		Key:   []byte(msg.Bucket),
		Value: data,
	})
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
