package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes outbox entries to a Kafka topic. The outbox id is the
// record key so downstream consumers can deduplicate the at-least-once relay.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure audit topic: %w", resp.Err)
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

// Publish produces all entries and waits for broker acknowledgement, so the
// worker only marks entries published once they are durable in Kafka.
func (s *KafkaSink) Publish(ctx context.Context, entries []Entry) error {
	records := make([]*kgo.Record, len(entries))
	for i, e := range entries {
		records[i] = &kgo.Record{
			Topic: s.topic,
			Key:   []byte(e.ID.String()),
			Value: e.Payload,
		}
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit records: %w", err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
