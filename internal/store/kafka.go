package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/i474232898/weather-data-collector/internal/weather"
)

const DefaultHistoryTopic = "weather-history"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher publishes a history entry for every completed run.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a producer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultHistoryTopic
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

// Publish writes the history entry of run, keyed by location.
func (p *KafkaPublisher) Publish(ctx context.Context, run weather.CollectionRun) error {
	msg, err := serializeRun(run)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish history entry: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeRun marshals the history entry of run into a Kafka message.
func serializeRun(run weather.CollectionRun) (kafkago.Message, error) {
	data, err := json.Marshal(weather.NewHistoryEntry(run))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize history entry: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(run.Location.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(run.ID)},
			{Key: "completed_at", Value: []byte(run.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
