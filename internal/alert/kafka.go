package alert

import (
	"context"
	"encoding/json"
	"fmt"

	kafkaGO "github.com/segmentio/kafka-go"

	"alertbot-go/internal/signal"
)

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGO.Message) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON keyed by symbol.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaWriter builds a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafkaGO.Writer {
	return &kafkaGO.Writer{
		Addr:                   kafkaGO.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkaGO.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaNotifier wraps a writer.
func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w}
}

// Notify writes one message.
func (k *KafkaNotifier) Notify(ctx context.Context, a signal.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafkaGO.Message{
		Key:   []byte(a.Symbol),
		Value: payload,
		Headers: []kafkaGO.Header{
			{Key: "direction", Value: []byte(a.Direction)},
		},
	})
	if err != nil {
		return fmt.Errorf("write alert to kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
