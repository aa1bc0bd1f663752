package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Ensure KafkaSink implements Sink
var _ Sink = (*KafkaSink)(nil)

// KafkaSink publishes notification requests to a Kafka topic consumed by the
// delivery pipeline (push/email workers, out of scope here).
type KafkaSink struct {
	w *kafka.Writer
}

// kafkaNotification is the wire format of one delivery request.
type kafkaNotification struct {
	UserID       string       `json:"user_id"`
	Notification Notification `json:"notification"`
}

// NewKafkaSink creates a producer with delivery-safety settings:
// user-keyed hashing keeps one user's notifications in order, RequireAll
// waits for ISR acknowledgement, and bounded attempts/timeouts keep the
// post-commit dispatch path from hanging.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close releases the writer.
func (s *KafkaSink) Close() error { return s.w.Close() }

// Send publishes one delivery request keyed by user ID.
func (s *KafkaSink) Send(ctx context.Context, userID string, n Notification) error {
	msg, err := s.message(userID, n)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, msg)
}

// SendMany publishes one delivery request per recipient in a single batch.
func (s *KafkaSink) SendMany(ctx context.Context, userIDs []string, n Notification) error {
	msgs := make([]kafka.Message, 0, len(userIDs))
	for _, userID := range userIDs {
		msg, err := s.message(userID, n)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.w.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) message(userID string, n Notification) (kafka.Message, error) {
	b, err := json.Marshal(kafkaNotification{UserID: userID, Notification: n})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(userID), Value: b}, nil
}
