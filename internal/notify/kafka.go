package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications keyed by patient so a patient's messages
// stay ordered on one partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	addrs := SplitBrokers(brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers in %q", brokers)
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, notes []appointment.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(notes))
	for _, n := range notes {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification %s: %w", n.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.PatientID.String()),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(n.ID.String())},
				{Key: "event_type", Value: []byte(n.Type)},
			},
			Time: n.CreatedAt,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish notifications: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
