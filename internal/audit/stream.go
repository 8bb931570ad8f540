package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"insurance-bot/internal/registration"
)

// Publisher forwards committed audit rows to external consumers.
type Publisher interface {
	Publish(ctx context.Context, rows []registration.AuditLog) error
}

// Event is the wire form of an audit row on the stream.
type Event struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    string          `json:"action"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaStream publishes audit events keyed by record id.
type KafkaStream struct {
	writer messageWriter
}

// NewKafkaStream builds a stream writing to topic on brokers.
func NewKafkaStream(brokers []string, topic string) *KafkaStream {
	return &KafkaStream{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes one message per row.
func (s *KafkaStream) Publish(ctx context.Context, rows []registration.AuditLog) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		value, err := json.Marshal(toEvent(row))
		if err != nil {
			return fmt.Errorf("encode audit event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(row.RecordID), Value: value})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write audit events: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaStream) Close() error {
	return s.writer.Close()
}

func toEvent(row registration.AuditLog) Event {
	ev := Event{
		ID:        row.ID,
		Table:     row.TableName,
		RecordID:  row.RecordID,
		Action:    row.Action,
		CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(row.Changes) > 0 {
		ev.Changes = json.RawMessage(row.Changes)
	}
	return ev
}

// NopPublisher drops events when no stream is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []registration.AuditLog) error { return nil }

var (
	_ Publisher = (*KafkaStream)(nil)
	_ Publisher = NopPublisher{}
)
