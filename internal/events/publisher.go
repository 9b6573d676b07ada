// Package events publishes shipment lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeShipmentCreated = "shipment.created"
)

// Event is the envelope written to the topic.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ShipmentCreated is the payload of a shipment.created event.
type ShipmentCreated struct {
	Carrier        shipper.Carrier `json:"carrier"`
	ServiceCode    string          `json:"service_code"`
	ServiceName    string          `json:"service_name"`
	TrackingNumber string          `json:"tracking_number"`
	ShipmentID     string          `json:"shipment_id,omitempty"`
	Charged        float64         `json:"charged"`
	Currency       string          `json:"currency"`
	LabelID        string          `json:"label_id,omitempty"`
	OrderID        string          `json:"order_id,omitempty"`
	Subject        string          `json:"subject,omitempty"`
}

// Publisher publishes shipment events.
type Publisher interface {
	ShipmentCreated(ctx context.Context, e ShipmentCreated) error
	Close() error
}

// Writer is the subset of *kafka.Writer used here.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	writer Writer
	topic  string
	logger *otelzap.Logger
	now    func() time.Time
}

// NewKafkaWriter builds a synchronous writer for brokers.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher creates a publisher over w.
func NewKafkaPublisher(w Writer, topic string, logger *otelzap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger, now: time.Now}
}

// ShipmentCreated publishes a shipment.created event keyed by tracking
// number.
func (p *KafkaPublisher) ShipmentCreated(ctx context.Context, e ShipmentCreated) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := Event{
		ID:         uuid.NewString(),
		Type:       TypeShipmentCreated,
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.TrackingNumber),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "carrier", Value: []byte(e.Carrier)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Ctx(ctx).Error("failed to publish event",
			zap.String("topic", p.topic),
			zap.String("event_type", env.Type),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s to %s: %w", env.Type, p.topic, err)
	}

	p.logger.Ctx(ctx).Debug("event published",
		zap.String("topic", p.topic),
		zap.String("event_id", env.ID),
		zap.String("tracking_number", e.TrackingNumber),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) ShipmentCreated(ctx context.Context, e ShipmentCreated) error { return nil }
func (Noop) Close() error                                                 { return nil }
