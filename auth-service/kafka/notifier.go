package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// VerificationEvent is the payload consumed by the mail delivery service
type VerificationEvent struct {
	Email    string    `json:"email"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

// Notifier publishes verification codes to the notification topic
type Notifier struct {
	kafkaProducer *kafka.Producer
	topic         string
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewNotifier creates a new Notifier
func NewNotifier(bootstrapServers, topic string, logger *slog.Logger) (*Notifier, error) {
	config := &kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"compression.type":  "snappy",
	}
	p, err := kafka.NewProducer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &Notifier{
		kafkaProducer: p,
		topic:         topic,
		logger:        logger,
		tracer:        otel.Tracer("auth-service"),
	}, nil
}

// NotifyVerificationCode publishes an OTP notification event
func (n *Notifier) NotifyVerificationCode(ctx context.Context, email, code string) error {
	_, span := n.tracer.Start(ctx, "NotifyVerificationCode")
	defer span.End()

	payload, err := json.Marshal(VerificationEvent{
		Email:    email,
		Code:     code,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deliveryChan := make(chan kafka.Event)
	err = n.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &n.topic, Partition: kafka.PartitionAny},
		Key:            []byte(email),
		Value:          payload,
	}, deliveryChan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to produce message")
		n.logger.Error("Failed to produce message", "email", email, "error", err, "app", "auth-service")
		return fmt.Errorf("failed to produce message: %w", err)
	}

	e := <-deliveryChan
	m := e.(*kafka.Message)
	if m.TopicPartition.Error != nil {
		span.RecordError(m.TopicPartition.Error)
		span.SetStatus(codes.Error, "Delivery failed")
		n.logger.Error("Delivery failed", "email", email, "error", m.TopicPartition.Error, "app", "auth-service")
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}
	n.logger.Info("Published verification event",
		"email", email,
		"topic", *m.TopicPartition.Topic,
		"partition", m.TopicPartition.Partition,
		"offset", m.TopicPartition.Offset,
		"app", "auth-service")
	span.SetAttributes(
		attribute.String("topic", *m.TopicPartition.Topic),
		attribute.Int("partition", int(m.TopicPartition.Partition)),
	)

	close(deliveryChan)
	return nil
}

// Close shuts down the Kafka producer
func (n *Notifier) Close() {
	n.logger.Info("Closing Kafka producer", "app", "auth-service")
	n.kafkaProducer.Close()
}
