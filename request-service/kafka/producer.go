package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"log/slog"

	"fuelfix/request-service/domain"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestEvent mirrors the Avro schema in request_event.avsc
type RequestEvent struct {
	ID          string `avro:"id"`
	Owner       string `avro:"owner"`
	Status      string `avro:"status"`
	VehicleType string `avro:"vehicle_type"`
	ServiceType string `avro:"service_type"`
	AssignedTo  string `avro:"assigned_to"`
}

type Producer struct {
	kafkaProducer *kafka.Producer
	srClient      *srclient.SchemaRegistryClient
	schema        avro.Schema
	SchemaID      int
	topic         string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func NewProducer(bootstrapServers, schemaRegistryURL, topic string, logger *slog.Logger) (*Producer, error) {
	// Initialize Kafka producer
	config := &kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"compression.type":  "snappy",
	}
	p, err := kafka.NewProducer(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	// Initialize Schema Registry client
	srClient := srclient.CreateSchemaRegistryClient(schemaRegistryURL)

	// Load Avro schema
	schemaBytes, err := os.ReadFile("request_event.avsc")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	schemaStr := string(schemaBytes)
	schema, err := avro.Parse(schemaStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	// Register schema
	schemaObj, err := srClient.CreateSchema(topic+"-value", schemaStr, srclient.Avro)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	logger.Info("Schema registered", "schemaID", schemaObj.ID(), "app", "request-service")

	return &Producer{
		kafkaProducer: p,
		srClient:      srClient,
		schema:        schema,
		SchemaID:      schemaObj.ID(),
		topic:         topic,
		logger:        logger,
		tracer:        otel.Tracer("request-service"),
	}, nil
}

// PublishRequestEvent encodes a request in the Confluent wire format
// (magic byte, schema ID, Avro body) and publishes it to the topic
func (p *Producer) PublishRequestEvent(ctx context.Context, request *domain.Request) error {
	_, span := p.tracer.Start(ctx, "PublishRequestEvent")
	defer span.End()

	event := RequestEvent{
		ID:          request.ID,
		Owner:       request.Owner,
		Status:      string(request.Status),
		VehicleType: string(request.VehicleType),
		ServiceType: string(request.ServiceType),
		AssignedTo:  request.AssignedTo,
	}
	body, err := avro.Marshal(p.schema, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal event")
		p.logger.Error("Failed to marshal event", "requestID", request.ID, "error", err, "app", "request-service")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Confluent wire format: magic byte 0, 4-byte schema ID, Avro body
	payload := make([]byte, 0, len(body)+5)
	payload = append(payload, 0)
	payload = binary.BigEndian.AppendUint32(payload, uint32(p.SchemaID))
	payload = append(payload, body...)

	deliveryChan := make(chan kafka.Event)
	err = p.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(request.ID),
		Value:          payload,
	}, deliveryChan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to produce message")
		p.logger.Error("Failed to produce message", "requestID", request.ID, "error", err, "app", "request-service")
		return fmt.Errorf("failed to produce message: %w", err)
	}

	// Wait for delivery report
	e := <-deliveryChan
	m := e.(*kafka.Message)
	if m.TopicPartition.Error != nil {
		span.RecordError(m.TopicPartition.Error)
		span.SetStatus(codes.Error, "Delivery failed")
		p.logger.Error("Delivery failed", "requestID", request.ID, "error", m.TopicPartition.Error, "app", "request-service")
		return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
	}
	p.logger.Info("Published request event",
		"requestID", request.ID,
		"status", string(request.Status),
		"topic", *m.TopicPartition.Topic,
		"partition", m.TopicPartition.Partition,
		"offset", m.TopicPartition.Offset,
		"app", "request-service")
	span.SetAttributes(
		attribute.String("requestID", request.ID),
		attribute.String("topic", *m.TopicPartition.Topic),
		attribute.Int("partition", int(m.TopicPartition.Partition)),
		attribute.Int64("offset", int64(m.TopicPartition.Offset)),
	)

	close(deliveryChan)
	return nil
}

// Close shuts down the Kafka producer
func (p *Producer) Close() {
	p.logger.Info("Closing Kafka producer", "app", "request-service")
	p.kafkaProducer.Close()
}
