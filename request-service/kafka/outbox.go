package kafka

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"fuelfix/request-service/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OutboxProcessor drains the outbox collection and publishes the events
// to Kafka. Lifecycle operations only append to the outbox, so a broker
// outage never blocks a transition.
type OutboxProcessor struct {
	repo     domain.RequestRepository
	producer *Producer
	logger   *slog.Logger
	interval time.Duration
}

// NewOutboxProcessor creates a new OutboxProcessor
func NewOutboxProcessor(repo domain.RequestRepository, producer *Producer, logger *slog.Logger) *OutboxProcessor {
	return &OutboxProcessor{
		repo:     repo,
		producer: producer,
		logger:   logger,
		interval: 5 * time.Second,
	}
}

// Start begins processing outbox events until the context is canceled
func (p *OutboxProcessor) Start(ctx context.Context) error {
	_, span := otel.Tracer("request-service").Start(ctx, "OutboxProcessorStart")
	defer span.End()

	p.logger.Info("Outbox processor started", "app", "request-service")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping outbox processor", "app", "request-service")
			return ctx.Err()
		case <-ticker.C:
			p.logger.Debug("Polling for unprocessed outbox events", "app", "request-service")
			if err := p.processOutboxEvents(ctx); err != nil {
				p.logger.Error("Failed to process outbox events", "error", err, "app", "request-service")
			}
		}
	}
}

// processOutboxEvents retrieves and publishes unprocessed outbox events
func (p *OutboxProcessor) processOutboxEvents(ctx context.Context) error {
	ctx, span := otel.Tracer("request-service").Start(ctx, "ProcessOutboxEvents")
	defer span.End()

	events, err := p.repo.GetUnprocessedOutboxEvents(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get unprocessed outbox events")
		return err
	}
	if len(events) == 0 {
		return nil
	}

	p.logger.Info("Found unprocessed outbox events", "count", len(events), "app", "request-service")
	for _, event := range events {
		_, eventSpan := otel.Tracer("request-service").Start(ctx, "ProcessOutboxEvent")
		eventSpan.SetAttributes(
			attribute.String("eventID", event.ID),
			attribute.String("eventType", event.EventType),
		)

		var request domain.Request
		if err := json.Unmarshal(event.Payload, &request); err != nil {
			eventSpan.RecordError(err)
			eventSpan.SetStatus(codes.Error, "Failed to decode event payload")
			p.logger.Error("Failed to decode event payload", "eventID", event.ID, "error", err, "app", "request-service")
			eventSpan.End()
			continue
		}

		if err := p.producer.PublishRequestEvent(ctx, &request); err != nil {
			eventSpan.RecordError(err)
			eventSpan.SetStatus(codes.Error, "Failed to publish event")
			p.logger.Error("Failed to publish event", "eventID", event.ID, "error", err, "app", "request-service")
			eventSpan.End()
			continue
		}

		if err := p.repo.MarkOutboxEventProcessed(ctx, event.ID); err != nil {
			eventSpan.RecordError(err)
			eventSpan.SetStatus(codes.Error, "Failed to mark outbox event as processed")
			p.logger.Error("Failed to mark outbox event as processed", "eventID", event.ID, "error", err, "app", "request-service")
			eventSpan.End()
			continue
		}

		p.logger.Info("Published outbox event", "eventID", event.ID, "requestID", request.ID, "app", "request-service")
		eventSpan.End()
	}

	span.SetAttributes(
		attribute.Int("processedEventCount", len(events)),
	)
	return nil
}
