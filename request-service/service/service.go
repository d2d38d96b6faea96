package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"fuelfix/request-service/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// minDescriptionLen is enforced on submission.
const minDescriptionLen = 10

// SubmitInput carries the user-supplied fields of a new request.
type SubmitInput struct {
	VehicleType domain.VehicleType
	ServiceType domain.ServiceType
	Description string
	Image       string
}

// Service implements the request lifecycle and visibility rules
type Service struct {
	repo   domain.RequestRepository
	tracer trace.Tracer
	logger *slog.Logger
}

// NewService creates a new instance of the request service
func NewService(repo domain.RequestRepository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		tracer: otel.Tracer("request-service"),
		logger: logger,
	}
}

// Submit creates a new request in the pending state, owned by the actor
func (s *Service) Submit(ctx context.Context, actor domain.Actor, input SubmitInput) (*domain.Request, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceSubmitRequest")
	defer span.End()

	if actor.Role != domain.RoleUser {
		err := fmt.Errorf("%w: only users can submit requests", domain.ErrForbidden)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Submit rejected", "error", err, "actorID", actor.ID, "app", "request-service")
		return nil, err
	}
	if err := validateSubmission(input); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("Invalid submission", "error", err, "actorID", actor.ID, "app", "request-service")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("owner", actor.ID),
		attribute.String("vehicleType", string(input.VehicleType)),
		attribute.String("serviceType", string(input.ServiceType)),
	)

	request := &domain.Request{
		ID:          primitive.NewObjectID().Hex(),
		Owner:       actor.ID,
		VehicleType: input.VehicleType,
		ServiceType: input.ServiceType,
		Description: input.Description,
		Image:       input.Image,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("requestID", request.ID))

	created, err := s.repo.Create(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create request")
		s.logger.Error("Failed to create request", "error", err, "app", "request-service")
		return nil, err
	}
	s.logger.Info("Created request", "requestID", created.ID, "owner", actor.ID, "app", "request-service")

	s.enqueueEvent(ctx, created)
	return created, nil
}

// ListOpen returns the shared pool of pending requests visible to every
// mechanic. An accepted request leaves this view immediately.
func (s *Service) ListOpen(ctx context.Context, actor domain.Actor) ([]*domain.Request, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListOpenRequests")
	defer span.End()

	if actor.Role != domain.RoleMechanic {
		err := fmt.Errorf("%w: only mechanics can browse open requests", domain.ErrForbidden)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	requests, err := s.repo.ListPending(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to list pending requests")
		s.logger.Error("Failed to list pending requests", "error", err, "app", "request-service")
		return nil, err
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	return requests, nil
}

// ListMine returns the actor's own requests: a user's owned requests or
// a mechanic's assigned requests, any status.
func (s *Service) ListMine(ctx context.Context, actor domain.Actor) ([]*domain.Request, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListMyRequests")
	defer span.End()

	var (
		requests []*domain.Request
		err      error
	)
	switch actor.Role {
	case domain.RoleUser:
		requests, err = s.repo.ListByOwner(ctx, actor.ID)
	case domain.RoleMechanic:
		requests, err = s.repo.ListByAssignee(ctx, actor.ID)
	default:
		err = fmt.Errorf("%w: unknown role %q", domain.ErrForbidden, actor.Role)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to list requests")
		s.logger.Error("Failed to list requests", "error", err, "actorID", actor.ID, "app", "request-service")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("actorID", actor.ID),
		attribute.Int("requestCount", len(requests)),
	)
	return requests, nil
}

// Accept claims a pending request for a mechanic. First accept wins:
// the conditional write rejects the loser of a race.
func (s *Service) Accept(ctx context.Context, actor domain.Actor, requestID string) (*domain.Request, error) {
	return s.transition(ctx, "ServiceAcceptRequest", actor, requestID, ActionAccept)
}

// Cancel cancels a pending or accepted request for the owner or assignee
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, requestID string) (*domain.Request, error) {
	return s.transition(ctx, "ServiceCancelRequest", actor, requestID, ActionCancel)
}

// MarkComplete records the actor's completion confirmation. The request
// is finalized only after both the owner and the assignee confirm.
func (s *Service) MarkComplete(ctx context.Context, actor domain.Actor, requestID string) (*domain.Request, error) {
	return s.transition(ctx, "ServiceMarkComplete", actor, requestID, ActionComplete)
}

func (s *Service) transition(ctx context.Context, spanName string, actor domain.Actor, requestID string, action Action) (*domain.Request, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	if requestID == "" {
		err := fmt.Errorf("%w: request ID is required", domain.ErrValidation)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", requestID),
		attribute.String("actorID", actor.ID),
		attribute.String("action", string(action)),
	)

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get request")
		s.logger.Error("Failed to get request", "error", err, "requestID", requestID, "app", "request-service")
		return nil, err
	}

	next, err := decide(request, actor, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Rejected transition",
			"error", err,
			"requestID", requestID,
			"actorID", actor.ID,
			"action", string(action),
			"status", string(request.Status),
			"app", "request-service")
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, requestID, request.Status, next.to, next.assignTo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to apply transition")
		s.logger.Error("Failed to apply transition",
			"error", err,
			"requestID", requestID,
			"from", string(request.Status),
			"to", string(next.to),
			"app", "request-service")
		return nil, err
	}
	s.logger.Info("Applied transition",
		"requestID", requestID,
		"from", string(request.Status),
		"to", string(updated.Status),
		"actorID", actor.ID,
		"app", "request-service")
	span.SetAttributes(attribute.String("status", string(updated.Status)))

	s.enqueueEvent(ctx, updated)
	return updated, nil
}

// enqueueEvent appends a status-change event to the outbox. Publication
// failures never fail the lifecycle operation.
func (s *Service) enqueueEvent(ctx context.Context, request *domain.Request) {
	_, span := s.tracer.Start(ctx, "EnqueueRequestEvent")
	defer span.End()

	payload, err := json.Marshal(request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal request event")
		s.logger.Error("Failed to marshal request event", "error", err, "requestID", request.ID, "app", "request-service")
		return
	}
	event := &domain.OutboxEvent{
		ID:        primitive.NewObjectID().Hex(),
		EventType: "RequestEvent",
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveOutboxEvent(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save outbox event")
		s.logger.Error("Failed to save outbox event", "error", err, "requestID", request.ID, "app", "request-service")
		return
	}
	span.SetAttributes(attribute.String("eventID", event.ID))
}

func validateSubmission(input SubmitInput) error {
	if !input.VehicleType.Valid() {
		return fmt.Errorf("%w: unknown vehicle type %q", domain.ErrValidation, input.VehicleType)
	}
	if !input.ServiceType.Valid() {
		return fmt.Errorf("%w: unknown service type %q", domain.ErrValidation, input.ServiceType)
	}
	if len(strings.TrimSpace(input.Description)) < minDescriptionLen {
		return fmt.Errorf("%w: description must be at least %d characters", domain.ErrValidation, minDescriptionLen)
	}
	return nil
}
