package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestRepository defines the data access methods for service requests.
type RequestRepository interface {
	Create(ctx context.Context, request *Request) (*Request, error)
	GetByID(ctx context.Context, id string) (*Request, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Request, error)
	ListByAssignee(ctx context.Context, mechanicID string) ([]*Request, error)
	ListPending(ctx context.Context) ([]*Request, error)

	// UpdateStatus applies a lifecycle transition conditionally: the
	// write succeeds only if the stored status still equals from. A
	// non-empty assignTo also sets assignedTo in the same write. Returns
	// ErrNotFound if no such request exists and ErrInvalidTransition if
	// the status changed underneath the caller.
	UpdateStatus(ctx context.Context, id string, from, to Status, assignTo string) (*Request, error)

	SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedOutboxEvents(ctx context.Context) ([]*OutboxEvent, error)
	MarkOutboxEventProcessed(ctx context.Context, eventID string) error
}

// MongoRepository implements the RequestRepository interface
type MongoRepository struct {
	RequestCollection *mongo.Collection
	OutboxCollection  *mongo.Collection
}

// NewMongoRepository creates a new MongoRepository
func NewMongoRepository(client *mongo.Client) *MongoRepository {
	return &MongoRepository{
		RequestCollection: client.Database("fuelfixdb").Collection("requests"),
		OutboxCollection:  client.Database("fuelfixdb").Collection("outbox"),
	}
}

// Create inserts a new service request
func (r *MongoRepository) Create(ctx context.Context, request *Request) (*Request, error) {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoCreateRequest")
	defer span.End()

	_, err := r.RequestCollection.InsertOne(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to insert request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", request.ID),
		attribute.String("owner", request.Owner),
		attribute.String("status", string(request.Status)),
	)
	return request, nil
}

// GetByID retrieves a service request by ID
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoGetRequestByID")
	defer span.End()

	var request Request
	err := r.RequestCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find request")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("status", string(request.Status)),
	)
	return &request, nil
}

// ListByOwner retrieves all requests created by a user
func (r *MongoRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Request, error) {
	ctx, span := otel.Tracer("request-service").Start(ctx, "MongoListRequestsByOwner")
	defer span.End()

	return r.list(ctx, bson.M{"owner": ownerID})
}

// ListByAssignee retrieves all requests assigned to a mechanic
func (r *MongoRepository) ListByAssignee(ctx context.Context, mechanicID string) ([]*Request, error) {
	ctx, span := otel.Tracer("request-service").Start(ctx, "MongoListRequestsByAssignee")
	defer span.End()

	return r.list(ctx, bson.M{"assignedTo": mechanicID})
}

// ListPending retrieves all requests still waiting for a mechanic
func (r *MongoRepository) ListPending(ctx context.Context) ([]*Request, error) {
	ctx, span := otel.Tracer("request-service").Start(ctx, "MongoListPendingRequests")
	defer span.End()

	return r.list(ctx, bson.M{"status": StatusPending})
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M) ([]*Request, error) {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoListRequests")
	defer span.End()

	var requests []*Request
	cursor, err := r.RequestCollection.Find(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find requests")
		return nil, fmt.Errorf("failed to find requests: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var request Request
		if err := cursor.Decode(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to decode request")
			return nil, fmt.Errorf("failed to decode request: %w", err)
		}
		requests = append(requests, &request)
	}
	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cursor error")
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	span.SetAttributes(
		attribute.Int("requestCount", len(requests)),
	)
	return requests, nil
}

// UpdateStatus applies a transition with a compare-and-swap on status.
// The filter pins the expected current status so two mechanics racing
// to accept the same pending request cannot both win.
func (r *MongoRepository) UpdateStatus(ctx context.Context, id string, from, to Status, assignTo string) (*Request, error) {
	ctx, span := otel.Tracer("request-service").Start(ctx, "MongoUpdateRequestStatus")
	defer span.End()

	set := bson.M{"status": to}
	if assignTo != "" {
		set["assignedTo"] = assignTo
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var request Request
	err := r.RequestCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		opts,
	).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the request is gone or another writer moved it out
			// of the expected state first.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, ErrNotFound
			}
			return nil, ErrInvalidTransition
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to update request status")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("requestID", id),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	return &request, nil
}

// WatchRequests sets up a MongoDB change stream for request insertions
// and status updates
func (r *MongoRepository) WatchRequests(ctx context.Context) (*mongo.ChangeStream, error) {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoWatchRequests")
	defer span.End()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update"}}}},
		}}},
	}
	changeStream, err := r.RequestCollection.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to open change stream")
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return changeStream, nil
}

// SaveOutboxEvent saves an event to the outbox collection
func (r *MongoRepository) SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoSaveOutboxEvent")
	defer span.End()

	_, err := r.OutboxCollection.InsertOne(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save outbox event")
		return err
	}
	span.SetAttributes(
		attribute.String("eventID", event.ID),
		attribute.String("eventType", event.EventType),
	)
	return nil
}

// GetUnprocessedOutboxEvents retrieves unprocessed outbox events
func (r *MongoRepository) GetUnprocessedOutboxEvents(ctx context.Context) ([]*OutboxEvent, error) {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoGetUnprocessedOutboxEvents")
	defer span.End()

	var events []*OutboxEvent
	cursor, err := r.OutboxCollection.Find(ctx, bson.M{"processed": false})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find unprocessed outbox events")
		return nil, fmt.Errorf("failed to find unprocessed outbox events: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var event OutboxEvent
		if err := cursor.Decode(&event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to decode outbox event")
			return nil, fmt.Errorf("failed to decode outbox event: %w", err)
		}
		events = append(events, &event)
	}
	if err := cursor.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cursor error")
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	span.SetAttributes(
		attribute.Int("eventCount", len(events)),
	)
	return events, nil
}

// MarkOutboxEventProcessed marks an outbox event as processed
func (r *MongoRepository) MarkOutboxEventProcessed(ctx context.Context, eventID string) error {
	_, span := otel.Tracer("request-service").Start(ctx, "MongoMarkOutboxEventProcessed")
	defer span.End()

	now := time.Now()
	_, err := r.OutboxCollection.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{
		"$set": bson.M{
			"processed":    true,
			"processed_at": now,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark outbox event as processed")
		return err
	}
	span.SetAttributes(
		attribute.String("eventID", eventID),
	)
	return nil
}
