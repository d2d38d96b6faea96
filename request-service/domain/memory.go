package domain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory RequestRepository with
// the same conditional-write semantics as the Mongo implementation.
// Tests and local development run against it.
type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]Request
	outbox   map[string]OutboxEvent
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]Request),
		outbox:   make(map[string]OutboxEvent),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, request *Request) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	r.requests[request.ID] = *request
	return request, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, exists := r.requests[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &request, nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Request, error) {
	return r.list(func(req Request) bool { return req.Owner == ownerID })
}

func (r *MemoryRepository) ListByAssignee(ctx context.Context, mechanicID string) ([]*Request, error) {
	return r.list(func(req Request) bool { return req.AssignedTo == mechanicID })
}

func (r *MemoryRepository) ListPending(ctx context.Context) ([]*Request, error) {
	return r.list(func(req Request) bool { return req.Status == StatusPending })
}

func (r *MemoryRepository) list(match func(Request) bool) ([]*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requests []*Request
	for _, request := range r.requests {
		if match(request) {
			req := request
			requests = append(requests, &req)
		}
	}
	return requests, nil
}

// UpdateStatus applies the transition only while the stored status still
// equals from; the mutex makes the check-and-write a single step.
func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, from, to Status, assignTo string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, exists := r.requests[id]
	if !exists {
		return nil, ErrNotFound
	}
	if request.Status != from {
		return nil, ErrInvalidTransition
	}
	request.Status = to
	if assignTo != "" {
		request.AssignedTo = assignTo
	}
	r.requests[id] = request
	return &request, nil
}

func (r *MemoryRepository) SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	r.outbox[event.ID] = *event
	return nil
}

func (r *MemoryRepository) GetUnprocessedOutboxEvents(ctx context.Context) ([]*OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []*OutboxEvent
	for _, event := range r.outbox {
		if !event.Processed {
			ev := event
			events = append(events, &ev)
		}
	}
	return events, nil
}

func (r *MemoryRepository) MarkOutboxEventProcessed(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, exists := r.outbox[eventID]
	if !exists {
		return ErrNotFound
	}
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	r.outbox[eventID] = event
	return nil
}
