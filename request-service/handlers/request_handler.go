package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/request-service/domain"
	"fuelfix/request-service/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var validate = validator.New()

// RequestWatcher exposes the change stream behind the websocket feed
type RequestWatcher interface {
	WatchRequests(ctx context.Context) (*mongo.ChangeStream, error)
}

// SubmitPayload is the body of POST /api/requests
type SubmitPayload struct {
	VehicleType string `json:"vehicleType" validate:"required,oneof=car motorbike"`
	ServiceType string `json:"serviceType" validate:"required,oneof=flatTire fuel engine spark oilLeakage"`
	Description string `json:"description" validate:"required,min=10"`
	Image       string `json:"image,omitempty"`
}

// RequestHandler handles service request endpoints
type RequestHandler struct {
	service  *service.Service
	watcher  RequestWatcher
	upgrader websocket.Upgrader
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewRequestHandler creates a new RequestHandler. watcher may be nil
// when no change stream is available (in-memory mode).
func NewRequestHandler(svc *service.Service, watcher RequestWatcher, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		service: svc,
		watcher: watcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tracer: otel.Tracer("request-service"),
		logger: logger,
	}
}

// HealthCheck provides a health endpoint for Consul
func (h *RequestHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "HealthCheck")
	defer span.End()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Submit creates a new service request owned by the calling user
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SubmitRequest")
	defer span.End()

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var payload SubmitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid request body")
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Validation failed")
		h.writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	request, err := h.service.Submit(ctx, actor, service.SubmitInput{
		VehicleType: domain.VehicleType(payload.VehicleType),
		ServiceType: domain.ServiceType(payload.ServiceType),
		Description: payload.Description,
		Image:       payload.Image,
	})
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	span.SetAttributes(attribute.String("requestID", request.ID))

	h.writeJSON(w, http.StatusCreated, request)
}

// ListMine returns the caller's own requests: owned for users, assigned
// for mechanics
func (h *RequestHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListMyRequests")
	defer span.End()

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListMine(ctx, actor)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	h.writeList(w, requests)
}

// ListOpen returns the shared pending pool visible to mechanics
func (h *RequestHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOpenRequests")
	defer span.End()

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListOpen(ctx, actor)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	span.SetAttributes(attribute.Int("requestCount", len(requests)))
	h.writeList(w, requests)
}

// Accept claims a pending request for the calling mechanic
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "AcceptRequest", h.service.Accept)
}

// Cancel cancels a request for the owner or the assigned mechanic
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "CancelRequest", h.service.Cancel)
}

// Complete records the caller's completion confirmation
func (h *RequestHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "CompleteRequest", h.service.MarkComplete)
}

func (h *RequestHandler) transition(w http.ResponseWriter, r *http.Request, spanName string,
	op func(context.Context, domain.Actor, string) (*domain.Request, error)) {

	ctx, span := h.tracer.Start(r.Context(), spanName)
	defer span.End()

	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID := mux.Vars(r)["requestID"]
	span.SetAttributes(
		attribute.String("requestID", requestID),
		attribute.String("actorID", actor.ID),
	)

	request, err := op(ctx, actor, requestID)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	span.SetAttributes(attribute.String("status", string(request.Status)))
	h.writeJSON(w, http.StatusOK, request)
}

// HandleWebSocket streams request documents as they are inserted or
// change status, fed by the MongoDB change stream
func (h *RequestHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HandleWebSocket")
	defer span.End()

	if h.watcher == nil {
		h.writeError(w, http.StatusNotImplemented, "Live feed is not available")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to upgrade connection")
		h.logger.Error("Failed to upgrade connection", "error", err, "app", "request-service")
		return
	}
	defer conn.Close()

	changeStream, err := h.watcher.WatchRequests(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to open change stream")
		h.logger.Error("Failed to open change stream", "error", err, "app", "request-service")
		return
	}
	defer changeStream.Close(ctx)

	for changeStream.Next(ctx) {
		var changeDoc struct {
			FullDocument domain.Request `bson:"fullDocument"`
		}
		if err := changeStream.Decode(&changeDoc); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to decode change stream document")
			h.logger.Error("Failed to decode change stream document", "error", err, "app", "request-service")
			return
		}
		if err := conn.WriteJSON(changeDoc.FullDocument); err != nil {
			h.logger.Info("Websocket client gone", "error", err, "app", "request-service")
			return
		}
	}
}

// actor resolves the authenticated caller placed on the context by the
// auth middleware
func (h *RequestHandler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return domain.Actor{}, false
	}
	role := domain.Role(claims.UserType)
	if !role.Valid() {
		h.writeError(w, http.StatusForbidden, "Unknown user type")
		return domain.Actor{}, false
	}
	return domain.Actor{ID: claims.UserID, Role: role}, true
}

func (h *RequestHandler) writeDomainError(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	}
	h.writeError(w, status, err.Error())
}

func (h *RequestHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err, "app", "request-service")
	}
}

func (h *RequestHandler) writeList(w http.ResponseWriter, requests []*domain.Request) {
	w.Header().Set("Content-Type", "application/json")
	if len(requests) == 0 {
		w.Write([]byte("[]"))
		return
	}
	json.NewEncoder(w).Encode(requests)
}

func (h *RequestHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
