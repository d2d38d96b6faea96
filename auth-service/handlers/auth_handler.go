package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"fuelfix/auth"
	"fuelfix/auth-service/domain"
	"fuelfix/auth-service/service"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sessions last 30 days; there is no refresh flow.
const tokenTTL = 30 * 24 * time.Hour

var validate = validator.New()

// SignupPayload is the body of POST /api/signup
type SignupPayload struct {
	Name        string `json:"name" validate:"required,min=2"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	Address     string `json:"address" validate:"required"`
	PhoneNumber string `json:"phoneNumber" validate:"required"`
	UserType    string `json:"userType" validate:"required,oneof=user mechanic"`
}

// LoginPayload is the body of POST /api/login
type LoginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyPayload is the body of POST /api/verify
type VerifyPayload struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
}

// AuthHandler handles signup, login and email verification
type AuthHandler struct {
	service   *service.Service
	jwtSecret string
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(svc *service.Service, jwtSecret string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:   svc,
		jwtSecret: jwtSecret,
		tracer:    otel.Tracer("auth-service"),
		logger:    logger,
	}
}

// HealthCheck provides a health endpoint for Consul
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "HealthCheck")
	defer span.End()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Signup registers a new user or mechanic and returns a signed token
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Signup")
	defer span.End()

	var payload SignupPayload
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
	span.SetAttributes(attribute.String("userType", payload.UserType))

	identity, err := h.service.Register(ctx, service.RegisterInput{
		Name:        payload.Name,
		Email:       payload.Email,
		Password:    payload.Password,
		Address:     payload.Address,
		PhoneNumber: payload.PhoneNumber,
		UserType:    domain.UserType(payload.UserType),
	})
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}

	token, err := auth.GenerateToken(identity.ID, identity.Email, string(identity.UserType), h.jwtSecret, tokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate token")
		h.logger.Error("Failed to generate token", "identityID", identity.ID, "error", err, "app", "auth-service")
		h.writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"token":   token,
		"user":    identity,
	})
}

// Login authenticates an identity and returns a signed token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Login")
	defer span.End()

	var payload LoginPayload
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

	identity, err := h.service.Authenticate(ctx, payload.Email, payload.Password)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}

	token, err := auth.GenerateToken(identity.ID, identity.Email, string(identity.UserType), h.jwtSecret, tokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate token")
		h.logger.Error("Failed to generate token", "identityID", identity.ID, "error", err, "app", "auth-service")
		h.writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"token":   token,
		"user":    identity,
	})
}

// Profile returns the calling identity
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Profile")
	defer span.End()

	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	identity, err := h.service.Profile(ctx, claims.UserID)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	h.writeJSON(w, http.StatusOK, identity)
}

// VerifyEmail redeems an OTP
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VerifyEmail")
	defer span.End()

	var payload VerifyPayload
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

	if err := h.service.VerifyCode(ctx, payload.Email, payload.Code); err != nil {
		h.writeDomainError(w, span, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

func (h *AuthHandler) writeDomainError(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmailTaken):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidUserType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCodeInvalid), errors.Is(err, domain.ErrCodeExpired):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	h.writeError(w, status, err.Error())
}

func (h *AuthHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err, "app", "auth-service")
	}
}

func (h *AuthHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
