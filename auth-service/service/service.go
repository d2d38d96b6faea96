package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"log/slog"

	"fuelfix/auth-service/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const codeTTL = 10 * time.Minute

// Notifier delivers verification codes out of band. The production
// implementation publishes a notification event; mail delivery is an
// external concern.
type Notifier interface {
	NotifyVerificationCode(ctx context.Context, email, code string) error
}

// RegisterInput carries the signup fields
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	Address     string
	PhoneNumber string
	UserType    domain.UserType
}

// Service implements registration, login and email verification
type Service struct {
	repo     domain.IdentityRepository
	notifier Notifier
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewService creates a new instance of the auth service. notifier may be
// nil when no notification pipeline is configured.
func NewService(repo domain.IdentityRepository, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		tracer:   otel.Tracer("auth-service"),
		logger:   logger,
	}
}

// Register creates a new identity and kicks off email verification.
// One email can hold one identity, user or mechanic.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceRegister")
	defer span.End()

	if !input.UserType.Valid() {
		err := fmt.Errorf("%w: %q", domain.ErrInvalidUserType, input.UserType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("email", input.Email),
		attribute.String("userType", string(input.UserType)),
	)

	identity := &domain.Identity{
		ID:          primitive.NewObjectID().Hex(),
		Name:        input.Name,
		Email:       input.Email,
		Address:     input.Address,
		PhoneNumber: input.PhoneNumber,
		UserType:    input.UserType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := identity.SetPassword(input.Password); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to hash password")
		s.logger.Error("Failed to hash password", "error", err, "app", "auth-service")
		return nil, err
	}

	created, err := s.repo.Create(ctx, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Registration rejected", "email", input.Email, "error", err, "app", "auth-service")
		return nil, err
	}
	s.logger.Info("Registered identity", "identityID", created.ID, "userType", string(created.UserType), "app", "auth-service")

	if _, err := s.IssueVerification(ctx, created.Email); err != nil {
		// Verification can be retried later; registration stands.
		s.logger.Error("Failed to issue verification code", "email", created.Email, "error", err, "app", "auth-service")
	}
	return created, nil
}

// Authenticate checks credentials and returns the identity. The error
// never reveals whether the email or the password was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceAuthenticate")
	defer span.End()

	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed authentication attempt", "email", email, "app", "auth-service")
			return nil, domain.ErrInvalidCredentials
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to look up identity")
		return nil, err
	}
	if !identity.PasswordMatches(password) {
		s.logger.Warn("Invalid password", "email", email, "identityID", identity.ID, "app", "auth-service")
		return nil, domain.ErrInvalidCredentials
	}

	span.SetAttributes(attribute.String("identityID", identity.ID))
	s.logger.Info("Authenticated identity", "identityID", identity.ID, "app", "auth-service")
	return identity, nil
}

// Profile returns the identity for an ID
func (s *Service) Profile(ctx context.Context, id string) (*domain.Identity, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceProfile")
	defer span.End()

	identity, err := s.repo.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to get identity")
		return nil, err
	}
	return identity, nil
}

// IssueVerification generates a fresh OTP for an email and hands it to
// the notifier
func (s *Service) IssueVerification(ctx context.Context, email string) (*domain.VerificationCode, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceIssueVerification")
	defer span.End()

	code, err := generateCode()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to generate code")
		return nil, err
	}
	vc := &domain.VerificationCode{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(codeTTL),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveVerificationCode(ctx, vc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to save verification code")
		return nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyVerificationCode(ctx, email, code); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to notify verification code")
			s.logger.Error("Failed to notify verification code", "email", email, "error", err, "app", "auth-service")
			return nil, err
		}
	}
	s.logger.Info("Issued verification code", "email", email, "codeID", vc.ID, "app", "auth-service")
	return vc, nil
}

// VerifyCode redeems an OTP and marks the identity verified
func (s *Service) VerifyCode(ctx context.Context, email, code string) error {
	ctx, span := s.tracer.Start(ctx, "ServiceVerifyCode")
	defer span.End()

	vc, err := s.repo.GetVerificationCode(ctx, email, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if vc.Expired(time.Now().UTC()) {
		return domain.ErrCodeExpired
	}
	if err := s.repo.MarkCodeUsed(ctx, vc.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark code used")
		return err
	}

	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to look up identity")
		return err
	}
	if err := s.repo.MarkVerified(ctx, identity.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark identity verified")
		return err
	}
	s.logger.Info("Verified identity", "identityID", identity.ID, "app", "auth-service")
	return nil
}

// generateCode returns a random 6-digit OTP
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
