package service

import (
	"context"
	"io"
	"testing"
	"time"

	"log/slog"

	"fuelfix/auth-service/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures delivered codes instead of publishing them
type recordingNotifier struct {
	codes map[string]string
}

func (n *recordingNotifier) NotifyVerificationCode(ctx context.Context, email, code string) error {
	if n.codes == nil {
		n.codes = make(map[string]string)
	}
	n.codes[email] = code
	return nil
}

func testService() (*Service, *domain.MemoryRepository, *recordingNotifier) {
	repo := domain.NewMemoryRepository()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, notifier, logger), repo, notifier
}

func registerInput(email string, userType domain.UserType) RegisterInput {
	return RegisterInput{
		Name:        "Jamie",
		Email:       email,
		Password:    "s3cret-pass",
		Address:     "12 Main St",
		PhoneNumber: "555-0100",
		UserType:    userType,
	}
}

func TestRegisterCreatesIdentity(t *testing.T) {
	svc, repo, notifier := testService()

	identity, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)
	assert.NotEmpty(t, identity.ID)
	assert.Equal(t, domain.TypeUser, identity.UserType)
	assert.False(t, identity.Verified)
	assert.NotEqual(t, "s3cret-pass", identity.Password, "password must be stored hashed")

	stored, err := repo.GetByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, stored.ID)

	// registration issues a verification code
	code, ok := notifier.codes["a@example.com"]
	require.True(t, ok)
	assert.Len(t, code, 6)
}

func TestRegisterRejectsUnknownUserType(t *testing.T) {
	svc, _, _ := testService()

	_, err := svc.Register(context.Background(), registerInput("a@example.com", "admin"))
	assert.ErrorIs(t, err, domain.ErrInvalidUserType)
}

// One email holds one identity, regardless of user type.
func TestRegisterEmailUniqueAcrossUserTypes(t *testing.T) {
	svc, _, _ := testService()

	_, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), registerInput("a@example.com", domain.TypeMechanic))
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := testService()
	registered, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeMechanic))
	require.NoError(t, err)

	identity, err := svc.Authenticate(context.Background(), "a@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, identity.ID)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	svc, _, _ := testService()
	_, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	_, wrongPassword := svc.Authenticate(context.Background(), "a@example.com", "wrong")
	_, unknownEmail := svc.Authenticate(context.Background(), "b@example.com", "s3cret-pass")

	assert.ErrorIs(t, wrongPassword, domain.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, domain.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestProfile(t *testing.T) {
	svc, _, _ := testService()
	registered, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	identity, err := svc.Profile(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", identity.Email)

	_, err = svc.Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyCodeFlow(t *testing.T) {
	svc, repo, notifier := testService()
	registered, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	code := notifier.codes["a@example.com"]
	require.NoError(t, svc.VerifyCode(context.Background(), "a@example.com", code))

	identity, err := repo.GetByID(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.True(t, identity.Verified)

	// a redeemed code cannot be reused
	err = svc.VerifyCode(context.Background(), "a@example.com", code)
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
}

func TestVerifyCodeRejectsWrongCode(t *testing.T) {
	svc, _, _ := testService()
	_, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	err = svc.VerifyCode(context.Background(), "a@example.com", "000000")
	if err == nil {
		t.Skip("generated code collided with the probe value")
	}
	assert.ErrorIs(t, err, domain.ErrCodeInvalid)
}

func TestVerifyCodeRejectsExpiredCode(t *testing.T) {
	svc, repo, _ := testService()
	_, err := svc.Register(context.Background(), registerInput("a@example.com", domain.TypeUser))
	require.NoError(t, err)

	expired := &domain.VerificationCode{
		ID:        "code-1",
		Email:     "b@example.com",
		Code:      "123456",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, repo.SaveVerificationCode(context.Background(), expired))

	err = svc.VerifyCode(context.Background(), "b@example.com", "123456")
	assert.ErrorIs(t, err, domain.ErrCodeExpired)
}

func TestGenerateCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, c := range code {
			assert.GreaterOrEqual(t, c, '0')
			assert.LessOrEqual(t, c, '9')
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "codes should not be constant")
}
