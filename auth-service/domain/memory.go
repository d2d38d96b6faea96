package domain

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory IdentityRepository used by tests.
type MemoryRepository struct {
	mu         sync.Mutex
	identities map[string]Identity
	codes      map[string]VerificationCode
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities: make(map[string]Identity),
		codes:      make(map[string]VerificationCode),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.identities {
		if existing.Email == identity.Email {
			return nil, ErrEmailTaken
		}
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	r.identities[identity.ID] = *identity
	return identity, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, exists := r.identities[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &identity, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, identity := range r.identities {
		if identity.Email == email {
			id := identity
			return &id, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) MarkVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, exists := r.identities[id]
	if !exists {
		return ErrNotFound
	}
	identity.Verified = true
	r.identities[id] = identity
	return nil
}

func (r *MemoryRepository) SaveVerificationCode(ctx context.Context, code *VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	r.codes[code.ID] = *code
	return nil
}

func (r *MemoryRepository) GetVerificationCode(ctx context.Context, email, code string) (*VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, vc := range r.codes {
		if vc.Email == email && vc.Code == code && !vc.Used {
			c := vc
			return &c, nil
		}
	}
	return nil, ErrCodeInvalid
}

func (r *MemoryRepository) MarkCodeUsed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, exists := r.codes[id]
	if !exists {
		return ErrCodeInvalid
	}
	code.Used = true
	r.codes[id] = code
	return nil
}
