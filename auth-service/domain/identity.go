package domain

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUserType    = errors.New("invalid user type")
	ErrCodeInvalid        = errors.New("verification code is invalid")
	ErrCodeExpired        = errors.New("verification code has expired")
)

// UserType discriminates the two identity classes stored in the single
// identities collection. A single collection makes email uniqueness
// across users and mechanics a property of the store, not of two manual
// cross-lookups.
type UserType string

const (
	TypeUser     UserType = "user"
	TypeMechanic UserType = "mechanic"
)

func (t UserType) Valid() bool {
	return t == TypeUser || t == TypeMechanic
}

// Identity is a registered user or mechanic. Password holds the bcrypt
// hash and is never serialized to JSON.
type Identity struct {
	ID          string    `bson:"_id" json:"id"`
	Name        string    `bson:"name" json:"name"`
	Email       string    `bson:"email" json:"email"`
	Password    string    `bson:"password" json:"-"`
	Address     string    `bson:"address" json:"address"`
	PhoneNumber string    `bson:"phoneNumber" json:"phoneNumber"`
	UserType    UserType  `bson:"userType" json:"userType"`
	Verified    bool      `bson:"verified" json:"verified"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
}

// SetPassword hashes and stores the plaintext password
func (i *Identity) SetPassword(plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	i.Password = string(hash)
	return nil
}

// PasswordMatches checks a plaintext password against the stored hash
func (i *Identity) PasswordMatches(plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(i.Password), []byte(plaintext)) == nil
}

// VerificationCode is a pending email OTP
type VerificationCode struct {
	ID        string    `bson:"_id" json:"id"`
	Email     string    `bson:"email" json:"email"`
	Code      string    `bson:"code" json:"code"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	Used      bool      `bson:"used" json:"used"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Expired reports whether the code is no longer redeemable at t
func (c *VerificationCode) Expired(t time.Time) bool {
	return t.After(c.ExpiresAt)
}
