package domain

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// IdentityRepository defines the data access methods for identities and
// verification codes.
type IdentityRepository interface {
	Create(ctx context.Context, identity *Identity) (*Identity, error)
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	MarkVerified(ctx context.Context, id string) error

	SaveVerificationCode(ctx context.Context, code *VerificationCode) error
	GetVerificationCode(ctx context.Context, email, code string) (*VerificationCode, error)
	MarkCodeUsed(ctx context.Context, id string) error
}

// MongoRepository implements the IdentityRepository interface
type MongoRepository struct {
	IdentityCollection *mongo.Collection
	CodeCollection     *mongo.Collection
}

// NewMongoRepository creates a new MongoRepository
func NewMongoRepository(client *mongo.Client) *MongoRepository {
	return &MongoRepository{
		IdentityCollection: client.Database("fuelfixdb").Collection("identities"),
		CodeCollection:     client.Database("fuelfixdb").Collection("verification_codes"),
	}
}

// EnsureIndexes creates the unique email index
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.IdentityCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// Create inserts a new identity. A duplicate email is reported as
// ErrEmailTaken whether it belongs to a user or a mechanic.
func (r *MongoRepository) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoCreateIdentity")
	defer span.End()

	_, err := r.IdentityCollection.InsertOne(ctx, identity)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to insert identity")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("identityID", identity.ID),
		attribute.String("userType", string(identity.UserType)),
	)
	return identity, nil
}

// GetByID retrieves an identity by ID
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoGetIdentityByID")
	defer span.End()

	var identity Identity
	err := r.IdentityCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&identity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find identity")
		return nil, err
	}
	span.SetAttributes(attribute.String("identityID", id))
	return &identity, nil
}

// GetByEmail retrieves an identity by email, user or mechanic
func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoGetIdentityByEmail")
	defer span.End()

	var identity Identity
	err := r.IdentityCollection.FindOne(ctx, bson.M{"email": email}).Decode(&identity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find identity")
		return nil, err
	}
	return &identity, nil
}

// MarkVerified flags an identity as email-verified
func (r *MongoRepository) MarkVerified(ctx context.Context, id string) error {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoMarkIdentityVerified")
	defer span.End()

	_, err := r.IdentityCollection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"verified": true}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark identity verified")
		return err
	}
	span.SetAttributes(attribute.String("identityID", id))
	return nil
}

// SaveVerificationCode inserts a new OTP
func (r *MongoRepository) SaveVerificationCode(ctx context.Context, code *VerificationCode) error {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoSaveVerificationCode")
	defer span.End()

	_, err := r.CodeCollection.InsertOne(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to insert verification code")
		return err
	}
	span.SetAttributes(attribute.String("codeID", code.ID))
	return nil
}

// GetVerificationCode retrieves an unused OTP for an email
func (r *MongoRepository) GetVerificationCode(ctx context.Context, email, code string) (*VerificationCode, error) {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoGetVerificationCode")
	defer span.End()

	var vc VerificationCode
	err := r.CodeCollection.FindOne(ctx, bson.M{"email": email, "code": code, "used": false}).Decode(&vc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCodeInvalid
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to find verification code")
		return nil, err
	}
	return &vc, nil
}

// MarkCodeUsed burns an OTP after redemption
func (r *MongoRepository) MarkCodeUsed(ctx context.Context, id string) error {
	_, span := otel.Tracer("auth-service").Start(ctx, "MongoMarkCodeUsed")
	defer span.End()

	_, err := r.CodeCollection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"used": true}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to mark code used")
		return err
	}
	return nil
}
