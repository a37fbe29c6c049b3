package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrTokenInvalid covers unknown, expired, and already-used tokens.
	// Callers get one error for all three so responses don't leak which
	// tokens ever existed.
	ErrTokenInvalid = errors.New("token is invalid or expired")
)

type Store struct {
	c      *mongo.Collection
	expiry time.Duration
}

func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &Store{c: db.Collection("auth_tokens"), expiry: expiry}
}

// Mint creates a one-time access/refresh token pair for the user.
// tokenType is magic, oauth, or recovery.
func (s *Store) Mint(ctx context.Context, userID primitive.ObjectID, tokenType string) (models.AuthToken, error) {
	now := time.Now()
	tok := models.AuthToken{
		ID:           primitive.NewObjectID(),
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		UserID:       userID,
		Type:         tokenType,
		ExpiresAt:    now.Add(s.expiry),
		CreatedAt:    now,
	}
	if _, err := s.c.InsertOne(ctx, tok); err != nil {
		return models.AuthToken{}, err
	}
	return tok, nil
}

// Consume atomically marks a token pair used and returns it. A token may be
// consumed exactly once; expired or reused pairs return ErrTokenInvalid.
func (s *Store) Consume(ctx context.Context, accessToken, refreshToken string) (*models.AuthToken, error) {
	now := time.Now()
	var tok models.AuthToken
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"used_at":       nil,
			"expires_at":    bson.M{"$gt": now},
		},
		bson.M{"$set": bson.M{"used_at": now}},
	).Decode(&tok)
	if err == mongo.ErrNoDocuments {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}
