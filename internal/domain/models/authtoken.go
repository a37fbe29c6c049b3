// internal/domain/models/authtoken.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthToken is a one-time credential pair minted by a login flow (magic
// link, OAuth callback, password recovery) and consumed exactly once by the
// session-exchange endpoint.
type AuthToken struct {
	ID           primitive.ObjectID `bson:"_id" json:"-"`
	AccessToken  string             `bson:"access_token" json:"access_token"`
	RefreshToken string             `bson:"refresh_token" json:"refresh_token"`
	UserID       primitive.ObjectID `bson:"user_id" json:"-"`
	Type         string             `bson:"type" json:"type"` // magic | oauth | recovery
	ExpiresAt    time.Time          `bson:"expires_at" json:"-"`
	UsedAt       *time.Time         `bson:"used_at,omitempty" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"-"`
}
