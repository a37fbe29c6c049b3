// internal/domain/models/membership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Membership links a user to an organization with a role. A unique index on
// user_id keeps the one-organization-per-user invariant; concurrent
// provisioning attempts collide on it and the loser fetches the winner.
type Membership struct {
	ID             primitive.ObjectID `bson:"_id" json:"id"`
	UserID         primitive.ObjectID `bson:"user_id" json:"user_id"`
	OrganizationID primitive.ObjectID `bson:"organization_id" json:"organization_id"`
	Role           string             `bson:"role" json:"role"` // owner | member
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
