// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents an authenticated account. Organization membership is not
// embedded here; use the memberships collection to discover a user's
// organization.
type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName       string             `bson:"full_name" json:"full_name"`
	Email          string             `bson:"email" json:"email"`
	EmailCI        string             `bson:"email_ci" json:"-"` // lowercase, trimmed
	EmailConfirmed bool               `bson:"email_confirmed" json:"email_confirmed"`
	AuthMethod     string             `bson:"auth_method,omitempty" json:"auth_method,omitempty"` // password | google | magic
	PasswordHash   string             `bson:"password_hash,omitempty" json:"-"`
	Status         string             `bson:"status,omitempty" json:"status,omitempty"` // active | disabled

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
