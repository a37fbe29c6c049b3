// internal/domain/models/organization.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Organization is a tenant: it owns deals, members, and a pipeline template.
// Exactly one organization exists per user in the common case; it is created
// lazily on first login and never deleted by the application.
type Organization struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Name     string             `bson:"name" json:"name"`
	NameCI   string             `bson:"name_ci" json:"-"` // lowercase, diacritics-stripped
	Plan     string             `bson:"plan" json:"plan"` // free | starter | growth
	Pipeline PipelineTemplate   `bson:"pipeline" json:"pipeline"`
	Status   string             `bson:"status" json:"status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
