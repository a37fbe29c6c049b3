// internal/domain/models/deal.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Deal is a sales opportunity owned by an organization and tracked through
// the organization's pipeline stages.
type Deal struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrganizationID primitive.ObjectID `bson:"organization_id" json:"organization_id"`
	Title          string             `bson:"title" json:"title"`
	TitleCI        string             `bson:"title_ci" json:"-"` // lowercase, diacritics-stripped
	Company        string             `bson:"company,omitempty" json:"company,omitempty"`
	ContactEmail   string             `bson:"contact_email,omitempty" json:"contact_email,omitempty"`
	ValueCents     int64              `bson:"value_cents" json:"value_cents"`
	Currency       string             `bson:"currency" json:"currency"` // ISO 4217, e.g. "USD"
	Stage          string             `bson:"stage" json:"stage"`
	Notes          string             `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedBy      primitive.ObjectID `bson:"created_by" json:"created_by"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
