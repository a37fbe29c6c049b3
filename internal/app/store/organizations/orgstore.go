package orgstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dealdesk/dealdesk/internal/app/system/normalize"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNoMembership is returned when the user has no organization yet.
var ErrNoMembership = errors.New("user has no organization membership")

type Store struct {
	orgs        *mongo.Collection
	memberships *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		orgs:        db.Collection("organizations"),
		memberships: db.Collection("memberships"),
	}
}

// GetByID loads an organization by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Organization, error) {
	var o models.Organization
	if err := s.orgs.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

// MembershipForUser resolves the user's organization and role.
// Returns ErrNoMembership when the user is not assigned to any organization,
// which happens briefly after signup while provisioning is still running.
func (s *Store) MembershipForUser(ctx context.Context, userID primitive.ObjectID) (*models.Organization, string, error) {
	var m models.Membership
	err := s.memberships.FindOne(ctx, bson.M{"user_id": userID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, "", ErrNoMembership
	}
	if err != nil {
		return nil, "", err
	}

	org, err := s.GetByID(ctx, m.OrganizationID)
	if err != nil {
		return nil, "", err
	}
	return org, m.Role, nil
}

// EnsureForUser returns the user's organization, creating it (with an owner
// membership) on first login.
//
// Creation must be idempotent: the signup trigger and the setup endpoint can
// both try to provision the same user concurrently. The unique index on
// memberships.user_id arbitrates — whoever inserts second gets a duplicate
// key error, discards their freshly inserted organization, and re-reads the
// winner's membership.
func (s *Store) EnsureForUser(ctx context.Context, userID primitive.ObjectID, email string) (*models.Organization, string, error) {
	org, role, err := s.MembershipForUser(ctx, userID)
	if err == nil {
		return org, role, nil
	}
	if err != ErrNoMembership {
		return nil, "", err
	}

	now := time.Now()
	created := models.Organization{
		ID:        primitive.NewObjectID(),
		Name:      workspaceName(email),
		Plan:      "free",
		Pipeline:  models.DefaultPipeline(),
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	created.NameCI = text.Fold(created.Name)

	if _, err := s.orgs.InsertOne(ctx, created); err != nil {
		return nil, "", err
	}

	membership := models.Membership{
		ID:             primitive.NewObjectID(),
		UserID:         userID,
		OrganizationID: created.ID,
		Role:           "owner",
		CreatedAt:      now,
	}
	if _, err := s.memberships.InsertOne(ctx, membership); err != nil {
		if wafflemongo.IsDup(err) {
			// Lost the provisioning race. Remove the orphan organization and
			// return whatever the winner created.
			_, _ = s.orgs.DeleteOne(ctx, bson.M{"_id": created.ID})
			return s.MembershipForUser(ctx, userID)
		}
		return nil, "", err
	}

	return &created, "owner", nil
}

// UpdatePipeline replaces the organization's pipeline template.
func (s *Store) UpdatePipeline(ctx context.Context, orgID primitive.ObjectID, p models.PipelineTemplate) error {
	_, err := s.orgs.UpdateOne(ctx, bson.M{"_id": orgID}, bson.M{"$set": bson.M{
		"pipeline":   p,
		"updated_at": time.Now(),
	}})
	return err
}

// workspaceName derives a default organization name from the owner's email.
func workspaceName(email string) string {
	local := normalize.Email(email)
	if at := strings.Index(local, "@"); at > 0 {
		local = local[:at]
	}
	if local == "" {
		return "My Workspace"
	}
	return local + "'s workspace"
}
