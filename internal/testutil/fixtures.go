package testutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetupTestDB connects to the Mongo instance named by DEALDESK_TEST_MONGO_URI
// and returns a database with a per-test name that is dropped on cleanup.
// Tests that need a real database are skipped when the variable is unset.
func SetupTestDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("DEALDESK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DEALDESK_TEST_MONGO_URI not set; skipping database test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}

	db := client.Database(fmt.Sprintf("dealdesk_test_%s", primitive.NewObjectID().Hex()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	return db
}

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser inserts a test user and returns it with its generated ID.
func (f *Fixtures) CreateUser(ctx context.Context, fullName, email string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:             primitive.NewObjectID(),
		FullName:       fullName,
		Email:          email,
		EmailCI:        text.Fold(email),
		EmailConfirmed: true,
		AuthMethod:     "password",
		Status:         "active",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateOrganization inserts a test organization with the default pipeline.
func (f *Fixtures) CreateOrganization(ctx context.Context, name string) models.Organization {
	f.t.Helper()

	now := time.Now().UTC()
	org := models.Organization{
		ID:        primitive.NewObjectID(),
		Name:      name,
		NameCI:    text.Fold(name),
		Plan:      "free",
		Pipeline:  models.DefaultPipeline(),
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := f.db.Collection("organizations").InsertOne(ctx, org); err != nil {
		f.t.Fatalf("failed to create test organization: %v", err)
	}
	return org
}

// CreateMembership links a user to an organization with the given role.
func (f *Fixtures) CreateMembership(ctx context.Context, userID, orgID primitive.ObjectID, role string) models.Membership {
	f.t.Helper()

	m := models.Membership{
		ID:             primitive.NewObjectID(),
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := f.db.Collection("memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
	return m
}

// CreateOwner creates a user plus an organization owned by that user.
func (f *Fixtures) CreateOwner(ctx context.Context, fullName, email, orgName string) (models.User, models.Organization) {
	f.t.Helper()

	user := f.CreateUser(ctx, fullName, email)
	org := f.CreateOrganization(ctx, orgName)
	f.CreateMembership(ctx, user.ID, org.ID, "owner")
	return user, org
}

// CreateDeal inserts a test deal in the given organization.
func (f *Fixtures) CreateDeal(ctx context.Context, orgID primitive.ObjectID, title, stage string, valueCents int64) models.Deal {
	f.t.Helper()

	now := time.Now().UTC()
	deal := models.Deal{
		ID:             primitive.NewObjectID(),
		OrganizationID: orgID,
		Title:          title,
		TitleCI:        text.Fold(title),
		ValueCents:     valueCents,
		Currency:       "USD",
		Stage:          stage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := f.db.Collection("deals").InsertOne(ctx, deal); err != nil {
		f.t.Fatalf("failed to create test deal: %v", err)
	}
	return deal
}
