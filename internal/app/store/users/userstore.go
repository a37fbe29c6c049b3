package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dealdesk/dealdesk/internal/app/system/normalize"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	// ErrBadCredentials is returned by Authenticate for an unknown email or wrong password.
	ErrBadCredentials = errors.New("invalid email or password")
	// ErrDisabled is returned when the account exists but has been disabled.
	ErrDisabled = errors.New("account is disabled")

	errBadAuthMethod = errors.New(`auth_method must be "password"|"google"|"magic"`)
)

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email_ci": normalize.Email(email)}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user after normalizing and validating fields.
// password may be empty for google/magic accounts.
func (s *Store) Create(ctx context.Context, u models.User, password string) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.FullName = normalize.Name(u.FullName)
	u.Email = normalize.Name(u.Email)
	u.EmailCI = normalize.Email(u.Email)
	u.AuthMethod = normalize.AuthMethod(u.AuthMethod)
	u.Status = normalize.Status(u.Status)
	if u.Status == "" {
		u.Status = "active"
	}

	switch u.AuthMethod {
	case "password", "google", "magic":
		// ok
	default:
		return models.User{}, errBadAuthMethod
	}

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return models.User{}, err
		}
		u.PasswordHash = string(hash)
	}

	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return u, nil
}

// Authenticate verifies an email/password pair against the stored hash.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if u.Status == "disabled" {
		return nil, ErrDisabled
	}
	if u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// EnsureByEmail finds a user by email or creates one with the given auth
// method. Used by the OAuth and magic-link flows where the identity provider
// has already verified the address.
func (s *Store) EnsureByEmail(ctx context.Context, fullName, email, authMethod string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	created, err := s.Create(ctx, models.User{
		FullName:       fullName,
		Email:          email,
		EmailConfirmed: true,
		AuthMethod:     authMethod,
	}, "")
	if err == ErrDuplicateEmail {
		// Lost a race with a concurrent signup; the existing record wins.
		return s.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ConfirmEmail marks the user's email address as verified.
func (s *Store) ConfirmEmail(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"email_confirmed": true,
		"updated_at":      time.Now(),
	}})
	return err
}

// SetPassword replaces the stored password hash (recovery flow).
func (s *Store) SetPassword(ctx context.Context, id primitive.ObjectID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"password_hash": string(hash),
		"auth_method":   "password",
		"updated_at":    time.Now(),
	}})
	return err
}
