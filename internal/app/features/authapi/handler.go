// Package authapi implements the authentication endpoints the SPA bootstrap
// depends on: password login/signup, one-time token exchange (magic link,
// OAuth callback, recovery), the cookie session check, and logout.
package authapi

import (
	"context"
	"time"

	orgstore "github.com/dealdesk/dealdesk/internal/app/store/organizations"
	tokenstore "github.com/dealdesk/dealdesk/internal/app/store/tokens"
	userstore "github.com/dealdesk/dealdesk/internal/app/store/users"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/ratelimit"
	"github.com/dealdesk/dealdesk/internal/app/system/timeouts"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// How long a session cookie is considered valid, mirrored back to clients in
// the session payload so they can schedule refreshes.
const sessionTTL = 24 * time.Hour

var validate = validator.New()

type Handler struct {
	DB         *mongo.Database
	Log        *zap.Logger
	SessionMgr *auth.SessionManager
	Users      *userstore.Store
	Tokens     *tokenstore.Store
	Orgs       *orgstore.Store
	Limiter    *ratelimit.Limiter

	// Google OAuth configuration; empty ClientID disables the flow.
	GoogleClientID     string
	GoogleClientSecret string
	BaseURL            string // e.g. "https://app.dealdesk.io"
	FrontendURL        string // where the OAuth callback bounces tokens to
}

func NewHandler(
	db *mongo.Database,
	sessionMgr *auth.SessionManager,
	tokenExpiry time.Duration,
	googleClientID, googleClientSecret, baseURL, frontendURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		DB:                 db,
		Log:                logger,
		SessionMgr:         sessionMgr,
		Users:              userstore.New(db),
		Tokens:             tokenstore.New(db, tokenExpiry),
		Orgs:               orgstore.New(db),
		Limiter:            ratelimit.New(10, time.Minute),
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		BaseURL:            baseURL,
		FrontendURL:        frontendURL,
	}
}

// userPayload is the wire form of a verified user.
type userPayload struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// sessionPayload describes the cookie session accompanying a user.
type sessionPayload struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionResponse is returned by login, exchange, and the session check.
type sessionResponse struct {
	User    userPayload    `json:"user"`
	Session sessionPayload `json:"session"`
}

func toSessionResponse(u *models.User) sessionResponse {
	return sessionResponse{
		User: userPayload{
			ID:             u.ID.Hex(),
			FullName:       u.FullName,
			Email:          u.Email,
			EmailConfirmed: u.EmailConfirmed,
		},
		Session: sessionPayload{ExpiresAt: time.Now().Add(sessionTTL)},
	}
}

// provisionAsync creates the user's organization in the background, off the
// signup request path. The session-bootstrap client tolerates the resulting
// gap by retrying its membership lookup before falling back to the explicit
// setup endpoint.
func (h *Handler) provisionAsync(user *models.User) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Long())
		defer cancel()

		if _, _, err := h.Orgs.EnsureForUser(ctx, user.ID, user.Email); err != nil {
			h.Log.Warn("background organization provisioning failed; client will fall back to /api/org/setup",
				zap.String("user_id", user.ID.Hex()),
				zap.Error(err))
		}
	}()
}
