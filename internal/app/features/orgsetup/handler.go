// Package orgsetup exposes organization membership resolution for the SPA
// bootstrap: a lookup endpoint the client polls while background provisioning
// runs, and an idempotent setup endpoint it falls back to when the lookup
// keeps coming up empty.
package orgsetup

import (
	"context"
	"errors"
	"net/http"

	orgstore "github.com/dealdesk/dealdesk/internal/app/store/organizations"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/app/system/timeouts"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var validate = validator.New()

type Handler struct {
	DB   *mongo.Database
	Log  *zap.Logger
	Orgs *orgstore.Store
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		DB:   db,
		Log:  logger,
		Orgs: orgstore.New(db),
	}
}

type orgPayload struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Plan     string                  `json:"plan"`
	Pipeline models.PipelineTemplate `json:"pipeline"`
}

// membershipResponse always carries both fields on success; the client
// treats a 2xx with either one missing as a malformed response.
type membershipResponse struct {
	Organization orgPayload `json:"organization"`
	Role         string     `json:"role"`
}

func toMembershipResponse(org *models.Organization, role string) membershipResponse {
	return membershipResponse{
		Organization: orgPayload{
			ID:       org.ID.Hex(),
			Name:     org.Name,
			Plan:     org.Plan,
			Pipeline: org.Pipeline,
		},
		Role: role,
	}
}

// Lookup handles GET /api/org. It answers 404 while the user has no
// membership yet, which the bootstrap client retries over.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	userID, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	org, role, err := h.Orgs.MembershipForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, orgstore.ErrNoMembership) {
			respond.Error(w, http.StatusNotFound, "no organization yet")
			return
		}
		h.Log.Error("membership lookup failed", zap.String("user_id", su.ID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, toMembershipResponse(org, role))
}

type setupRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
}

// Setup handles POST /api/org/setup. It is safe to call repeatedly and
// concurrently with background provisioning: whoever creates the membership
// first wins and everyone gets the same organization back.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var req setupRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "user_id and email are required")
		return
	}

	// Setup only provisions for the cookie's own user.
	if req.UserID != su.ID {
		respond.Error(w, http.StatusForbidden, "cannot set up another user's organization")
		return
	}

	userID, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	// Provisioning touches organizations and memberships in one go.
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	org, role, err := h.Orgs.EnsureForUser(ctx, userID, req.Email)
	if err != nil {
		h.Log.Error("organization setup failed", zap.String("user_id", su.ID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, toMembershipResponse(org, role))
}
