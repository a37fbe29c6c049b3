// Package deals implements the pipeline board API: CRUD over an
// organization's deals plus the stage-move operation the kanban UI uses.
package deals

import (
	"context"
	"net/http"

	dealstore "github.com/dealdesk/dealdesk/internal/app/store/deals"
	orgstore "github.com/dealdesk/dealdesk/internal/app/store/organizations"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/app/system/timeouts"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var validate = validator.New()

type Handler struct {
	DB    *mongo.Database
	Log   *zap.Logger
	Deals *dealstore.Store
	Orgs  *orgstore.Store

	sanitize *bluemonday.Policy
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		DB:       db,
		Log:      logger,
		Deals:    dealstore.New(db),
		Orgs:     orgstore.New(db),
		sanitize: bluemonday.StrictPolicy(),
	}
}

// orgForRequest resolves the signed-in user's organization. It writes the
// error response itself and returns ok=false when resolution fails; a user
// without a membership gets a 409 so the SPA knows to re-run its bootstrap.
func (h *Handler) orgForRequest(w http.ResponseWriter, r *http.Request) (*models.Organization, primitive.ObjectID, bool) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return nil, primitive.NilObjectID, false
	}

	userID, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return nil, primitive.NilObjectID, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	org, _, err := h.Orgs.MembershipForUser(ctx, userID)
	if err != nil {
		if err == orgstore.ErrNoMembership {
			respond.Error(w, http.StatusConflict, "no organization; complete setup first")
			return nil, primitive.NilObjectID, false
		}
		h.Log.Error("membership lookup failed", zap.String("user_id", su.ID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return nil, primitive.NilObjectID, false
	}

	return org, userID, true
}

// dealID parses the {dealID} URL parameter, answering 404 on garbage so
// malformed IDs and missing deals look the same to the caller.
func dealID(w http.ResponseWriter, r *http.Request, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(param)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "deal not found")
		return primitive.NilObjectID, false
	}
	return id, true
}
