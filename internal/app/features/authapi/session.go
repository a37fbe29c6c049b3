package authapi

import (
	"errors"
	"net/http"

	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Session handles GET /api/auth/session. A 401 means "no session": the SPA
// treats it as the signed-out state, not as an error.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	su, ok := auth.CurrentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	id, err := primitive.ObjectIDFromHex(su.ID)
	if err != nil {
		h.SessionMgr.Clear(w, r)
		respond.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	user, err := h.Users.GetByID(r.Context(), id)
	if err != nil {
		// A stale cookie for a deleted account reads as signed out.
		if errors.Is(err, mongo.ErrNoDocuments) {
			h.SessionMgr.Clear(w, r)
			respond.Error(w, http.StatusUnauthorized, "not signed in")
			return
		}
		h.Log.Error("session user lookup failed", zap.String("user_id", su.ID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, toSessionResponse(user))
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.SessionMgr.Clear(w, r); err != nil {
		h.Log.Warn("session clear failed", zap.Error(err))
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
