package authapi

import (
	"fmt"
	"net/http"

	"github.com/dealdesk/dealdesk/internal/app/system/ratelimit"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// magicLinkURL builds the redirect URL a mailed link lands on. The SPA lifts
// the token pair out of the fragment and posts it to /api/auth/exchange.
func (h *Handler) magicLinkURL(tok models.AuthToken) string {
	return fmt.Sprintf("%s/#access_token=%s&refresh_token=%s&type=%s",
		h.FrontendURL, tok.AccessToken, tok.RefreshToken, tok.Type)
}

// RequestMagicLink handles POST /api/auth/magic. It always answers 202 so
// the response does not reveal whether an account exists.
func (h *Handler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if !h.Limiter.Allow(ip) {
		respond.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var req emailRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	user, err := h.Users.EnsureByEmail(r.Context(), "", req.Email, "magic")
	if err != nil {
		h.Log.Error("magic link user ensure failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	tok, err := h.Tokens.Mint(r.Context(), user.ID, "magic")
	if err != nil {
		h.Log.Error("magic token mint failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	// TODO: send via the transactional mailer once that lands; for now the
	// link only appears in the log, which is enough for dev and staging.
	h.Log.Info("magic link minted",
		zap.String("user_id", user.ID.Hex()),
		zap.String("url", h.magicLinkURL(tok)))

	respond.JSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// RequestRecovery handles POST /api/auth/recovery. Unlike the magic-link
// flow it never creates an account, and it answers 202 either way.
func (h *Handler) RequestRecovery(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if !h.Limiter.Allow(ip) {
		respond.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var req emailRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	user, err := h.Users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			h.Log.Error("recovery user lookup failed", zap.Error(err))
		}
		respond.JSON(w, http.StatusAccepted, map[string]bool{"ok": true})
		return
	}

	tok, err := h.Tokens.Mint(r.Context(), user.ID, "recovery")
	if err != nil {
		h.Log.Error("recovery token mint failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	h.Log.Info("recovery link minted",
		zap.String("user_id", user.ID.Hex()),
		zap.String("url", h.magicLinkURL(tok)))

	respond.JSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}
