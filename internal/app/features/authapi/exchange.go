package authapi

import (
	"errors"
	"net/http"

	tokenstore "github.com/dealdesk/dealdesk/internal/app/store/tokens"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"go.uber.org/zap"
)

type exchangeRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type resetRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
}

// Exchange handles POST /api/auth/exchange. The SPA calls it with the
// one-time token pair lifted from a magic-link or OAuth redirect URL.
// Recovery tokens are deliberately not converted into a session here: the
// client is told to show the password-reset form instead, and completes the
// flow through ResetPassword.
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "access_token and refresh_token are required")
		return
	}

	tok, err := h.Tokens.Consume(r.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		if errors.Is(err, tokenstore.ErrTokenInvalid) {
			respond.Error(w, http.StatusUnauthorized, "link is invalid or has expired")
			return
		}
		h.Log.Error("token consume failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	if tok.Type == "recovery" {
		respond.JSON(w, http.StatusOK, map[string]bool{"recovery": true})
		return
	}

	user, err := h.Users.GetByID(r.Context(), tok.UserID)
	if err != nil {
		h.Log.Error("exchange user lookup failed", zap.String("user_id", tok.UserID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusUnauthorized, "link is invalid or has expired")
		return
	}

	// Arriving via a magic link or an OAuth callback proves control of the
	// mailbox, so confirm the address as a side effect.
	if !user.EmailConfirmed {
		if err := h.Users.ConfirmEmail(r.Context(), user.ID); err != nil {
			h.Log.Warn("email confirm failed", zap.String("user_id", user.ID.Hex()), zap.Error(err))
		} else {
			user.EmailConfirmed = true
		}
	}

	if err := h.SessionMgr.SaveUser(w, r, auth.SessionUser{
		ID:             user.ID.Hex(),
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
	}); err != nil {
		h.Log.Error("session save failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, toSessionResponse(user))
}

// ResetPassword handles POST /api/auth/password. It consumes a recovery
// token pair, sets the new password, and signs the user in.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "a token pair and a password of at least 8 characters are required")
		return
	}

	tok, err := h.Tokens.Consume(r.Context(), req.AccessToken, req.RefreshToken)
	if err != nil || tok.Type != "recovery" {
		respond.Error(w, http.StatusUnauthorized, "link is invalid or has expired")
		return
	}

	if err := h.Users.SetPassword(r.Context(), tok.UserID, req.Password); err != nil {
		h.Log.Error("password reset failed", zap.String("user_id", tok.UserID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	user, err := h.Users.GetByID(r.Context(), tok.UserID)
	if err != nil {
		h.Log.Error("reset user lookup failed", zap.String("user_id", tok.UserID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	if err := h.SessionMgr.SaveUser(w, r, auth.SessionUser{
		ID:             user.ID.Hex(),
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
	}); err != nil {
		h.Log.Error("session save failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, toSessionResponse(user))
}
