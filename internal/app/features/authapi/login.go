package authapi

import (
	"errors"
	"net/http"

	userstore "github.com/dealdesk/dealdesk/internal/app/store/users"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/ratelimit"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	FullName string `json:"full_name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if !h.Limiter.Allow(ip) {
		respond.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var req loginRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, userstore.ErrBadCredentials):
			respond.Error(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, userstore.ErrDisabled):
			respond.Error(w, http.StatusForbidden, "account is disabled")
		default:
			h.Log.Error("login lookup failed", zap.Error(err))
			respond.Error(w, http.StatusInternalServerError, "something went wrong")
		}
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

// Signup handles POST /api/auth/signup. On success the user is signed in
// immediately and organization provisioning starts in the background.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r)
	if !h.Limiter.Allow(ip) {
		respond.Error(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	var req signupRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "full name, email, and a password of at least 8 characters are required")
		return
	}

	user, err := h.Users.Create(r.Context(), models.User{
		FullName:   req.FullName,
		Email:      req.Email,
		AuthMethod: "password",
	}, req.Password)
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicateEmail) {
			respond.Error(w, http.StatusConflict, "an account with that email already exists")
			return
		}
		h.Log.Error("signup failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	h.provisionAsync(&user)

	if err := h.SessionMgr.SaveUser(w, r, auth.SessionUser{
		ID:             user.ID.Hex(),
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
	}); err != nil {
		h.Log.Error("session save failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusCreated, toSessionResponse(&user))
}
