package authapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	json "github.com/goccy/go-json"
	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	oauthStateCookie = "dd_oauth_state"
	googleUserInfo   = "https://www.googleapis.com/oauth2/v2/userinfo"
)

func (h *Handler) googleConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.GoogleClientID,
		ClientSecret: h.GoogleClientSecret,
		RedirectURL:  h.BaseURL + "/api/auth/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// GoogleStart handles GET /api/auth/google: it stashes an anti-CSRF state
// value in a short-lived cookie and bounces the browser to Google.
func (h *Handler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.GoogleClientID == "" {
		respond.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}

	state := hex.EncodeToString(securecookie.GenerateRandomKey(16))
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		MaxAge:   int(10 * time.Minute / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.googleConfig().AuthCodeURL(state), http.StatusFound)
}

// GoogleCallback handles GET /api/auth/google/callback. It verifies state,
// exchanges the code, resolves the Google identity to a local account, mints
// a one-time token pair, and redirects to the SPA exactly the way a magic
// link does. The SPA finishes by posting the pair to /api/auth/exchange.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.GoogleClientID == "" {
		respond.Error(w, http.StatusNotFound, "google sign-in is not configured")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		respond.Error(w, http.StatusBadRequest, "oauth state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/auth/google", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		respond.Error(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	cfg := h.googleConfig()
	oauthTok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		h.Log.Warn("google code exchange failed", zap.Error(err))
		respond.Error(w, http.StatusUnauthorized, "google sign-in failed")
		return
	}

	resp, err := cfg.Client(r.Context(), oauthTok).Get(googleUserInfo)
	if err != nil {
		h.Log.Warn("google userinfo fetch failed", zap.Error(err))
		respond.Error(w, http.StatusBadGateway, "google sign-in failed")
		return
	}
	defer resp.Body.Close()

	var info struct {
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		h.Log.Warn("google userinfo decode failed", zap.Error(err))
		respond.Error(w, http.StatusBadGateway, "google sign-in failed")
		return
	}
	if info.Email == "" || !info.VerifiedEmail {
		respond.Error(w, http.StatusUnauthorized, "google account has no verified email")
		return
	}

	user, err := h.Users.EnsureByEmail(r.Context(), info.Name, info.Email, "google")
	if err != nil {
		h.Log.Error("google user ensure failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	h.provisionAsync(user)

	tok, err := h.Tokens.Mint(r.Context(), user.ID, "oauth")
	if err != nil {
		h.Log.Error("oauth token mint failed", zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	http.Redirect(w, r, h.magicLinkURL(tok), http.StatusFound)
}
