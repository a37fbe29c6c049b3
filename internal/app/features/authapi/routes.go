package authapi

import "github.com/go-chi/chi/v5"

// Routes returns the router mounted at /api/auth.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/login", h.Login)
	r.Post("/signup", h.Signup)
	r.Post("/logout", h.Logout)
	r.Post("/exchange", h.Exchange)
	r.Post("/password", h.ResetPassword)
	r.Post("/magic", h.RequestMagicLink)
	r.Post("/recovery", h.RequestRecovery)
	r.Get("/session", h.Session)

	r.Get("/google", h.GoogleStart)
	r.Get("/google/callback", h.GoogleCallback)

	return r
}
