package orgsetup

import (
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted at /api/org. Everything here requires a
// signed-in session.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.Lookup)
	r.Post("/setup", h.Setup)

	return r
}
