package deals

import (
	"github.com/dealdesk/dealdesk/internal/app/features/dealscsv"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted at /api/deals. The CSV import/export
// handler registers here too so its endpoints live under the same prefix.
func Routes(h *Handler, csv *dealscsv.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.List)
	r.Post("/", h.Create)

	r.Post("/import", csv.Import)
	r.Get("/export", csv.Export)

	r.Route("/{dealID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/move", h.MoveStage)
	})

	return r
}
