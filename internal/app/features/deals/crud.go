package deals

import (
	"context"
	"net/http"

	dealstore "github.com/dealdesk/dealdesk/internal/app/store/deals"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/app/system/timeouts"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type createRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Company      string `json:"company" validate:"max=200"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
	ValueCents   int64  `json:"value_cents" validate:"gte=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
	Stage        string `json:"stage"`
	Notes        string `json:"notes" validate:"max=10000"`
}

type updateRequest struct {
	Title        *string `json:"title" validate:"omitempty,max=200"`
	Company      *string `json:"company" validate:"omitempty,max=200"`
	ContactEmail *string `json:"contact_email" validate:"omitempty,email"`
	ValueCents   *int64  `json:"value_cents" validate:"omitempty,gte=0"`
	Currency     *string `json:"currency" validate:"omitempty,len=3"`
	Notes        *string `json:"notes" validate:"omitempty,max=10000"`
}

type moveRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type listResponse struct {
	Deals []models.Deal `json:"deals"`
	Total int           `json:"total"`
}

// List handles GET /api/deals?stage=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}

	stage := r.URL.Query().Get("stage")
	if stage != "" && !org.Pipeline.HasStage(stage) {
		respond.Error(w, http.StatusBadRequest, "unknown pipeline stage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	out, err := h.Deals.ListByOrg(ctx, org.ID, stage)
	if err != nil {
		h.Log.Error("deal list failed", zap.String("org_id", org.ID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	if out == nil {
		out = []models.Deal{}
	}

	respond.JSON(w, http.StatusOK, listResponse{Deals: out, Total: len(out)})
}

// Create handles POST /api/deals. The stage defaults to the pipeline's first
// stage when omitted.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	org, userID, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}

	var req createRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid deal fields")
		return
	}

	if req.Stage == "" && len(org.Pipeline.Stages) > 0 {
		req.Stage = org.Pipeline.Stages[0]
	}
	if !org.Pipeline.HasStage(req.Stage) {
		respond.Error(w, http.StatusBadRequest, "unknown pipeline stage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	deal, err := h.Deals.Create(ctx, models.Deal{
		OrganizationID: org.ID,
		Title:          h.sanitize.Sanitize(req.Title),
		Company:        h.sanitize.Sanitize(req.Company),
		ContactEmail:   req.ContactEmail,
		ValueCents:     req.ValueCents,
		Currency:       req.Currency,
		Stage:          req.Stage,
		Notes:          h.sanitize.Sanitize(req.Notes),
		CreatedBy:      userID,
	})
	if err != nil {
		h.Log.Error("deal create failed", zap.String("org_id", org.ID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusBadRequest, "could not create deal")
		return
	}

	respond.JSON(w, http.StatusCreated, deal)
}

// Get handles GET /api/deals/{dealID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}
	id, ok := dealID(w, r, chi.URLParam(r, "dealID"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	deal, err := h.Deals.GetByID(ctx, org.ID, id)
	if err != nil {
		if err == dealstore.ErrNotFound {
			respond.Error(w, http.StatusNotFound, "deal not found")
			return
		}
		h.Log.Error("deal get failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respond.JSON(w, http.StatusOK, deal)
}

// Update handles PATCH /api/deals/{dealID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}
	id, ok := dealID(w, r, chi.URLParam(r, "dealID"))
	if !ok {
		return
	}

	var req updateRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid deal fields")
		return
	}

	upd := dealstore.Update{
		ContactEmail: req.ContactEmail,
		ValueCents:   req.ValueCents,
		Currency:     req.Currency,
	}
	if req.Title != nil {
		clean := h.sanitize.Sanitize(*req.Title)
		upd.Title = &clean
	}
	if req.Company != nil {
		clean := h.sanitize.Sanitize(*req.Company)
		upd.Company = &clean
	}
	if req.Notes != nil {
		clean := h.sanitize.Sanitize(*req.Notes)
		upd.Notes = &clean
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Deals.Update(ctx, org.ID, id, upd); err != nil {
		if err == dealstore.ErrNotFound {
			respond.Error(w, http.StatusNotFound, "deal not found")
			return
		}
		h.Log.Error("deal update failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusBadRequest, "could not update deal")
		return
	}

	deal, err := h.Deals.GetByID(ctx, org.ID, id)
	if err != nil {
		h.Log.Error("deal reload failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respond.JSON(w, http.StatusOK, deal)
}

// MoveStage handles POST /api/deals/{dealID}/move.
func (h *Handler) MoveStage(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}
	id, ok := dealID(w, r, chi.URLParam(r, "dealID"))
	if !ok {
		return
	}

	var req moveRequest
	if !respond.Decode(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil || !org.Pipeline.HasStage(req.Stage) {
		respond.Error(w, http.StatusBadRequest, "unknown pipeline stage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Deals.MoveStage(ctx, org.ID, id, req.Stage); err != nil {
		if err == dealstore.ErrNotFound {
			respond.Error(w, http.StatusNotFound, "deal not found")
			return
		}
		h.Log.Error("deal move failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	deal, err := h.Deals.GetByID(ctx, org.ID, id)
	if err != nil {
		h.Log.Error("deal reload failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	respond.JSON(w, http.StatusOK, deal)
}

// Delete handles DELETE /api/deals/{dealID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}
	id, ok := dealID(w, r, chi.URLParam(r, "dealID"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	n, err := h.Deals.Delete(ctx, org.ID, id)
	if err != nil {
		h.Log.Error("deal delete failed", zap.String("deal_id", id.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	if n == 0 {
		respond.Error(w, http.StatusNotFound, "deal not found")
		return
	}

	respond.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
