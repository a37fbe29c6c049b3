// Package dealscsv implements bulk deal import from CSV uploads and CSV
// export of an organization's pipeline.
package dealscsv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	dealstore "github.com/dealdesk/dealdesk/internal/app/store/deals"
	orgstore "github.com/dealdesk/dealdesk/internal/app/store/organizations"
	"github.com/dealdesk/dealdesk/internal/app/system/auth"
	"github.com/dealdesk/dealdesk/internal/app/system/csvutil"
	"github.com/dealdesk/dealdesk/internal/app/system/respond"
	"github.com/dealdesk/dealdesk/internal/app/system/timeouts"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

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

type rowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type importResponse struct {
	Imported int        `json:"imported"`
	Rejected int        `json:"rejected"`
	Errors   []rowError `json:"errors,omitempty"`
}

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
		if errors.Is(err, orgstore.ErrNoMembership) {
			respond.Error(w, http.StatusConflict, "no organization; complete setup first")
			return nil, primitive.NilObjectID, false
		}
		h.Log.Error("membership lookup failed", zap.String("user_id", su.ID), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return nil, primitive.NilObjectID, false
	}
	return org, userID, true
}

// Import handles POST /api/deals/import. It accepts a multipart "file" field
// or a raw CSV body, reports per-row errors without failing the whole batch,
// and rejects rows whose stage is not in the organization's pipeline.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	org, userID, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, csvutil.MaxUploadSize)

	src := r.Body
	if err := r.ParseMultipartForm(csvutil.MaxUploadSize); err == nil {
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			respond.Error(w, http.StatusBadRequest, "multipart upload must include a \"file\" field")
			return
		}
		defer file.Close()
		src = file
	}

	result, err := csvutil.ParseDealsCSV(src, csvutil.DefaultParseOptions())
	if err != nil {
		if errors.Is(err, csvutil.ErrTooManyRows) {
			respond.Error(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("csv exceeds the %d row limit", csvutil.MaxRows))
			return
		}
		respond.Error(w, http.StatusBadRequest, "could not parse csv file")
		return
	}

	resp := importResponse{}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, rowError{Line: e.Line, Reason: e.Reason})
	}

	var toInsert []models.Deal
	for _, d := range result.Deals {
		if !org.Pipeline.HasStage(d.Stage) {
			resp.Errors = append(resp.Errors, rowError{
				Reason: fmt.Sprintf("unknown pipeline stage %q for deal %q", d.Stage, d.Title),
			})
			continue
		}
		toInsert = append(toInsert, models.Deal{
			OrganizationID: org.ID,
			Title:          h.sanitize.Sanitize(d.Title),
			Company:        h.sanitize.Sanitize(d.Company),
			ContactEmail:   d.ContactEmail,
			ValueCents:     d.ValueCents,
			Currency:       d.Currency,
			Stage:          d.Stage,
			Notes:          h.sanitize.Sanitize(d.Notes),
			CreatedBy:      userID,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	inserted, err := h.Deals.InsertMany(ctx, toInsert)
	if err != nil {
		h.Log.Error("deal import insert failed",
			zap.String("org_id", org.ID.Hex()),
			zap.Int("inserted", inserted),
			zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "import failed partway; re-upload remaining rows")
		return
	}

	resp.Imported = inserted
	resp.Rejected = len(resp.Errors)

	h.Log.Info("deal import finished",
		zap.String("org_id", org.ID.Hex()),
		zap.Int("imported", resp.Imported),
		zap.Int("rejected", resp.Rejected))

	respond.JSON(w, http.StatusOK, resp)
}

// Export handles GET /api/deals/export?stage=... and streams the
// organization's deals as a CSV attachment.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	org, _, ok := h.orgForRequest(w, r)
	if !ok {
		return
	}

	stage := r.URL.Query().Get("stage")
	if stage != "" && !org.Pipeline.HasStage(stage) {
		respond.Error(w, http.StatusBadRequest, "unknown pipeline stage")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	out, err := h.Deals.ListByOrg(ctx, org.ID, stage)
	if err != nil {
		h.Log.Error("deal export list failed", zap.String("org_id", org.ID.Hex()), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	rows := make([]csvutil.ParsedDeal, 0, len(out))
	for _, d := range out {
		rows = append(rows, csvutil.ParsedDeal{
			Title:        d.Title,
			Company:      d.Company,
			ContactEmail: d.ContactEmail,
			ValueCents:   d.ValueCents,
			Currency:     d.Currency,
			Stage:        d.Stage,
			Notes:        d.Notes,
		})
	}

	filename := fmt.Sprintf("deals-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := csvutil.WriteDealsCSV(w, rows); err != nil {
		h.Log.Error("deal export write failed", zap.String("org_id", org.ID.Hex()), zap.Error(err))
	}
}
