package deals_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dealdesk/dealdesk/internal/app/features/deals"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/dealdesk/dealdesk/internal/testutil"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) (*deals.Handler, *testutil.Fixtures) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return deals.NewHandler(db, zap.NewNop()), testutil.NewFixtures(t, db)
}

func ownerRequest(t *testing.T, user models.User, method, target string, body any) *http.Request {
	t.Helper()
	return testutil.NewAuthenticatedRequest(t, method, target, body, testutil.TestUser{
		ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true,
	})
}

func TestCreate(t *testing.T) {
	h, fx := newTestHandler(t)
	user, _ := fx.CreateOwner(context.Background(), "Ada Lovelace", "ada@example.com", "Analytical Engines")

	rec := httptest.NewRecorder()
	h.Create(rec, ownerRequest(t, user, "POST", "/api/deals", map[string]any{
		"title":       "Babbage contract",
		"company":     "Babbage & Co",
		"value_cents": 125000,
		"stage":       "Lead",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var deal models.Deal
	testutil.DecodeJSON(t, rec, &deal)
	if deal.Title != "Babbage contract" {
		t.Errorf("title = %q, want %q", deal.Title, "Babbage contract")
	}
	if deal.Currency != "USD" {
		t.Errorf("currency = %q, want default USD", deal.Currency)
	}
	if deal.CreatedBy != user.ID {
		t.Errorf("created_by = %s, want %s", deal.CreatedBy.Hex(), user.ID.Hex())
	}
}

func TestCreate_DefaultsToFirstStage(t *testing.T) {
	h, fx := newTestHandler(t)
	user, _ := fx.CreateOwner(context.Background(), "Ada Lovelace", "ada@example.com", "Analytical Engines")

	rec := httptest.NewRecorder()
	h.Create(rec, ownerRequest(t, user, "POST", "/api/deals", map[string]any{
		"title": "Untriaged deal",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var deal models.Deal
	testutil.DecodeJSON(t, rec, &deal)
	if deal.Stage != "Lead" {
		t.Errorf("stage = %q, want %q", deal.Stage, "Lead")
	}
}

func TestCreate_UnknownStage(t *testing.T) {
	h, fx := newTestHandler(t)
	user, _ := fx.CreateOwner(context.Background(), "Ada Lovelace", "ada@example.com", "Analytical Engines")

	rec := httptest.NewRecorder()
	h.Create(rec, ownerRequest(t, user, "POST", "/api/deals", map[string]any{
		"title": "Bad stage",
		"stage": "Daydream",
	}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("create status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreate_SanitizesMarkup(t *testing.T) {
	h, fx := newTestHandler(t)
	user, _ := fx.CreateOwner(context.Background(), "Ada Lovelace", "ada@example.com", "Analytical Engines")

	rec := httptest.NewRecorder()
	h.Create(rec, ownerRequest(t, user, "POST", "/api/deals", map[string]any{
		"title": "Deal <script>alert(1)</script>",
		"stage": "Lead",
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var deal models.Deal
	testutil.DecodeJSON(t, rec, &deal)
	if deal.Title != "Deal" {
		t.Errorf("title = %q, want script tag stripped", deal.Title)
	}
}

func TestCreate_NoOrganization(t *testing.T) {
	h, fx := newTestHandler(t)
	user := fx.CreateUser(context.Background(), "Orphan", "orphan@example.com")

	rec := httptest.NewRecorder()
	h.Create(rec, ownerRequest(t, user, "POST", "/api/deals", map[string]any{
		"title": "Too early",
		"stage": "Lead",
	}))

	if rec.Code != http.StatusConflict {
		t.Errorf("create status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestList_FiltersByStage(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, org := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	fx.CreateDeal(ctx, org.ID, "First", "Lead", 1000)
	fx.CreateDeal(ctx, org.ID, "Second", "Won", 2000)
	fx.CreateDeal(ctx, org.ID, "Third", "Lead", 3000)

	rec := httptest.NewRecorder()
	h.List(rec, ownerRequest(t, user, "GET", "/api/deals?stage=Lead", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Deals []models.Deal `json:"deals"`
		Total int           `json:"total"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	for _, d := range resp.Deals {
		if d.Stage != "Lead" {
			t.Errorf("deal %q has stage %q, want Lead", d.Title, d.Stage)
		}
	}
}

func TestList_TenantIsolation(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, _ := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	_, otherOrg := fx.CreateOwner(ctx, "Rival", "rival@example.com", "Rival Corp")
	fx.CreateDeal(ctx, otherOrg.ID, "Not yours", "Lead", 9999)

	rec := httptest.NewRecorder()
	h.List(rec, ownerRequest(t, user, "GET", "/api/deals", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total int `json:"total"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Total != 0 {
		t.Errorf("total = %d, want 0 (other tenant's deals leaked)", resp.Total)
	}
}

func TestMoveStage(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, org := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	deal := fx.CreateDeal(ctx, org.ID, "Moving deal", "Lead", 5000)

	req := ownerRequest(t, user, "POST", "/api/deals/"+deal.ID.Hex()+"/move", map[string]string{
		"stage": "Proposal",
	})
	req = testutil.WithChiURLParam(req, "dealID", deal.ID.Hex())

	rec := httptest.NewRecorder()
	h.MoveStage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var moved models.Deal
	testutil.DecodeJSON(t, rec, &moved)
	if moved.Stage != "Proposal" {
		t.Errorf("stage = %q, want Proposal", moved.Stage)
	}
}

func TestMoveStage_UnknownStage(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, org := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	deal := fx.CreateDeal(ctx, org.ID, "Moving deal", "Lead", 5000)

	req := ownerRequest(t, user, "POST", "/api/deals/"+deal.ID.Hex()+"/move", map[string]string{
		"stage": "Limbo",
	})
	req = testutil.WithChiURLParam(req, "dealID", deal.ID.Hex())

	rec := httptest.NewRecorder()
	h.MoveStage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("move status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, org := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	deal := fx.CreateDeal(ctx, org.ID, "Original title", "Lead", 5000)

	req := ownerRequest(t, user, "PATCH", "/api/deals/"+deal.ID.Hex(), map[string]any{
		"value_cents": 750000,
	})
	req = testutil.WithChiURLParam(req, "dealID", deal.ID.Hex())

	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var updated models.Deal
	testutil.DecodeJSON(t, rec, &updated)
	if updated.ValueCents != 750000 {
		t.Errorf("value_cents = %d, want 750000", updated.ValueCents)
	}
	if updated.Title != "Original title" {
		t.Errorf("title = %q, want untouched %q", updated.Title, "Original title")
	}
}

func TestDelete(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, org := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	deal := fx.CreateDeal(ctx, org.ID, "Doomed deal", "Lost", 0)

	req := ownerRequest(t, user, "DELETE", "/api/deals/"+deal.ID.Hex(), nil)
	req = testutil.WithChiURLParam(req, "dealID", deal.ID.Hex())

	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d (body %s)", rec.Code, rec.Body.String())
	}

	req = ownerRequest(t, user, "DELETE", "/api/deals/"+deal.ID.Hex(), nil)
	req = testutil.WithChiURLParam(req, "dealID", deal.ID.Hex())
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGet_CrossTenant(t *testing.T) {
	h, fx := newTestHandler(t)
	ctx := context.Background()
	user, _ := fx.CreateOwner(ctx, "Ada Lovelace", "ada@example.com", "Analytical Engines")
	_, otherOrg := fx.CreateOwner(ctx, "Rival", "rival@example.com", "Rival Corp")
	foreign := fx.CreateDeal(ctx, otherOrg.ID, "Not yours", "Lead", 9999)

	req := ownerRequest(t, user, "GET", "/api/deals/"+foreign.ID.Hex(), nil)
	req = testutil.WithChiURLParam(req, "dealID", foreign.ID.Hex())

	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant get status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
