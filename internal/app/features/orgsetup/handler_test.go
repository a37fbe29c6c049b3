package orgsetup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dealdesk/dealdesk/internal/app/features/orgsetup"
	"github.com/dealdesk/dealdesk/internal/app/system/indexes"
	"github.com/dealdesk/dealdesk/internal/testutil"
	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) *orgsetup.Handler {
	t.Helper()
	db := testutil.SetupTestDB(t)
	if err := indexes.EnsureAll(context.Background(), db, zap.NewNop()); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}
	return orgsetup.NewHandler(db, zap.NewNop())
}

type membershipResp struct {
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Plan string `json:"plan"`
		Pipeline struct {
			Stages []string `json:"stages"`
		} `json:"pipeline"`
	} `json:"organization"`
	Role string `json:"role"`
}

func TestLookup_NoMembership(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user := fx.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")

	req := testutil.NewAuthenticatedRequest(t, "GET", "/api/org", nil, testutil.TestUser{
		ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true,
	})
	rec := httptest.NewRecorder()
	h.Lookup(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("lookup status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestLookup_WithMembership(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user, org := fx.CreateOwner(context.Background(), "Ada Lovelace", "ada@example.com", "Analytical Engines")

	req := testutil.NewAuthenticatedRequest(t, "GET", "/api/org", nil, testutil.TestUser{
		ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true,
	})
	rec := httptest.NewRecorder()
	h.Lookup(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp membershipResp
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Organization.ID != org.ID.Hex() {
		t.Errorf("organization id = %q, want %q", resp.Organization.ID, org.ID.Hex())
	}
	if resp.Role != "owner" {
		t.Errorf("role = %q, want %q", resp.Role, "owner")
	}
}

func TestSetup_CreatesOrganization(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user := fx.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")

	body := map[string]string{"user_id": user.ID.Hex(), "email": user.Email}
	req := testutil.NewAuthenticatedRequest(t, "POST", "/api/org/setup", body, testutil.TestUser{
		ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true,
	})
	rec := httptest.NewRecorder()
	h.Setup(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp membershipResp
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Organization.ID == "" || resp.Organization.Name == "" {
		t.Errorf("setup response missing organization fields: %+v", resp.Organization)
	}
	if resp.Organization.Name != "ada's workspace" {
		t.Errorf("organization name = %q, want %q", resp.Organization.Name, "ada's workspace")
	}
	if resp.Role != "owner" {
		t.Errorf("role = %q, want %q", resp.Role, "owner")
	}
	if len(resp.Organization.Pipeline.Stages) == 0 {
		t.Error("setup response organization has no pipeline stages")
	}
}

func TestSetup_Idempotent(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user := fx.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")

	tu := testutil.TestUser{ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true}
	body := map[string]string{"user_id": user.ID.Hex(), "email": user.Email}

	var first membershipResp
	rec := httptest.NewRecorder()
	h.Setup(rec, testutil.NewAuthenticatedRequest(t, "POST", "/api/org/setup", body, tu))
	if rec.Code != http.StatusOK {
		t.Fatalf("first setup status = %d (body %s)", rec.Code, rec.Body.String())
	}
	testutil.DecodeJSON(t, rec, &first)

	var second membershipResp
	rec = httptest.NewRecorder()
	h.Setup(rec, testutil.NewAuthenticatedRequest(t, "POST", "/api/org/setup", body, tu))
	if rec.Code != http.StatusOK {
		t.Fatalf("second setup status = %d (body %s)", rec.Code, rec.Body.String())
	}
	testutil.DecodeJSON(t, rec, &second)

	if first.Organization.ID != second.Organization.ID {
		t.Errorf("repeated setup created a new organization: %q then %q",
			first.Organization.ID, second.Organization.ID)
	}
}

func TestSetup_ConcurrentCallsShareOneOrganization(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user := fx.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")

	tu := testutil.TestUser{ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true}
	body := map[string]string{"user_id": user.ID.Hex(), "email": user.Email}

	const n = 8
	results := make([]membershipResp, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.Setup(rec, testutil.NewAuthenticatedRequest(t, "POST", "/api/org/setup", body, tu))
			if rec.Code == http.StatusOK {
				_ = json.Unmarshal(rec.Body.Bytes(), &results[i])
			}
		}(i)
	}
	wg.Wait()

	var orgID string
	for i, r := range results {
		if r.Organization.ID == "" {
			continue
		}
		if orgID == "" {
			orgID = r.Organization.ID
		} else if r.Organization.ID != orgID {
			t.Errorf("call %d resolved organization %q, others resolved %q", i, r.Organization.ID, orgID)
		}
	}
	if orgID == "" {
		t.Fatal("no concurrent setup call succeeded")
	}

	count, err := h.DB.Collection("organizations").CountDocuments(context.Background(), bson.M{})
	if err != nil {
		t.Fatalf("count organizations: %v", err)
	}
	if count != 1 {
		t.Errorf("organizations in database = %d, want 1", count)
	}
}

func TestSetup_RejectsOtherUser(t *testing.T) {
	h := newTestHandler(t)
	fx := testutil.NewFixtures(t, h.DB)
	user := fx.CreateUser(context.Background(), "Ada Lovelace", "ada@example.com")
	other := fx.CreateUser(context.Background(), "Mallory", "mallory@example.com")

	body := map[string]string{"user_id": other.ID.Hex(), "email": other.Email}
	req := testutil.NewAuthenticatedRequest(t, "POST", "/api/org/setup", body, testutil.TestUser{
		ID: user.ID.Hex(), Email: user.Email, EmailConfirmed: true,
	})
	rec := httptest.NewRecorder()
	h.Setup(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("setup status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t)
	if orgsetup.Routes(h) == nil {
		t.Fatal("Routes() returned nil")
	}
}
