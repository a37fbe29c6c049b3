package sessionresolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

const sessionBody = `{
	"user": {"id": "user-1", "full_name": "Ada Lovelace", "email": "ada@example.com", "email_confirmed": true},
	"session": {"expires_at": "2030-01-01T00:00:00Z"}
}`

func newResolver(t *testing.T, url string) *Resolver {
	t.Helper()
	return New(url, 2*time.Second, zap.NewNop(),
		WithSettleDelay(0),
		WithRetryWait(time.Millisecond))
}

func TestResolve_SignedIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/session" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	sess, err := newResolver(t, srv.URL).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if sess == nil {
		t.Fatal("Resolve() = nil session for signed-in user")
	}
	if sess.User.ID != "user-1" {
		t.Errorf("user id = %q, want user-1", sess.User.ID)
	}
}

func TestResolve_SignedOutIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not signed in"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess, err := newResolver(t, srv.URL).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil for 401", err)
	}
	if sess != nil {
		t.Errorf("Resolve() = %+v, want nil session for 401", sess)
	}
}

func TestResolve_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	sess, err := newResolver(t, srv.URL).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if sess == nil || sess.User.ID != "user-1" {
		t.Fatalf("Resolve() = %+v, want recovered session", sess)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2 (original + one retry)", got)
	}
}

func TestResolve_RetriesNon2xxOtherThan401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	sess, err := newResolver(t, srv.URL).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if sess == nil || sess.User.ID != "user-1" {
		t.Fatalf("Resolve() = %+v, want recovered session", sess)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2 (429 gets the one retry)", got)
	}
}

func TestResolve_GivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newResolver(t, srv.URL).Resolve(context.Background())
	if err == nil {
		t.Fatal("Resolve() = nil error for persistent 500s")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want exactly 2", got)
	}
}

func TestResolve_DoesNotRetry401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"not signed in"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := newResolver(t, srv.URL).Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (401 must not be retried)", got)
	}
}

func TestResolve_OnSessionHookFires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	var hooked *Session
	r.OnSession = func(s *Session) { hooked = s }

	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if hooked == nil || hooked.User.ID != "user-1" {
		t.Errorf("OnSession received %+v, want the resolved session", hooked)
	}
}

func TestExchangeTokens_Session(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/exchange" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(sessionBody))
	}))
	defer srv.Close()

	sess, recovery, err := newResolver(t, srv.URL).ExchangeTokens(context.Background(), "at", "rt")
	if err != nil {
		t.Fatalf("ExchangeTokens() error: %v", err)
	}
	if recovery {
		t.Error("recovery = true for a normal token pair")
	}
	if sess == nil || sess.User.ID != "user-1" {
		t.Errorf("session = %+v, want user-1", sess)
	}
}

func TestExchangeTokens_Recovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recovery": true}`))
	}))
	defer srv.Close()

	sess, recovery, err := newResolver(t, srv.URL).ExchangeTokens(context.Background(), "at", "rt")
	if err != nil {
		t.Fatalf("ExchangeTokens() error: %v", err)
	}
	if !recovery {
		t.Error("recovery = false for a recovery pair")
	}
	if sess != nil {
		t.Errorf("session = %+v, want nil for a recovery pair", sess)
	}
}

func TestExchangeTokens_Expired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"link is invalid or has expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, _, err := newResolver(t, srv.URL).ExchangeTokens(context.Background(), "at", "rt"); err == nil {
		t.Fatal("ExchangeTokens() = nil error for an expired pair")
	}
}

func TestLoginLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			w.Write([]byte(sessionBody))
		case "/api/auth/logout":
			w.Write([]byte(`{"ok": true}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	sess, err := r.Login(context.Background(), "ada@example.com", "pw")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if sess.User.Email != "ada@example.com" {
		t.Errorf("email = %q", sess.User.Email)
	}

	if err := r.Logout(context.Background()); err != nil {
		t.Errorf("Logout() error: %v", err)
	}
}
