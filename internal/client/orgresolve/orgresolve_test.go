package orgresolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dealdesk/dealdesk/internal/client/orgcache"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const membershipBody = `{
	"organization": {
		"id": "org-1",
		"name": "ada's workspace",
		"plan": "free",
		"pipeline": {"stages": ["Lead", "Won"]}
	},
	"role": "owner"
}`

func testPolicy() Policy {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	return p
}

func newResolver(t *testing.T, url string, opts ...Option) *Resolver {
	t.Helper()
	cache := orgcache.New(zap.NewNop(), []orgcache.Tier{
		{Name: "session", Store: orgcache.NewMemoryStore()},
	})
	return New(resty.New().SetBaseURL(url), cache, testPolicy(), zap.NewNop(), opts...)
}

func TestResolve_LookupSucceeds(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/org" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		lookups.Add(1)
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	res, err := newResolver(t, srv.URL).Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Organization.ID != "org-1" || res.Role != "owner" {
		t.Errorf("result = %+v", res.Membership)
	}
	if res.FromCache || res.SetupFallback {
		t.Errorf("result flags = %+v, want plain lookup", res)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestResolve_SecondCallHitsCache(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err != nil {
		t.Fatalf("first Resolve() error: %v", err)
	}

	res, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("second Resolve() error: %v", err)
	}
	if !res.FromCache {
		t.Error("second Resolve() missed the cache")
	}
	if got := lookups.Load(); got != 1 {
		t.Errorf("lookups = %d, want 1 (cache hit must not touch the network)", got)
	}
}

func TestResolve_RetriesThroughProvisioningGap(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Provisioning lands between the second and third lookup.
		if lookups.Add(1) < 3 {
			http.Error(w, `{"error":"no organization yet"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	res, err := newResolver(t, srv.URL).Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.SetupFallback {
		t.Error("setup fallback used even though the lookup eventually succeeded")
	}
}

func TestResolve_FallsBackToSetup(t *testing.T) {
	var lookups, setups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/org":
			lookups.Add(1)
			http.Error(w, `{"error":"no organization yet"}`, http.StatusNotFound)
		case "/api/org/setup":
			setups.Add(1)
			w.Write([]byte(membershipBody))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	res, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !res.SetupFallback {
		t.Error("SetupFallback = false, want true")
	}
	if got := lookups.Load(); got != int32(testPolicy().LookupAttempts) {
		t.Errorf("lookups = %d, want exactly %d", got, testPolicy().LookupAttempts)
	}
	if got := setups.Load(); got != 1 {
		t.Errorf("setup calls = %d, want 1", got)
	}

	// The fallback result is cached like any other.
	res, err = r.Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil || !res.FromCache {
		t.Errorf("followup Resolve() = (%+v, %v), want cache hit", res, err)
	}
}

func TestResolve_BackoffIsIncreasing(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/org" {
			w.Write([]byte(membershipBody))
			return
		}
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		http.Error(w, `{"error":"no organization yet"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	cache := orgcache.New(zap.NewNop(), []orgcache.Tier{{Name: "session", Store: orgcache.NewMemoryStore()}})
	policy := testPolicy()
	policy.BaseDelay = 20 * time.Millisecond
	r := New(resty.New().SetBaseURL(srv.URL), cache, policy, zap.NewNop())

	if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != policy.LookupAttempts {
		t.Fatalf("lookup attempts = %d, want %d", len(stamps), policy.LookupAttempts)
	}
	var prev time.Duration
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < prev {
			t.Errorf("gap %d (%v) shorter than previous (%v); backoff should grow", i, gap, prev)
		}
		prev = gap
	}
}

func TestResolve_MalformedMembershipRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with no role.
		w.Write([]byte(`{"organization": {"id": "org-1", "name": "x"}}`))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	_, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if !errors.Is(err, ErrMalformedMembership) {
		t.Fatalf("Resolve() error = %v, want ErrMalformedMembership", err)
	}

	// The bad payload must not have been cached.
	if entry := r.cache.Get("user-1"); entry != nil {
		t.Errorf("malformed membership was cached: %+v", entry)
	}
}

func TestResolve_NotSignedIn(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		http.Error(w, `{"error":"not signed in"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newResolver(t, srv.URL).Resolve(context.Background(), "user-1", "ada@example.com")
	if !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("Resolve() error = %v, want ErrNotSignedIn", err)
	}
	if got := lookups.Load(); got != 1 {
		t.Errorf("lookups = %d, want 1 (401 must not be retried)", got)
	}
}

func TestResolve_BudgetExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	current := time.Now()
	r := newResolver(t, srv.URL, WithClock(func() time.Time { return current }))

	for i := 0; i < testPolicy().BudgetLimit; i++ {
		if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err == nil {
			t.Fatalf("Resolve() %d succeeded against a broken server", i)
		} else if errors.Is(err, ErrBudgetExhausted) {
			t.Fatalf("budget exhausted after %d attempts, limit is %d", i, testPolicy().BudgetLimit)
		}
	}

	_, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Resolve() error = %v, want ErrBudgetExhausted", err)
	}

	// Another user is unaffected.
	if _, err := r.Resolve(context.Background(), "user-2", "other@example.com"); errors.Is(err, ErrBudgetExhausted) {
		t.Error("budget leaked across users")
	}

	// The window slides: after it passes, attempts are allowed again.
	current = current.Add(testPolicy().BudgetWindow + time.Second)
	if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); errors.Is(err, ErrBudgetExhausted) {
		t.Error("budget did not reset after the window passed")
	}
}

func TestResolve_SuccessDoesNotConsumeBudget(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)

	// Burn all but one failure, then succeed.
	for i := 0; i < testPolicy().BudgetLimit-1; i++ {
		if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err == nil {
			t.Fatalf("Resolve() %d succeeded against a broken server", i)
		}
	}
	healthy.Store(true)
	if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err != nil {
		t.Fatalf("Resolve() error after recovery: %v", err)
	}

	// The success must not have charged the budget: a fresh network
	// resolution inside the same window still goes through.
	r.Invalidate("user-1")
	res, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want another allowed resolution", err)
	}
	if res.FromCache {
		t.Error("Resolve() served from cache after Invalidate")
	}
}

func TestResolve_ConcurrentCallsShareOneFlight(t *testing.T) {
	var lookups atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		<-release
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)

	const n = 10
	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "user-1", "ada@example.com")
		}(i)
	}

	// Let every goroutine reach the resolver before the server responds.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Resolve() %d error: %v", i, errs[i])
		}
		if results[i].Organization.ID != "org-1" {
			t.Errorf("Resolve() %d organization = %q", i, results[i].Organization.ID)
		}
	}
	if got := lookups.Load(); got != 1 {
		t.Errorf("lookups = %d, want 1 (concurrent callers must share one flight)", got)
	}
}

func TestInvalidate(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Write([]byte(membershipBody))
	}))
	defer srv.Close()

	r := newResolver(t, srv.URL)
	if _, err := r.Resolve(context.Background(), "user-1", "ada@example.com"); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	r.Invalidate("user-1")

	res, err := r.Resolve(context.Background(), "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("Resolve() after Invalidate error: %v", err)
	}
	if res.FromCache {
		t.Error("Resolve() after Invalidate still hit the cache")
	}
	if got := lookups.Load(); got != 2 {
		t.Errorf("lookups = %d, want 2", got)
	}
}
