// Package orgresolve resolves the signed-in user's organization membership,
// the slow half of the SPA bootstrap.
//
// Resolution order: cache, then a retried membership lookup (provisioning
// runs in the background server-side, so the first lookups after signup can
// legitimately come up empty), then the idempotent setup endpoint as a last
// resort. Concurrent resolutions for the same user collapse into one flight,
// and a per-user attempt budget stops a broken backend from being hammered.
package orgresolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dealdesk/dealdesk/internal/client/orgcache"
	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrBudgetExhausted means this user burned all resolution attempts in
	// the current window; the caller should surface the degraded state
	// instead of trying again.
	ErrBudgetExhausted = errors.New("organization resolution budget exhausted")

	// ErrNotSignedIn means the membership endpoints answered 401.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrMalformedMembership means the server answered 2xx but the payload
	// was missing the organization or the role.
	ErrMalformedMembership = errors.New("membership response missing organization or role")
)

// Policy holds the resolver's tunables. The zero value is not valid; start
// from DefaultPolicy.
type Policy struct {
	// LookupAttempts caps membership lookups per resolution. Waits between
	// attempts grow exponentially from BaseDelay.
	LookupAttempts int
	BaseDelay      time.Duration

	// BudgetLimit resolutions may start per user per BudgetWindow.
	BudgetLimit  int
	BudgetWindow time.Duration
}

// DefaultPolicy returns the production policy: five lookups 100ms apart
// doubling, three resolutions per user per minute.
func DefaultPolicy() Policy {
	return Policy{
		LookupAttempts: 5,
		BaseDelay:      100 * time.Millisecond,
		BudgetLimit:    3,
		BudgetWindow:   60 * time.Second,
	}
}

// Membership is a resolved organization assignment.
type Membership struct {
	Organization orgcache.Organization
	Role         string
}

// Result carries the membership plus how it was obtained.
type Result struct {
	Membership

	FromCache     bool
	SetupFallback bool
	Attempts      int
}

// Resolver resolves memberships. Safe for concurrent use.
type Resolver struct {
	http   *resty.Client
	cache  *orgcache.Cache
	policy Policy
	log    *zap.Logger

	flight singleflight.Group
	budget *attemptBudget
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClock injects the budget's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.budget.now = now }
}

// New builds a Resolver that shares httpClient (and its cookie jar) with the
// session stage.
func New(httpClient *resty.Client, cache *orgcache.Cache, policy Policy, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		http:   httpClient,
		cache:  cache,
		policy: policy,
		log:    logger,
		budget: newAttemptBudget(policy.BudgetLimit, policy.BudgetWindow),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user's membership. The fast path is a cache hit, which
// costs no network and no budget. On a miss, concurrent callers for the same
// user share a single network resolution and all receive its result.
func (r *Resolver) Resolve(ctx context.Context, userID, email string) (Result, error) {
	if entry := r.cache.Get(userID); entry != nil {
		return Result{
			Membership: Membership{Organization: entry.Organization, Role: entry.Role},
			FromCache:  true,
		}, nil
	}

	v, err, _ := r.flight.Do(userID, func() (any, error) {
		return r.resolveSlow(ctx, userID, email)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Invalidate drops the user's cached membership so the next Resolve goes to
// the network.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Clear(userID)
}

func (r *Resolver) resolveSlow(ctx context.Context, userID, email string) (Result, error) {
	// Re-check under the flight: a racing resolution may have filled the
	// cache while this caller queued.
	if entry := r.cache.Get(userID); entry != nil {
		return Result{
			Membership: Membership{Organization: entry.Organization, Role: entry.Role},
			FromCache:  true,
		}, nil
	}

	if r.budget.exhausted(userID) {
		r.log.Warn("resolution budget exhausted", zap.String("user_id", userID))
		return Result{}, ErrBudgetExhausted
	}

	m, attempts, err := r.lookupWithRetry(ctx)
	if err == nil {
		r.cache.Put(userID, orgcache.Entry{Organization: m.Organization, Role: m.Role})
		return Result{Membership: m, Attempts: attempts}, nil
	}
	if !errors.Is(err, errNoMembershipYet) {
		r.budget.recordFailure(userID)
		return Result{}, err
	}

	// Provisioning never landed; create the organization ourselves.
	r.log.Info("membership lookup exhausted, falling back to setup",
		zap.String("user_id", userID),
		zap.Int("attempts", attempts))

	m, err = r.setup(ctx, userID, email)
	if err != nil {
		r.budget.recordFailure(userID)
		return Result{}, err
	}

	r.cache.Put(userID, orgcache.Entry{Organization: m.Organization, Role: m.Role})
	return Result{Membership: m, Attempts: attempts, SetupFallback: true}, nil
}

// errNoMembershipYet marks a lookup that returned 404 on every attempt.
var errNoMembershipYet = errors.New("no membership yet")

func (r *Resolver) lookupWithRetry(ctx context.Context) (Membership, int, error) {
	attempts := 0
	var m Membership

	backoff := retry.WithMaxRetries(uint64(r.policy.LookupAttempts-1), retry.NewExponential(r.policy.BaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		resp, err := r.http.R().SetContext(ctx).Get("/api/org")
		if err != nil {
			return retry.RetryableError(fmt.Errorf("membership lookup: %w", err))
		}

		switch {
		case resp.StatusCode() == http.StatusOK:
			m, err = decodeMembership(resp.Body())
			return err
		case resp.StatusCode() == http.StatusNotFound:
			return retry.RetryableError(errNoMembershipYet)
		case resp.StatusCode() == http.StatusUnauthorized:
			return ErrNotSignedIn
		case resp.StatusCode() >= http.StatusInternalServerError:
			return retry.RetryableError(fmt.Errorf("membership lookup: status %d", resp.StatusCode()))
		default:
			return fmt.Errorf("membership lookup: unexpected status %d", resp.StatusCode())
		}
	})

	return m, attempts, err
}

func (r *Resolver) setup(ctx context.Context, userID, email string) (Membership, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"user_id": userID, "email": email}).
		Post("/api/org/setup")
	if err != nil {
		return Membership{}, fmt.Errorf("organization setup: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return Membership{}, ErrNotSignedIn
	case resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices:
		return Membership{}, fmt.Errorf("organization setup: unexpected status %d", resp.StatusCode())
	}

	return decodeMembership(resp.Body())
}

type membershipPayload struct {
	Organization struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Plan     string `json:"plan"`
		Pipeline struct {
			Stages []string `json:"stages"`
		} `json:"pipeline"`
	} `json:"organization"`
	Role string `json:"role"`
}

// decodeMembership rejects 2xx bodies missing the organization or role; a
// half-empty membership cached as good data is worse than a failed
// resolution.
func decodeMembership(body []byte) (Membership, error) {
	var p membershipPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Membership{}, fmt.Errorf("decode membership: %w", err)
	}
	if p.Organization.ID == "" || p.Organization.Name == "" || p.Role == "" {
		return Membership{}, ErrMalformedMembership
	}

	return Membership{
		Organization: orgcache.Organization{
			ID:     p.Organization.ID,
			Name:   p.Organization.Name,
			Plan:   p.Organization.Plan,
			Stages: p.Organization.Pipeline.Stages,
		},
		Role: p.Role,
	}, nil
}

// attemptBudget is a per-user sliding window over failed resolutions. A
// success costs nothing; only failures accumulate toward the limit.
type attemptBudget struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func newAttemptBudget(limit int, window time.Duration) *attemptBudget {
	return &attemptBudget{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (b *attemptBudget) exhausted(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prune(userID)) >= b.limit
}

func (b *attemptBudget) recordFailure(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[userID] = append(b.prune(userID), b.now())
}

// prune drops events outside the window. Caller holds b.mu.
func (b *attemptBudget) prune(userID string) []time.Time {
	cutoff := b.now().Add(-b.window)
	kept := b.events[userID][:0]
	for _, ts := range b.events[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.events[userID] = kept
	return kept
}
