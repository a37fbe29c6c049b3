// Package sessionresolve checks and establishes the cookie session against
// the DealDesk API. It is the first stage of the bootstrap: everything after
// it needs to know who, if anyone, is signed in.
package sessionresolve

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// settleDelay gives the server's async side effects of a fresh sign-in
// (background organization provisioning in particular) a moment to start
// before the caller proceeds to the membership lookup.
const settleDelay = 50 * time.Millisecond

// retryWait is the pause before the single retry of a failed session check.
const retryWait = 500 * time.Millisecond

// User identifies the signed-in account.
type User struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// Session is a verified cookie session.
type Session struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionEnvelope struct {
	User    User `json:"user"`
	Session struct {
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"session"`
}

// Resolver talks to the auth endpoints. The zero value is not usable; build
// one with New.
type Resolver struct {
	http *resty.Client
	log  *zap.Logger

	// OnSession, when set, runs after any call establishes or confirms a
	// session, before the settle delay. It is the hook the boot flow uses to
	// propagate auth state.
	OnSession func(*Session)

	settle time.Duration
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithSettleDelay overrides the post-sign-in settle pause. Tests shrink it.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Resolver) { r.settle = d }
}

// WithRetryWait overrides the pause before the single session-check retry.
func WithRetryWait(d time.Duration) Option {
	return func(r *Resolver) { r.http.SetRetryWaitTime(d).SetRetryMaxWaitTime(d) }
}

// New builds a Resolver against the API at baseURL. timeout bounds each
// session round trip; a transient failure is retried once after retryWait.
func New(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Resolver {
	jar, _ := cookiejar.New(nil)

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetCookieJar(jar).
		SetHeader("Accept", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			// A 401 is the signed-out answer, not a fault. Anything else
			// short of 200 gets the one retry.
			code := resp.StatusCode()
			return code != http.StatusOK && code != http.StatusUnauthorized
		})

	r := &Resolver{
		http:   client,
		log:    logger,
		settle: settleDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks the current cookie session. A 401 is the signed-out state
// and returns (nil, nil); only transport failures and server errors are
// errors.
func (r *Resolver) Resolve(ctx context.Context) (*Session, error) {
	resp, err := r.http.R().SetContext(ctx).Get("/api/auth/session")
	if err != nil {
		return nil, fmt.Errorf("session check: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return nil, nil
	case resp.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("session check: unexpected status %d", resp.StatusCode())
	}

	sess, err := decodeSession(resp.Body())
	if err != nil {
		return nil, err
	}

	r.sessionEstablished(sess)
	return sess, nil
}

// ExchangeTokens trades a one-time token pair (magic link, OAuth handoff)
// for a session. recovery=true means the pair was a password-recovery link:
// no session was created and the caller must show the reset form instead.
func (r *Resolver) ExchangeTokens(ctx context.Context, accessToken, refreshToken string) (sess *Session, recovery bool, err error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
		}).
		Post("/api/auth/exchange")
	if err != nil {
		return nil, false, fmt.Errorf("token exchange: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, false, fmt.Errorf("token exchange: link is invalid or expired")
	default:
		return nil, false, fmt.Errorf("token exchange: unexpected status %d", resp.StatusCode())
	}

	var probe struct {
		Recovery bool `json:"recovery"`
	}
	if err := json.Unmarshal(resp.Body(), &probe); err == nil && probe.Recovery {
		return nil, true, nil
	}

	sess, err = decodeSession(resp.Body())
	if err != nil {
		return nil, false, err
	}

	r.sessionEstablished(sess)
	return sess, false, nil
}

// Login signs in with email and password.
func (r *Resolver) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		Post("/api/auth/login")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode())
	}

	sess, err := decodeSession(resp.Body())
	if err != nil {
		return nil, err
	}

	r.sessionEstablished(sess)
	return sess, nil
}

// Logout tears down the cookie session. Best-effort: a failed logout call
// still leaves the client treating itself as signed out.
func (r *Resolver) Logout(ctx context.Context) error {
	resp, err := r.http.R().SetContext(ctx).Post("/api/auth/logout")
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// HTTP exposes the shared resty client so later stages (organization
// resolution) reuse the same cookie jar.
func (r *Resolver) HTTP() *resty.Client {
	return r.http
}

func (r *Resolver) sessionEstablished(sess *Session) {
	if r.OnSession != nil {
		r.OnSession(sess)
	}
	if r.settle > 0 {
		time.Sleep(r.settle)
	}
}

func decodeSession(body []byte) (*Session, error) {
	var env sessionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	if env.User.ID == "" {
		return nil, fmt.Errorf("session payload missing user id")
	}
	return &Session{User: env.User, ExpiresAt: env.Session.ExpiresAt}, nil
}
