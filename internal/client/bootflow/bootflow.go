// Package bootflow drives the client's startup sequence: check the cookie
// session, resolve the organization, and land in a terminal state the UI can
// render. The flow shows its loading state exactly once per process; retries
// and resumes transition between ready and degraded without ever going back
// to loading. A failsafe timer guarantees the loading state cannot outlive
// its ceiling even if every network call hangs.
package bootflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dealdesk/dealdesk/internal/client/devprofile"
	"github.com/dealdesk/dealdesk/internal/client/orgresolve"
	"github.com/dealdesk/dealdesk/internal/client/sessionresolve"
	"go.uber.org/zap"
)

// State is the bootstrap's externally visible phase.
type State int

const (
	// StateIdle is the zero state before Run is called.
	StateIdle State = iota
	// StateLoading covers the initial session check. Entered at most once,
	// by Run.
	StateLoading
	// StateAuthenticatedNoOrg means the session check succeeded and the
	// organization is still being resolved. Only the initial run passes
	// through it.
	StateAuthenticatedNoOrg
	// StateSignedOut means the session check found no session.
	StateSignedOut
	// StateReady means session and organization both resolved.
	StateReady
	// StateDegraded means the user is signed in but the organization could
	// not be resolved. Retry can move it to StateReady.
	StateDegraded
	// StateClosed means Close was called; the flow is dead.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateAuthenticatedNoOrg:
		return "authenticated_no_org"
	case StateSignedOut:
		return "signed_out"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrFailsafe reports that the failsafe ceiling fired while the flow was
	// still loading.
	ErrFailsafe = errors.New("bootstrap failsafe fired while still loading")

	// ErrClosed reports an operation on a closed flow.
	ErrClosed = errors.New("bootstrap flow is closed")

	// ErrNotDegraded reports a Retry from a state that has nothing to retry.
	ErrNotDegraded = errors.New("retry is only valid from the degraded state")
)

// Status is a snapshot of the flow.
type Status struct {
	State      State
	Session    *sessionresolve.Session
	Membership *orgresolve.Membership
	Err        error
}

// Flow orchestrates the bootstrap. Safe for concurrent use.
type Flow struct {
	profile  devprofile.Profile
	sessions *sessionresolve.Resolver
	orgs     *orgresolve.Resolver
	log      *zap.Logger

	mu       sync.Mutex
	status   Status
	gen      int // bumped on Close; in-flight work from older gens is discarded
	failsafe *time.Timer

	// OnChange, when set before Run, observes every committed state
	// transition. Called without the flow lock held.
	OnChange func(Status)
}

// New builds a Flow. The session resolver and organization resolver should
// share an HTTP client so they share cookies.
func New(profile devprofile.Profile, sessions *sessionresolve.Resolver, orgs *orgresolve.Resolver, logger *zap.Logger) *Flow {
	return &Flow{
		profile:  profile,
		sessions: sessions,
		orgs:     orgs,
		log:      logger,
		status:   Status{State: StateIdle},
	}
}

// Status returns the current snapshot.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// booting reports whether s is a pre-terminal phase of the initial run.
func booting(s State) bool {
	return s == StateLoading || s == StateAuthenticatedNoOrg
}

// Run performs the initial bootstrap and blocks until the flow reaches a
// terminal state. It is the only path that enters StateLoading and
// StateAuthenticatedNoOrg. The returned status is the state the flow landed
// in; if the failsafe fired first, the flow is already degraded and the late
// result has been discarded.
func (f *Flow) Run(ctx context.Context) Status {
	f.mu.Lock()
	if f.status.State == StateClosed {
		f.mu.Unlock()
		return Status{State: StateClosed, Err: ErrClosed}
	}
	gen := f.gen
	f.status = Status{State: StateLoading}
	f.failsafe = time.AfterFunc(f.profile.Failsafe, func() {
		f.failsafeFired(gen)
	})
	loading := f.status
	f.mu.Unlock()
	f.notify(loading)

	sctx, cancel := context.WithTimeout(ctx, f.profile.SessionTimeout)
	sess, err := f.sessions.Resolve(sctx)
	cancel()
	switch {
	case err != nil:
		f.commit(gen, Status{State: StateDegraded, Err: err}, true)
	case sess == nil:
		f.commit(gen, Status{State: StateSignedOut}, true)
	default:
		f.commit(gen, Status{State: StateAuthenticatedNoOrg, Session: sess}, true)
		f.commit(gen, f.resolveOrg(ctx, sess), true)
	}
	return f.Status()
}

// Retry re-runs organization resolution after a degraded bootstrap. It never
// re-enters StateLoading; the flow stays degraded until the retry lands.
func (f *Flow) Retry(ctx context.Context) (Status, error) {
	f.mu.Lock()
	if f.status.State == StateClosed {
		f.mu.Unlock()
		return Status{State: StateClosed}, ErrClosed
	}
	if f.status.State != StateDegraded {
		st := f.status
		f.mu.Unlock()
		return st, ErrNotDegraded
	}
	gen := f.gen
	sess := f.status.Session
	f.mu.Unlock()

	// A degraded session check has no session to reuse; start over from the
	// session probe. Either way the loading state is not re-entered.
	var status Status
	if sess == nil {
		status = f.bootstrap(ctx)
	} else {
		status = f.resolveOrg(ctx, sess)
	}
	f.commit(gen, status, false)
	return f.Status(), nil
}

// Resume revalidates after the app returns to the foreground. It is
// cache-first and never re-enters StateLoading: a flow that was ready stays
// ready on transient failure, and a cached membership satisfies the
// resolution without any network.
func (f *Flow) Resume(ctx context.Context) (Status, error) {
	f.mu.Lock()
	if f.status.State == StateClosed {
		f.mu.Unlock()
		return Status{State: StateClosed}, ErrClosed
	}
	gen := f.gen
	prev := f.status
	f.mu.Unlock()

	status := f.bootstrap(ctx)

	// A ready flow is not torn down by a flaky resume; keep serving the
	// previous snapshot and let the next resume try again.
	if prev.State == StateReady && status.State == StateDegraded {
		f.log.Warn("resume revalidation failed; keeping ready state", zap.Error(status.Err))
		return prev, nil
	}

	f.commit(gen, status, false)
	return f.Status(), nil
}

// SignOut ends the session server-side, drops the cached membership, and
// moves the flow to StateSignedOut.
func (f *Flow) SignOut(ctx context.Context) error {
	f.mu.Lock()
	if f.status.State == StateClosed {
		f.mu.Unlock()
		return ErrClosed
	}
	gen := f.gen
	sess := f.status.Session
	f.mu.Unlock()

	if err := f.sessions.Logout(ctx); err != nil {
		return err
	}
	if sess != nil {
		f.orgs.Invalidate(sess.User.ID)
	}
	f.commit(gen, Status{State: StateSignedOut}, false)
	return nil
}

// Close tears the flow down. In-flight work is discarded when it completes
// and no further transitions are committed.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.State == StateClosed {
		return
	}
	f.gen++
	if f.failsafe != nil {
		f.failsafe.Stop()
	}
	f.status = Status{State: StateClosed}
}

// bootstrap runs the session check and, if signed in, organization
// resolution. It does not touch flow state.
func (f *Flow) bootstrap(ctx context.Context) Status {
	sctx, cancel := context.WithTimeout(ctx, f.profile.SessionTimeout)
	defer cancel()

	sess, err := f.sessions.Resolve(sctx)
	if err != nil {
		return Status{State: StateDegraded, Err: err}
	}
	if sess == nil {
		return Status{State: StateSignedOut}
	}

	return f.resolveOrg(ctx, sess)
}

func (f *Flow) resolveOrg(ctx context.Context, sess *sessionresolve.Session) Status {
	if sess == nil {
		return Status{State: StateSignedOut}
	}

	octx, cancel := context.WithTimeout(ctx, f.profile.ResolveTimeout)
	defer cancel()

	res, err := f.orgs.Resolve(octx, sess.User.ID, sess.User.Email)
	if err != nil {
		return Status{State: StateDegraded, Session: sess, Err: err}
	}

	m := res.Membership
	return Status{State: StateReady, Session: sess, Membership: &m}
}

// commit applies a finished unit of work, unless the flow was closed (or,
// for the initial run, the failsafe already forced a transition).
func (f *Flow) commit(gen int, status Status, fromLoading bool) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		f.log.Debug("discarding result from a closed flow", zap.String("state", status.State.String()))
		return
	}
	if fromLoading && !booting(f.status.State) {
		f.mu.Unlock()
		f.log.Warn("discarding late bootstrap result; failsafe already fired",
			zap.String("state", status.State.String()))
		return
	}
	// The failsafe stays armed through the intermediate phase; only a
	// terminal state disarms it.
	if fromLoading && !booting(status.State) && f.failsafe != nil {
		f.failsafe.Stop()
	}
	f.status = status
	f.mu.Unlock()
	f.notify(status)
}

func (f *Flow) failsafeFired(gen int) {
	f.mu.Lock()
	if gen != f.gen || !booting(f.status.State) {
		f.mu.Unlock()
		return
	}
	f.log.Error("bootstrap failsafe fired", zap.Duration("ceiling", f.profile.Failsafe))
	status := Status{State: StateDegraded, Err: ErrFailsafe}
	f.status = status
	f.mu.Unlock()
	f.notify(status)
}

// notify fires the change callback outside the flow lock, so the callback
// may call back into the flow.
func (f *Flow) notify(status Status) {
	if f.OnChange != nil {
		f.OnChange(status)
	}
}
