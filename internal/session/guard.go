package session

import (
	"context"
	"log/slog"
	"sync"

	"storeadmin/console/internal/observability"
)

type DecisionKind int

const (
	DecisionPending DecisionKind = iota
	DecisionAdmit
	DecisionRedirectToLogin
	DecisionDenyRole
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAdmit:
		return "admit"
	case DecisionRedirectToLogin:
		return "redirect_to_login"
	case DecisionDenyRole:
		return "deny_role"
	default:
		return "pending"
	}
}

// Decision is what a guarded view renders. ReturnPath is set for
// RedirectToLogin, Reason for DenyRole.
type Decision struct {
	Kind       DecisionKind
	ReturnPath string
	Reason     string
}

// GuardState is the navigation's position in the guard state machine.
type GuardState int

const (
	GuardPending GuardState = iota
	GuardAttemptingRefresh
	GuardAdmit
	GuardRedirectToLogin
	GuardDenyRole
)

const customerDeniedReason = "Dashboard access is limited to staff accounts. Sign out and use a staff account instead."

type Recoverer interface {
	Recover(ctx context.Context) (*Identity, error)
}

// Guard sits in front of every protected view.
type Guard struct {
	store     *Store
	recoverer Recoverer
	returns   *ReturnPaths
	log       *slog.Logger
}

func NewGuard(store *Store, recoverer Recoverer, returns *ReturnPaths, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Guard{store: store, recoverer: recoverer, returns: returns, log: logger}
}

// Navigate starts a navigation to path. The navigation follows the store
// until Close is called.
func (g *Guard) Navigate(path string) *Navigation {
	n := &Navigation{
		guard:   g,
		path:    path,
		updates: make(chan Decision, 1),
		changed: make(chan struct{}, 1),
	}
	n.unsubscribe = g.store.Subscribe(func(Session) { n.reevaluate() })
	return n
}

// Navigation is one pass through the guard. It attempts a refresh at
// most once; a new navigation may attempt again.
type Navigation struct {
	guard       *Guard
	path        string
	updates     chan Decision
	changed     chan struct{}
	unsubscribe func()

	mu         sync.Mutex
	attempted  bool
	refreshing bool
	remembered bool
	closed     bool
	state      GuardState
	decision   Decision

	// settled is set once the navigation reached a non-pending decision.
	// A session lost after that redirects without another refresh.
	settled bool
}

func (n *Navigation) Path() string { return n.path }

func (n *Navigation) State() GuardState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Decision returns the latest decision without evaluating.
func (n *Navigation) Decision() Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.decision
}

// Updates delivers the latest decision each time it is recomputed. Only
// the newest undelivered decision is kept.
func (n *Navigation) Updates() <-chan Decision { return n.updates }

// Decide evaluates the navigation, running the refresh path when the
// session is absent and this navigation has not tried yet.
func (n *Navigation) Decide(ctx context.Context) Decision {
	n.mu.Lock()
	d, refresh := n.evaluateLocked(n.guard.store.Session())
	if !refresh {
		remember := n.commitLocked(d)
		n.mu.Unlock()
		n.finish(ctx, d, remember)
		return d
	}
	n.attempted = true
	n.refreshing = true
	n.state = GuardAttemptingRefresh
	n.mu.Unlock()

	if _, err := n.guard.recoverer.Recover(ctx); err != nil {
		n.guard.log.Debug("guard refresh did not restore session", "path", n.path, "err", err)
	}

	n.mu.Lock()
	n.refreshing = false
	d, _ = n.evaluateLocked(n.guard.store.Session())
	remember := n.commitLocked(d)
	n.mu.Unlock()
	n.finish(ctx, d, remember)
	return d
}

// Await decides and, while the result is Pending, waits for the store to
// change and decides again. It returns Pending if ctx ends first.
func (n *Navigation) Await(ctx context.Context) Decision {
	for {
		d := n.Decide(ctx)
		if d.Kind != DecisionPending {
			return d
		}
		select {
		case <-ctx.Done():
			return d
		case <-n.changed:
		}
	}
}

func (n *Navigation) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.unsubscribe()
}

func (n *Navigation) reevaluate() {
	n.mu.Lock()
	if n.closed || n.refreshing {
		n.mu.Unlock()
		return
	}
	d, _ := n.evaluateLocked(n.guard.store.Session())
	remember := n.commitLocked(d)
	n.mu.Unlock()

	select {
	case n.changed <- struct{}{}:
	default:
	}
	n.finish(context.Background(), d, remember)
}

// evaluateLocked computes the decision for sess. refresh is true when the
// caller should run the refresh path before deciding.
func (n *Navigation) evaluateLocked(sess Session) (d Decision, refresh bool) {
	switch {
	case sess.Initializing:
		return Decision{Kind: DecisionPending}, false
	case sess.Authenticated():
		if !sess.Identity.Role.Staff() {
			return Decision{Kind: DecisionDenyRole, Reason: customerDeniedReason}, false
		}
		return Decision{Kind: DecisionAdmit}, false
	case n.refreshing:
		return Decision{Kind: DecisionPending}, false
	case sess.Restriction != "":
		d = Decision{Kind: DecisionRedirectToLogin, Reason: sess.Restriction}
		if Recordable(n.path) {
			d.ReturnPath = n.path
		}
		return d, false
	case !n.attempted && !n.settled:
		return Decision{Kind: DecisionPending}, true
	}
	d = Decision{Kind: DecisionRedirectToLogin}
	if Recordable(n.path) {
		d.ReturnPath = n.path
	}
	return d, false
}

// commitLocked records d and reports whether the return path still has
// to be remembered.
func (n *Navigation) commitLocked(d Decision) bool {
	n.decision = d
	if d.Kind != DecisionPending {
		n.settled = true
	}
	switch d.Kind {
	case DecisionAdmit:
		n.state = GuardAdmit
	case DecisionRedirectToLogin:
		n.state = GuardRedirectToLogin
	case DecisionDenyRole:
		n.state = GuardDenyRole
	default:
		if !n.refreshing {
			n.state = GuardPending
		}
	}
	select {
	case <-n.updates:
	default:
	}
	n.updates <- d

	if d.Kind == DecisionRedirectToLogin && d.ReturnPath != "" && !n.remembered {
		n.remembered = true
		return true
	}
	return false
}

func (n *Navigation) finish(ctx context.Context, d Decision, remember bool) {
	observability.GuardDecisions.WithLabelValues(d.Kind.String()).Inc()
	if !remember {
		return
	}
	if err := n.guard.returns.Remember(ctx, d.ReturnPath); err != nil {
		n.guard.log.Warn("remember return path", "path", d.ReturnPath, "err", err)
	}
}
