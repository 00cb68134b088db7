package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storeadmin/console/internal/observability"
)

// AttemptState describes the coordinator's renewal attempt.
type AttemptState int

const (
	AttemptIdle AttemptState = iota
	AttemptInflight
	AttemptSucceeded
	AttemptFailed
)

func (s AttemptState) String() string {
	switch s {
	case AttemptInflight:
		return "inflight"
	case AttemptSucceeded:
		return "succeeded"
	case AttemptFailed:
		return "failed"
	default:
		return "idle"
	}
}

// RenewFunc performs the POST /auth/refresh call.
type RenewFunc func(ctx context.Context) (*Identity, error)

const (
	refreshKey            = "refresh"
	defaultRenewalTimeout = 15 * time.Second
)

// RefreshCoordinator issues at most one renewal at a time. Callers that
// arrive while a renewal is in flight wait for it and share its outcome.
type RefreshCoordinator struct {
	renew   RenewFunc
	timeout time.Duration
	log     *slog.Logger
	group   singleflight.Group

	mu       sync.Mutex
	state    AttemptState
	last     AttemptState
	seq      uint64
	inflight *attempt
}

// attempt is one renewal and the callers that joined it. Each attempt
// has its own singleflight key, so a caller arriving after the renewal
// finished starts a new one instead of sharing a stale result.
type attempt struct {
	key     string
	callers int
}

func NewRefreshCoordinator(renew RenewFunc, timeout time.Duration, logger *slog.Logger) *RefreshCoordinator {
	if timeout <= 0 {
		timeout = defaultRenewalTimeout
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &RefreshCoordinator{renew: renew, timeout: timeout, log: logger}
}

// Refresh renews the access credential, or joins the renewal already in
// flight. It never retries. A caller whose ctx ends gets false; the
// renewal itself keeps running for the other callers.
func (c *RefreshCoordinator) Refresh(ctx context.Context) bool {
	observability.RefreshCallers.Inc()

	c.mu.Lock()
	a := c.inflight
	if a == nil {
		c.seq++
		a = &attempt{key: refreshKey + "-" + strconv.FormatUint(c.seq, 10)}
		c.inflight = a
		c.state = AttemptInflight
	}
	a.callers++
	ch := c.group.DoChan(a.key, func() (any, error) {
		return nil, c.run(context.WithoutCancel(ctx), a)
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Err == nil
	case <-ctx.Done():
		return false
	}
}

func (c *RefreshCoordinator) run(ctx context.Context, a *attempt) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	_, err := c.renew(ctx)

	c.mu.Lock()
	joined := a.callers
	if c.inflight == a {
		c.inflight = nil
	}
	c.state = AttemptIdle
	if err != nil {
		c.last = AttemptFailed
	} else {
		c.last = AttemptSucceeded
	}
	c.mu.Unlock()

	if err != nil {
		observability.RefreshRenewals.WithLabelValues("failed").Inc()
		c.log.Warn("credential renewal failed", "callers", joined, "duration", time.Since(start), "err", err)
		return err
	}
	observability.RefreshRenewals.WithLabelValues("succeeded").Inc()
	c.log.Info("credential renewed", "callers", joined, "duration", time.Since(start))
	return nil
}

// State reports whether a renewal is in flight.
func (c *RefreshCoordinator) State() AttemptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome is the result of the most recent completed renewal, or
// AttemptIdle if none completed yet.
func (c *RefreshCoordinator) LastOutcome() AttemptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *RefreshCoordinator) joined() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return 0
	}
	return c.inflight.callers
}
