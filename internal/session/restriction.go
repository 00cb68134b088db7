package session

import (
	"log/slog"
	"strings"
	"sync"

	"storeadmin/console/internal/observability"
)

const (
	RestrictedEvent          = "auth-restricted"
	defaultRestrictionReason = "Your account has been restricted. Please sign in again or contact support."
)

// RestrictionChannel is the process-wide "session restricted" broadcast.
// Any component may publish; one listener consumes.
type RestrictionChannel struct {
	mu       sync.Mutex
	listener func(reason string)
}

func NewRestrictionChannel() *RestrictionChannel {
	return &RestrictionChannel{}
}

// Publish delivers reason to the listener synchronously and reports
// whether one was attached.
func (c *RestrictionChannel) Publish(reason string) bool {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(reason)
	return true
}

func (c *RestrictionChannel) listen(fn func(string)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return nil, ErrListenerActive
	}
	c.listener = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.listener = nil
			c.mu.Unlock()
		})
	}, nil
}

// Notifier presents a restriction reason to the operator.
type Notifier interface {
	Notify(reason string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(reason string)

func (f NotifierFunc) Notify(reason string) { f(reason) }

// RestrictionListener signs the session out when a restriction is
// published. The guard's unauthenticated path then redirects to login.
type RestrictionListener struct {
	ch       *RestrictionChannel
	store    *Store
	notifier Notifier
	log      *slog.Logger

	mu   sync.Mutex
	stop func()
}

func NewRestrictionListener(ch *RestrictionChannel, store *Store, notifier Notifier, logger *slog.Logger) *RestrictionListener {
	if logger == nil {
		logger = observability.Discard()
	}
	return &RestrictionListener{ch: ch, store: store, notifier: notifier, log: logger}
}

// Start attaches the listener. Only one listener may be attached to a
// channel at a time.
func (l *RestrictionListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return nil
	}
	stop, err := l.ch.listen(l.handle)
	if err != nil {
		return err
	}
	l.stop = stop
	return nil
}

func (l *RestrictionListener) Stop() {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (l *RestrictionListener) handle(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRestrictionReason
	}
	l.store.Restrict(reason)
	observability.Restrictions.Inc()
	l.log.Warn("restriction received", "reason", reason)
	if l.notifier != nil {
		l.notifier.Notify(reason)
	}
}
