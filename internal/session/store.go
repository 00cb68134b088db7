package session

import (
	"log/slog"
	"sync"

	"storeadmin/console/internal/observability"
)

// Store is the single source of truth for who is signed in. It is
// mutated only through SetIdentity, Restrict and Begin/EndInitializing; every
// mutation notifies subscribers synchronously.
type Store struct {
	log *slog.Logger

	mu      sync.RWMutex
	session Session

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Session)
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Store{
		log:  logger,
		subs: make(map[int]func(Session)),
	}
}

// Session returns a copy of the current session.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{
		Identity:     s.session.Identity.clone(),
		Initializing: s.session.Initializing,
		Restriction:  s.session.Restriction,
	}
}

// SetIdentity replaces the identity. nil signs the session out. An
// identity without a role cannot be authenticated and is stored as nil.
func (s *Store) SetIdentity(identity *Identity) {
	if identity != nil && identity.Role == "" {
		s.log.Warn("identity without role rejected", "user_id", identity.ID)
		identity = nil
	}
	if identity != nil && !identity.Role.Known() {
		s.log.Warn("identity with unrecognised role", "user_id", identity.ID, "role", string(identity.Role))
	}

	s.mu.Lock()
	prev := s.session.Identity
	s.session.Identity = identity.clone()
	if identity != nil {
		s.session.Restriction = ""
	}
	s.mu.Unlock()

	switch {
	case identity != nil && prev == nil:
		s.log.Info("session established", "user_id", identity.ID, "role", string(identity.Role))
	case identity != nil:
		s.log.Debug("session identity replaced", "user_id", identity.ID, "role", string(identity.Role))
	case prev != nil:
		s.log.Info("session cleared", "user_id", prev.ID)
	}
	if identity != nil {
		observability.SessionAuthenticated.Set(1)
	} else {
		observability.SessionAuthenticated.Set(0)
	}
	s.notify()
}

// Restrict signs the session out because the server restricted the
// account. The reason is kept until the next identity is set.
func (s *Store) Restrict(reason string) {
	s.mu.Lock()
	prev := s.session.Identity
	s.session.Identity = nil
	s.session.Restriction = reason
	s.mu.Unlock()

	if prev != nil {
		s.log.Info("session restricted", "user_id", prev.ID)
	}
	observability.SessionAuthenticated.Set(0)
	s.notify()
}

func (s *Store) BeginInitializing() { s.setInitializing(true) }

func (s *Store) EndInitializing() { s.setInitializing(false) }

func (s *Store) setInitializing(v bool) {
	s.mu.Lock()
	changed := s.session.Initializing != v
	s.session.Initializing = v
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Subscribe registers fn for every mutation. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Session)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	snapshot := s.Session()
	for _, fn := range fns {
		fn(snapshot)
	}
}
