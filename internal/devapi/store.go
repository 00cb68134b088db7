package devapi

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type UserStore interface {
	GetByEmail(email string) (User, error)
	GetByID(id string) (User, error)
	Put(user User) error
}

// InMemoryUserStore indexes users by id and by lower-cased email.
type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]User), byEmail: make(map[string]string)}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *InMemoryUserStore) GetByEmail(email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *InMemoryUserStore) GetByID(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Put inserts or replaces a user. Another user's email cannot be taken.
func (s *InMemoryUserStore) Put(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(user.Email)
	if owner, ok := s.byEmail[key]; ok && owner != user.ID {
		return ErrEmailTaken
	}
	if prev, ok := s.users[user.ID]; ok {
		delete(s.byEmail, emailKey(prev.Email))
	}
	s.users[user.ID] = user
	s.byEmail[key] = user.ID
	return nil
}
