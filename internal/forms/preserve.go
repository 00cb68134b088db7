// Package forms keeps in-progress form values across view remounts so a
// refresh-triggered re-render does not lose what the operator typed.
package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storeadmin/console/internal/clock"
	"storeadmin/console/internal/observability"
	"storeadmin/console/internal/storage"
)

const (
	KeyPrefix       = "form_data_"
	DefaultDebounce = 500 * time.Millisecond
	DefaultTTL      = time.Hour
	maxFormIDLength = 128
)

var (
	ErrInvalidFormID = errors.New("forms: invalid form id")
	ErrClosed        = errors.New("forms: store closed")
)

// Snapshot is one saved form. Data is whatever the view last saved.
type Snapshot struct {
	FormID  string         `json:"-"`
	Data    map[string]any `json:"data"`
	SavedAt time.Time      `json:"savedAt"`
}

type Config struct {
	Debounce time.Duration
	TTL      time.Duration
}

type pendingWrite struct {
	gen   uint64
	timer clock.Timer
	data  json.RawMessage
}

// Store debounces saves per form and persists the last one after the
// form has been quiet for the debounce interval.
type Store struct {
	kv       storage.Store
	clock    clock.Clock
	debounce time.Duration
	ttl      time.Duration
	log      *slog.Logger

	// writeMu orders persisted writes against Clear and Flush. It is
	// always taken before mu.
	writeMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	pending map[string]*pendingWrite
	closed  bool
}

func New(kv storage.Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Store {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Store{
		kv:       kv,
		clock:    clk,
		debounce: cfg.Debounce,
		ttl:      cfg.TTL,
		log:      logger,
		pending:  make(map[string]*pendingWrite),
	}
}

func ValidFormID(id string) bool {
	if id == "" || len(id) > maxFormIDLength {
		return false
	}
	return !strings.ContainsAny(id, "/\\ \t\n")
}

func Key(formID string) string { return KeyPrefix + formID }

// Save schedules data to be written once the form has been quiet for the
// debounce interval. A later Save for the same form replaces it.
func (s *Store) Save(formID string, data map[string]any) error {
	if !ValidFormID(formID) {
		return ErrInvalidFormID
	}
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode form %s: %w", formID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev := s.pending[formID]; prev != nil {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	p := &pendingWrite{gen: gen, data: raw}
	p.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(formID, gen) })
	s.pending[formID] = p
	return nil
}

func (s *Store) fire(formID string, gen uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	p := s.pending[formID]
	if p == nil || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, formID)
	s.mu.Unlock()

	if err := s.write(context.Background(), formID, p.data); err != nil {
		s.log.Warn("form snapshot write failed", "form_id", formID, "err", err)
	}
}

func (s *Store) write(ctx context.Context, formID string, data json.RawMessage) error {
	b, err := json.Marshal(struct {
		Data    json.RawMessage `json:"data"`
		SavedAt time.Time       `json:"savedAt"`
	}{Data: data, SavedAt: s.clock.Now().UTC()})
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, Key(formID), b)
}

// Load returns the saved snapshot. A snapshot older than the TTL, or one
// that cannot be decoded, is deleted and reported absent.
func (s *Store) Load(ctx context.Context, formID string) (Snapshot, bool, error) {
	if !ValidFormID(formID) {
		return Snapshot{}, false, ErrInvalidFormID
	}
	b, err := s.kv.Get(ctx, Key(formID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load form %s: %w", formID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		s.log.Warn("discarding unreadable form snapshot", "form_id", formID, "err", err)
		return Snapshot{}, false, s.purge(ctx, formID)
	}
	if s.clock.Now().Sub(snap.SavedAt) > s.ttl {
		s.log.Debug("form snapshot expired", "form_id", formID, "saved_at", snap.SavedAt)
		return Snapshot{}, false, s.purge(ctx, formID)
	}
	snap.FormID = formID
	if snap.Data == nil {
		snap.Data = map[string]any{}
	}
	return snap, true, nil
}

func (s *Store) purge(ctx context.Context, formID string) error {
	if err := s.kv.Delete(ctx, Key(formID)); err != nil {
		return fmt.Errorf("purge form %s: %w", formID, err)
	}
	return nil
}

// Clear drops any pending save and the stored snapshot.
func (s *Store) Clear(ctx context.Context, formID string) error {
	if !ValidFormID(formID) {
		return ErrInvalidFormID
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.Cancel(formID)
	return s.purge(ctx, formID)
}

// Cancel drops a pending save without touching the stored snapshot. It
// reports whether a save was pending.
func (s *Store) Cancel(formID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[formID]
	if p == nil {
		return false
	}
	p.timer.Stop()
	delete(s.pending, formID)
	return true
}

// Pending reports whether a save for formID is waiting on the debounce.
func (s *Store) Pending(formID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[formID] != nil
}

// Flush writes a pending save now instead of waiting for the debounce.
func (s *Store) Flush(ctx context.Context, formID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	p := s.pending[formID]
	if p != nil {
		p.timer.Stop()
		delete(s.pending, formID)
	}
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return s.write(ctx, formID, p.data)
}

// Close writes every pending save and rejects further saves.
func (s *Store) Close(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]*pendingWrite)
	s.mu.Unlock()

	var errs []error
	for id, p := range pending {
		p.timer.Stop()
		if err := s.write(ctx, id, p.data); err != nil {
			errs = append(errs, fmt.Errorf("flush form %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
