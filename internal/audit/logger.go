// Package audit records session transitions as JSON lines, one event per
// line, for later review.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storeadmin/console/internal/session"
)

type Event struct {
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

type Logger struct {
	path    string
	nowFunc func() time.Time
	mu      sync.Mutex
}

// NewLogger appends to path. An empty path disables the log.
func NewLogger(path string) *Logger {
	return &Logger{path: path, nowFunc: time.Now}
}

func (l *Logger) Log(actor, action, target, outcome, detail string) error {
	if l == nil || l.path == "" {
		return nil
	}
	e := Event{
		At:      l.nowFunc().UTC().Format(time.RFC3339),
		Actor:   actor,
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}

// WatchSession records every identity change of store: session.start
// when an account signs in, session.end when it signs out and
// session.restricted when the server forced it out.
func (l *Logger) WatchSession(store *session.Store) (stop func()) {
	var mu sync.Mutex
	var current string
	return store.Subscribe(func(s session.Session) {
		mu.Lock()
		defer mu.Unlock()

		next := ""
		if s.Identity != nil {
			next = s.Identity.ID
		}
		if next == current {
			return
		}
		switch {
		case current != "" && s.Restriction != "":
			_ = l.Log(current, "session.restricted", "", "success", s.Restriction)
		case current != "":
			_ = l.Log(current, "session.end", "", "success", "")
		}
		if next != "" {
			_ = l.Log(next, "session.start", "", "success", "role="+string(s.Identity.Role))
		}
		current = next
	})
}
