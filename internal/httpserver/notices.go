package httpserver

import "sync"

// NoticeBoard holds the last forced-logout reason until the operator's
// next session read picks it up.
type NoticeBoard struct {
	mu     sync.Mutex
	reason string
}

// Notify implements session.Notifier.
func (b *NoticeBoard) Notify(reason string) {
	b.mu.Lock()
	b.reason = reason
	b.mu.Unlock()
}

// Take returns the pending reason and clears it.
func (b *NoticeBoard) Take() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.reason
	b.reason = ""
	return r
}
