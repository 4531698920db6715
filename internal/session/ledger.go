package session

import (
	"context"
	"sync"
	"time"
)

// Entry is one issued session token as seen by the server.
type Entry struct {
	Token      string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// Ledger is the server-side record of issued session tokens.
type Ledger interface {
	Record(ctx context.Context, token string, expiresAt time.Time) error
	// Touch marks the token as seen. Unknown tokens are recorded with a
	// fresh TTL counted from seenAt.
	Touch(ctx context.Context, token string, seenAt time.Time) error
	// Purge removes tokens that expired before the given instant.
	Purge(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// MemoryLedger keeps entries in a map.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryLedger returns an empty ledger. now may be nil.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{entries: make(map[string]Entry), now: now}
}

func (l *MemoryLedger) Record(_ context.Context, token string, expiresAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[token]
	if !ok {
		e = Entry{Token: token, CreatedAt: now}
	}
	e.LastSeenAt = now
	e.ExpiresAt = expiresAt
	l.entries[token] = e
	return nil
}

func (l *MemoryLedger) Touch(_ context.Context, token string, seenAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[token]
	if !ok {
		e = Entry{Token: token, CreatedAt: seenAt, ExpiresAt: seenAt.Add(TTL)}
	}
	e.LastSeenAt = seenAt
	l.entries[token] = e
	return nil
}

func (l *MemoryLedger) Purge(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for token, e := range l.entries {
		if e.ExpiresAt.Before(before) {
			delete(l.entries, token)
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

// Get returns the entry for token.
func (l *MemoryLedger) Get(token string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[token]
	return e, ok
}

// Len reports the number of entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
