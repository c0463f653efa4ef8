// Package lock guards against concurrent generation attempts for the same session.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked - another holder owns the key
var ErrLocked = errors.New("lock already held")

// Guard - exclusive, expiring ownership of a key
type Guard interface {
	// Acquire returns a release func, or ErrLocked when the key is held
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryGuard - process-local Guard
type MemoryGuard struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
	token uint64
}

type memoryEntry struct {
	token   uint64
	expires time.Time
}

// NewMemoryGuard - in-memory guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]memoryEntry), now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if entry, ok := g.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrLocked
	}

	g.token++
	token := g.token
	g.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			// a holder whose entry expired must not free the next owner's lock
			if entry, ok := g.held[key]; ok && entry.token == token {
				delete(g.held, key)
			}
		})
	}, nil
}
