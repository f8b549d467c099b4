// Package memstore keeps pastes in process memory, bounded by an LRU.
// Only pastes that can no longer be served are evicted; data is lost on
// restart.
package memstore

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"limitpaste/internal/id"
	"limitpaste/internal/storage"
)

const defaultCapacity = 10000

// ErrFull is returned by Create when every held paste is still accessible.
var ErrFull = errors.New("memory store is full")

// Store implements storage.Store in memory.
type Store struct {
	mu       sync.Mutex
	pastes   *lru.Cache[string, storage.Paste]
	capacity int
	ids      *id.Generator
}

// New returns a store holding at most capacity pastes.
func New(capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	c, err := lru.New[string, storage.Paste](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	return &Store{pastes: c, capacity: capacity, ids: id.New(0)}, nil
}

// Create stores a new paste under a freshly generated id.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	var out *storage.Paste
	_, err := s.ids.Insert(ctx, func(pid string) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pastes.Contains(pid) {
			return false, nil
		}
		paste := n.Build(pid)
		if !s.makeRoom(paste.CreatedAt) {
			return false, ErrFull
		}
		s.pastes.Add(pid, *paste)
		out = paste
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a copy of the paste.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pastes.Peek(pid)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// ConsumeView checks and increments under the store mutex.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pastes.Get(pid)
	if !ok || !p.Accessible(now) {
		return nil, storage.ErrNotAvailable
	}
	p.ViewCount++
	s.pastes.Add(pid, p)
	return &p, nil
}

// makeRoom frees a slot when the cache is at capacity by dropping the least
// recently used paste that is no longer accessible at now. The LRU never gets
// to evict on its own. Callers hold s.mu.
func (s *Store) makeRoom(now time.Time) bool {
	if s.pastes.Len() < s.capacity {
		return true
	}
	// Keys are ordered oldest first.
	for _, key := range s.pastes.Keys() {
		p, ok := s.pastes.Peek(key)
		if ok && !p.Accessible(now) {
			s.pastes.Remove(key)
			return true
		}
	}
	return false
}

// Ping always succeeds; there is nothing to reach.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close drops every held paste.
func (s *Store) Close() error {
	s.pastes.Purge()
	return nil
}
