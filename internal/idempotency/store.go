package idempotency

import (
	"container/list"
	"context"
	"net/http"
	"sync"
	"time"
)

// Response is a replayable copy of a completed handler response.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	Fingerprint string // hash of the request body that produced the response
	StoredAt    time.Time
}

// Store keeps replayable responses keyed by scoped idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const (
	defaultMaxEntries      = 10000
	defaultCleanupInterval = 5 * time.Minute
)

// MemoryStore is an LRU-bounded Store with a background sweeper for expired keys.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	key       string
	resp      *Response
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries bounds the number of cached responses.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its sweeper.
// cleanupInterval <= 0 uses five minutes.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	s := &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweep(cleanupInterval)
	return s
}

// Get returns the cached response for key if it has not expired.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if !now.Before(entry.expiresAt) {
		s.removeElement(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return entry.resp, true
}

// Set caches resp under key for ttl, evicting the least recently used entry when full.
func (s *MemoryStore) Set(_ context.Context, key string, resp *Response, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.resp = resp
		entry.expiresAt = expiresAt
		s.order.MoveToFront(el)
		return nil
	}

	for len(s.entries) >= s.maxEntries {
		back := s.order.Back()
		if back == nil {
			break
		}
		s.removeElement(back)
	}

	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, resp: resp, expiresAt: expiresAt})
	return nil
}

// Delete drops key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// Len reports the number of cached entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

// removeElement requires s.mu.
func (s *MemoryStore) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	s.order.Remove(el)
	delete(s.entries, entry.key)
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

func (s *MemoryStore) purgeExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if entry := el.Value.(*memoryEntry); !now.Before(entry.expiresAt) {
			s.removeElement(el)
		}
		el = prev
	}
}
