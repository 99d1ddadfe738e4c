package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// MaxEntries caps the number of entries; the least recently used entry is evicted beyond it.
	MaxEntries int

	// SweepInterval is the period of the expired-entry janitor. Zero disables it.
	SweepInterval time.Duration
}

// DefaultMemoryConfig returns the production defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries:    DefaultMaxEntries,
		SweepInterval: DefaultSweepInterval,
	}
}

// MemoryStore is an in-process Store with LRU eviction, lazy expiry on read,
// a periodic TTL sweep and a tag index for bulk invalidation.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	tags       map[string]map[string]struct{}
	maxEntries int
	now        func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type memoryItem struct {
	key   string
	entry *Entry
}

// NewMemoryStore creates a MemoryStore and starts its janitor when SweepInterval > 0.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	s := &MemoryStore{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		tags:       make(map[string]map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go s.janitor(cfg.SweepInterval)
	} else {
		close(s.done)
	}

	return s
}

// Get returns the live entry for key. An expired entry is evicted and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Entry, error) {
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[k]
	if !ok {
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	item := el.Value.(*memoryItem)
	if item.entry.IsExpired(s.now()) {
		s.removeElement(el)
		CacheEvictions.WithLabelValues(backendMemory, "expired").Inc()
		CacheMisses.WithLabelValues(backendMemory).Inc()
		return nil, ErrCacheMiss
	}

	s.lru.MoveToFront(el)
	CacheHits.WithLabelValues(backendMemory).Inc()

	entry := *item.entry
	return &entry, nil
}

// Set inserts or replaces the entry for key. A non-positive ttl means DefaultTTL.
func (s *MemoryStore) Set(_ context.Context, key Key, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &Entry{
		Value:    value,
		Expires:  now.Add(ttl),
		Tags:     dedupeTags(tags),
		CachedAt: now,
	}

	if el, ok := s.items[k]; ok {
		s.removeElement(el)
	}

	el := s.lru.PushFront(&memoryItem{key: k, entry: entry})
	s.items[k] = el
	for _, tag := range entry.Tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[k] = struct{}{}
	}

	for s.lru.Len() > s.maxEntries {
		s.removeElement(s.lru.Back())
		CacheEvictions.WithLabelValues(backendMemory, "capacity").Inc()
	}

	CacheEntries.WithLabelValues(backendMemory).Set(float64(s.lru.Len()))
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key.String()]; ok {
		s.removeElement(el)
	}
	return nil
}

// Invalidate removes every entry tagged with tag.
func (s *MemoryStore) Invalidate(_ context.Context, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.tags[tag]
	removed := 0
	for k := range keys {
		if el, ok := s.items[k]; ok {
			s.removeElement(el)
			removed++
		}
	}
	delete(s.tags, tag)

	CacheInvalidations.WithLabelValues(backendMemory).Add(float64(removed))
	return removed, nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*memoryItem).entry.IsExpired(now) {
			s.removeElement(el)
			removed++
		}
		el = prev
	}

	if removed > 0 {
		CacheEvictions.WithLabelValues(backendMemory, "expired").Add(float64(removed))
	}
	return removed
}

// Len returns the number of stored entries, expired ones not yet swept included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Close stops the janitor. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// removeElement unlinks el from the LRU list, the item map and the tag index.
// Callers must hold s.mu.
func (s *MemoryStore) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	s.lru.Remove(el)
	delete(s.items, item.key)

	for _, tag := range item.entry.Tags {
		keys := s.tags[tag]
		delete(keys, item.key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}

	CacheEntries.WithLabelValues(backendMemory).Set(float64(s.lru.Len()))
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
