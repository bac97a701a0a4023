package cache

import (
	"sort"
	"sync"
	"time"
)

// Category namespaces cache keys and selects the TTL.
type Category string

const (
	Quote   Category = "quote"
	OHLC    Category = "ohlc"
	News    Category = "news"
	Symbols Category = "symbols"
	Health  Category = "health"
)

// defaultTTLs are the per-category expiries. Symbols live for a day;
// everything else is seconds.
var defaultTTLs = map[Category]time.Duration{
	Quote:   30 * time.Second,
	OHLC:    60 * time.Second,
	News:    120 * time.Second,
	Symbols: 24 * time.Hour,
	Health:  10 * time.Second,
}

type key struct {
	cat Category
	k   string
}

type entry struct {
	value     any
	storedAt  time.Time
	expiresAt time.Time
}

// Store is a keyed TTL cache shared by the request bus.
//
// Values are published once and replaced, never mutated in place;
// callers must treat what they read as immutable. When the store grows
// past MaxEntries an eviction pass removes expired entries first, then
// the oldest live ones.
type Store struct {
	maxEntries int
	ttls       map[Category]time.Duration

	mu    sync.RWMutex
	items map[key]entry

	now func() time.Time
}

func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	ttls := make(map[Category]time.Duration, len(defaultTTLs))
	for c, d := range defaultTTLs {
		ttls[c] = d
	}
	return &Store{
		maxEntries: maxEntries,
		ttls:       ttls,
		items:      make(map[key]entry),
		now:        time.Now,
	}
}

// SetTTL overrides the TTL for one category.
func (s *Store) SetTTL(cat Category, d time.Duration) {
	if d > 0 {
		s.ttls[cat] = d
	}
}

// Get returns the live value for (cat, k), if any.
func (s *Store) Get(cat Category, k string) (any, bool) {
	s.mu.RLock()
	e, ok := s.items[key{cat, k}]
	s.mu.RUnlock()
	if !ok || s.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// GetStale returns the value for (cat, k) even when expired. Used to
// serve degraded responses when every upstream provider is down; such
// responses are tagged stale by the caller.
func (s *Store) GetStale(cat Category, k string) (any, bool) {
	s.mu.RLock()
	e, ok := s.items[key{cat, k}]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set publishes a value, replacing any previous entry.
func (s *Store) Set(cat Category, k string, v any) {
	now := s.now()
	ttl := s.ttls[cat]
	s.mu.Lock()
	s.items[key{cat, k}] = entry{value: v, storedAt: now, expiresAt: now.Add(ttl)}
	if len(s.items) > s.maxEntries {
		s.evictLocked(now)
	}
	s.mu.Unlock()
}

// Len reports the number of entries, expired included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// evictLocked drops expired entries, then the oldest live entries until
// the store fits again.
func (s *Store) evictLocked(now time.Time) {
	for k, e := range s.items {
		if now.After(e.expiresAt) {
			delete(s.items, k)
		}
	}
	if len(s.items) <= s.maxEntries {
		return
	}
	type aged struct {
		k key
		t time.Time
	}
	all := make([]aged, 0, len(s.items))
	for k, e := range s.items {
		all = append(all, aged{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].t.Before(all[j].t) })
	for _, a := range all {
		if len(s.items) <= s.maxEntries {
			break
		}
		delete(s.items, a.k)
	}
}
