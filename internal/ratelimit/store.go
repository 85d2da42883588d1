package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Key identifies one counter: a client inside a category's counter space.
type Key struct {
	Category   string
	Identifier string
}

// Entry is the state of one fixed window.
type Entry struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"resetTime"`
}

// expired reports whether the window has closed. The window is still open
// at exactly ResetTime.
func (e Entry) expired(now time.Time) bool {
	return now.After(e.ResetTime)
}

// Store holds window counters. Implementations must make Take atomic per key.
type Store interface {
	// Take counts one request against key. It returns the entry after the
	// update and whether the request fits inside the window.
	Take(ctx context.Context, key Key, rule Rule, now time.Time) (Entry, bool, error)
	// Peek returns the live entry for key without counting a request.
	// ok is false when there is no open window.
	Peek(ctx context.Context, key Key, now time.Time) (e Entry, ok bool, err error)
	// Sweep deletes every entry whose window closed before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps counters in process memory. Each process enforces its
// own limits; use PostgresStore when several instances serve traffic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

func (s *MemoryStore) Take(_ context.Context, key Key, rule Rule, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = Entry{Count: 1, ResetTime: now.Add(rule.Window)}
		s.entries[key] = e
		return e, true, nil
	}
	if e.Count < rule.Max {
		e.Count++
		s.entries[key] = e
		return e, true, nil
	}
	return e, false, nil
}

func (s *MemoryStore) Peek(_ context.Context, key Key, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
