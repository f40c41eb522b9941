// Package blocklist holds the set of blocked domain names.
//
// Lookups read an immutable snapshot through an atomic pointer and never block.
// Mutations copy the current snapshot under a mutex and publish the copy, so a
// reader always observes a complete set.
package blocklist

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

type set = map[string]struct{}

// Store is a concurrency-safe set of normalized domain names.
type Store struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[set]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	empty := make(set)
	s.snap.Store(&empty)
	return s
}

func (s *Store) load() set { return *s.snap.Load() }

// mutate applies fn to a copy of the current set and publishes the copy when fn
// reports a change.
func (s *Store) mutate(fn func(next set) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	next := make(set, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	if fn(next) {
		s.snap.Store(&next)
	}
}

// Add inserts domain. Empty or invalid domains are rejected.
func (s *Store) Add(domain string) error {
	_, err := s.AddAll([]string{domain})
	return err
}

// AddAll inserts domains in one snapshot swap. The batch is all or nothing: when any
// entry fails to normalize nothing is added. It returns how many domains were new.
func (s *Store) AddAll(domains []string) (int, error) {
	valid, err := normalizeAll(domains)
	if err != nil {
		return 0, err
	}
	added := 0
	s.mutate(func(next set) bool {
		for _, d := range valid {
			if _, ok := next[d]; !ok {
				next[d] = struct{}{}
				added++
			}
		}
		return added > 0
	})
	if added > 0 {
		slog.Debug("blocklist: domains added", "count", added)
	}
	return added, nil
}

// Remove deletes domain and reports whether it was present.
func (s *Store) Remove(domain string) (bool, error) {
	d, err := Normalize(domain)
	if err != nil {
		return false, err
	}
	removed := false
	s.mutate(func(next set) bool {
		if _, ok := next[d]; ok {
			delete(next, d)
			removed = true
		}
		return removed
	})
	if removed {
		slog.Debug("blocklist: domain removed", "domain", d)
	}
	return removed, nil
}

// Contains reports whether domain is blocked. Matching is exact on the normalized
// name: a parent or a sibling with a shared suffix does not match.
func (s *Store) Contains(domain string) bool {
	d, err := Normalize(domain)
	if err != nil {
		return false
	}
	_, ok := s.load()[d]
	return ok
}

// List returns the blocked domains in sorted order.
func (s *Store) List() []string {
	cur := s.load()
	out := make([]string, 0, len(cur))
	for d := range cur {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of blocked domains.
func (s *Store) Len() int { return len(s.load()) }

// Clear removes every domain.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := make(set)
	s.snap.Store(&empty)
}

// Replace swaps the whole set for domains. Invalid entries are skipped; the count of
// accepted domains and the first error are returned.
func (s *Store) Replace(domains []string) (int, error) {
	var firstErr error
	next := make(set, len(domains))
	for _, raw := range domains {
		d, err := Normalize(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		next[d] = struct{}{}
	}

	s.mu.Lock()
	s.snap.Store(&next)
	s.mu.Unlock()
	return len(next), firstErr
}

// normalizeAll normalizes every entry and fails on the first invalid one.
func normalizeAll(domains []string) ([]string, error) {
	out := make([]string, 0, len(domains))
	for _, raw := range domains {
		d, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
