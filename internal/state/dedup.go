// Package state provides concurrency-safe seen-sets for the crawler.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Set is a concurrency-safe deduplication set backed by a Bloom filter
// with an exact map behind it to rule out false positives.
type Set struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	count  int
}

// NewSet creates a deduplication set sized for the estimated item count.
func NewSet(estimatedItems int) *Set {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	return &Set{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// TryAdd inserts the key if absent. It returns true when the key was
// inserted by this call and false when it was already present. Check
// and insert happen under one lock, so exactly one caller wins for a
// given key.
func (s *Set) TryAdd(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filter.TestString(key) {
		if _, exists := s.exact[key]; exists {
			return false
		}
	}
	s.filter.AddString(key)
	s.exact[key] = struct{}{}
	s.count++
	return true
}

// Has checks if a key has been seen before.
func (s *Set) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.filter.TestString(key) {
		return false
	}
	_, exists := s.exact[key]
	return exists
}

// Count returns the number of unique keys seen.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Reset clears the set.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filter.ClearAll()
	s.exact = make(map[string]struct{})
	s.count = 0
}

// All returns all keys in the set.
func (s *Set) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.exact))
	for k := range s.exact {
		keys = append(keys, k)
	}
	return keys
}
