// Package cache provides a generic, thread-safe LRU cache with built-in
// statistics. The broker uses it to memoize authorization lookups, so
// the cache is bounded rather than grow-forever: the working set of
// (user, topic, role) triples on a busy broker is small, but a client
// fabricating topics must not be able to grow broker memory without
// bound.
package cache

import (
	"sync/atomic"

	"github.com/c360/squawkbus/errors"
)

// Cache is a generic cache keyed by string.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry
	// was created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries.
	Clear()

	// Size returns the current number of entries.
	Size() int

	// Stats returns the cache statistics.
	Stats() *Statistics
}

// Statistics tracks cache performance counters. All counters are
// atomic and safe for concurrent readers.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Hits returns the number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the number of set operations.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Evictions returns the number of LRU evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s *Statistics) HitRatio() float64 {
	hits := float64(s.Hits())
	total := hits + float64(s.Misses())
	if total == 0 {
		return 0
	}
	return hits / total
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.New("empty key"), "cache", "validateKey", "key validation")
	}
	return nil
}
