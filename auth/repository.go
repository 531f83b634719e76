package auth

import (
	"fmt"
	"sync"

	"github.com/c360/squawkbus/errors"
	"github.com/c360/squawkbus/pkg/cache"
)

// DefaultCacheSize bounds the authorization memo cache. Entries are
// evicted least-recently-used; a topic-fabricating client cannot grow
// broker memory past this bound.
const DefaultCacheSize = 65536

// Repository resolves (user, topic, role) to an entitlement set.
// Lookups scan the ordered spec list, first match wins, and memoize
// the result. Reload swaps the spec list and clears the memo.
type Repository struct {
	mu    sync.RWMutex
	specs []Spec
	cache *cache.LRU[EntitlementSet]
}

// NewRepository creates a repository over the given specs. An empty
// spec list falls back to the default public-only policy.
func NewRepository(specs []Spec) (*Repository, error) {
	return NewRepositorySize(specs, DefaultCacheSize)
}

// NewRepositorySize creates a repository with an explicit cache bound.
func NewRepositorySize(specs []Spec, cacheSize int) (*Repository, error) {
	memo, err := cache.NewLRU[EntitlementSet](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "auth", "NewRepositorySize", "cache construction")
	}
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}
	return &Repository{specs: specs, cache: memo}, nil
}

// Entitlements returns the entitlement set granted to user for topic
// in the given role. The first matching spec supplies the set; with no
// match the set is empty.
func (r *Repository) Entitlements(user, topic string, role Role) EntitlementSet {
	key := cacheKey(user, topic, role)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	r.mu.RLock()
	var granted EntitlementSet
	for _, spec := range r.specs {
		if spec.Matches(user, topic, role) {
			granted = spec.Entitlements
			break
		}
	}
	r.mu.RUnlock()

	if granted == nil {
		granted = EntitlementSet{}
	}
	_, _ = r.cache.Set(key, granted)
	return granted
}

// Reload replaces the spec list and clears the memo cache.
func (r *Repository) Reload(specs []Spec) {
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}
	r.mu.Lock()
	r.specs = specs
	r.mu.Unlock()
	r.cache.Clear()
}

// CacheStats exposes memo cache counters for metrics scraping.
func (r *Repository) CacheStats() *cache.Statistics {
	return r.cache.Stats()
}

func cacheKey(user, topic string, role Role) string {
	return fmt.Sprintf("%s\x1f%s\x1f%d", user, topic, role)
}
