package merge

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dd0wney/cluso-syncstore/pkg/metrics"
)

const (
	// DefaultRevisionCacheSize bounds how many losing revisions are remembered
	DefaultRevisionCacheSize = 1024
	// DefaultRevisionCacheTTL bounds how long they are remembered
	DefaultRevisionCacheTTL = 5 * time.Minute
)

// RevisionCache remembers fetched revisions. A revision id names immutable
// content, so an entry can never go stale; the TTL only bounds memory.
type RevisionCache struct {
	lru     *expirable.LRU[string, Document]
	metrics *metrics.Registry
}

// NewRevisionCache creates a cache. A non-positive size disables caching.
func NewRevisionCache(size int, ttl time.Duration, metricsRegistry *metrics.Registry) *RevisionCache {
	if size <= 0 {
		return nil
	}
	return &RevisionCache{
		lru:     expirable.NewLRU[string, Document](size, nil, ttl),
		metrics: metricsRegistry,
	}
}

func revisionKey(id, rev string) string {
	return id + "@" + rev
}

// Get returns a private copy of the cached revision. Safe on a nil cache.
func (c *RevisionCache) Get(id, rev string) (Document, bool) {
	if c == nil {
		return Document{}, false
	}
	doc, ok := c.lru.Get(revisionKey(id, rev))
	if c.metrics != nil {
		if ok {
			c.metrics.RevisionCacheHits.Inc()
		} else {
			c.metrics.RevisionCacheMisses.Inc()
		}
	}
	if !ok {
		return Document{}, false
	}
	return doc.Clone(), true
}

// Add stores a copy of doc under its id and revision
func (c *RevisionCache) Add(doc Document) {
	if c == nil || doc.Rev == "" {
		return
	}
	c.lru.Add(revisionKey(doc.ID, doc.Rev), doc.Clone())
}

// Len reports the number of cached revisions
func (c *RevisionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
