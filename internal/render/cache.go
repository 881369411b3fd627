// Package render keeps page rendering responsive: a scale-aware bitmap cache,
// a placeholder-first renderer, time-sliced text overlay injection and a
// scroll virtualizer.
package render

import (
	"container/list"
	"image"
	"math"
	"sync"
)

// DefaultMaxEntries bounds the number of bitmaps kept per document.
const DefaultMaxEntries = 48

// Key identifies a cached bitmap. Scale is rounded to two decimals.
type Key struct {
	Doc   string
	Page  int
	Scale float64
}

// NewKey builds a cache key with the scale rounded to two decimals.
func NewKey(doc string, page int, scale float64) Key {
	return Key{Doc: doc, Page: page, Scale: RoundScale(scale)}
}

// RoundScale rounds a zoom factor to two decimals.
func RoundScale(scale float64) float64 {
	return math.Round(scale*100) / 100
}

type pageScale struct {
	page  int
	scale float64
}

type entry struct {
	key pageScale
	img image.Image
}

// partition holds the bitmaps of one document behind its own lock.
type partition struct {
	mu      sync.Mutex
	entries map[pageScale]*list.Element
	order   *list.List // front = most recently used
}

// Cache stores decoded page bitmaps keyed by (document, page, scale). Each
// document has its own lock and its own LRU bound.
type Cache struct {
	maxEntries int

	mu    sync.RWMutex
	parts map[string]*partition
}

// NewCache creates a cache that keeps at most maxEntries bitmaps per
// document. A non-positive bound uses DefaultMaxEntries.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		maxEntries: maxEntries,
		parts:      make(map[string]*partition),
	}
}

func (c *Cache) partition(doc string, create bool) *partition {
	c.mu.RLock()
	p := c.parts[doc]
	c.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p = c.parts[doc]; p == nil {
		p = &partition{entries: make(map[pageScale]*list.Element), order: list.New()}
		c.parts[doc] = p
	}
	return p
}

// Get returns the bitmap stored under the exact key.
func (c *Cache) Get(key Key) (image.Image, bool) {
	p := c.partition(key.Doc, false)
	if p == nil {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[pageScale{key.Page, RoundScale(key.Scale)}]
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	p.order.MoveToFront(el)
	cacheLookups.WithLabelValues("hit").Inc()
	return el.Value.(*entry).img, true
}

// Put stores img under key, evicting the least recently used bitmap of the
// same document when the bound is exceeded.
func (c *Cache) Put(key Key, img image.Image) {
	if img == nil {
		return
	}
	p := c.partition(key.Doc, true)
	ps := pageScale{key.Page, RoundScale(key.Scale)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.entries[ps]; ok {
		el.Value.(*entry).img = img
		p.order.MoveToFront(el)
		return
	}
	p.entries[ps] = p.order.PushFront(&entry{key: ps, img: img})
	for p.order.Len() > c.maxEntries {
		oldest := p.order.Back()
		p.order.Remove(oldest)
		delete(p.entries, oldest.Value.(*entry).key)
		cacheEvictions.Inc()
	}
}

// Nearest returns the cached bitmap of the page whose scale is closest to
// scale, together with that scale.
func (c *Cache) Nearest(doc string, page int, scale float64) (image.Image, float64, bool) {
	p := c.partition(doc, false)
	if p == nil {
		return nil, 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		best      *entry
		bestDelta = math.Inf(1)
	)
	for ps, el := range p.entries {
		if ps.page != page {
			continue
		}
		if d := math.Abs(ps.scale - scale); d < bestDelta {
			best, bestDelta = el.Value.(*entry), d
		}
	}
	if best == nil {
		return nil, 0, false
	}
	return best.img, best.key.scale, true
}

// Evict drops every bitmap of a document.
func (c *Cache) Evict(doc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.parts, doc)
}

// Len returns the number of bitmaps cached for a document.
func (c *Cache) Len(doc string) int {
	p := c.partition(doc, false)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
