package mediagroup

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"tgdispatch/internal/domain"
)

type window struct {
	origin int
	size   int
	msgs   []domain.MessageRef
}

func (w window) covers(anchorID, margin int) bool {
	last := w.origin + w.size - 1
	if anchorID < w.origin || anchorID > last {
		return false
	}
	// A window clamped at id 1 has nothing further left to see.
	if anchorID-w.origin < margin && w.origin > 1 {
		return false
	}
	return last-anchorID >= margin
}

type memberKey struct {
	chat string
	id   int
}

type albumKey struct {
	chat  string
	group string
}

// Cache holds fetched windows and resolved albums for one pass. Allocate one at
// pass start and drop it at pass end; it is never invalidated otherwise.
type Cache struct {
	mu      sync.Mutex
	windows map[string][]window
	albums  map[albumKey][]domain.MessageRef
	members map[memberKey]albumKey

	flight singleflight.Group

	fetches atomic.Int64
	hits    atomic.Int64
}

func NewCache() *Cache {
	return &Cache{
		windows: map[string][]window{},
		albums:  map[albumKey][]domain.MessageRef{},
		members: map[memberKey]albumKey{},
	}
}

// Stats reports transport fetches and cache hits since the cache was created.
type Stats struct {
	Fetches int64
	Hits    int64
}

func (c *Cache) Stats() Stats {
	return Stats{Fetches: c.fetches.Load(), Hits: c.hits.Load()}
}

func (c *Cache) album(chat string, anchorID int) ([]domain.MessageRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.members[memberKey{chat: chat, id: anchorID}]
	if !ok {
		return nil, false
	}
	refs := c.albums[k]
	return append([]domain.MessageRef(nil), refs...), true
}

func (c *Cache) storeAlbum(chat, group string, refs []domain.MessageRef) {
	k := albumKey{chat: chat, group: group}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.albums[k] = append([]domain.MessageRef(nil), refs...)
	for _, m := range refs {
		c.members[memberKey{chat: chat, id: m.ID}] = k
	}
}

func (c *Cache) lookupWindow(chat string, anchorID, margin int) (window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows[chat] {
		if w.covers(anchorID, margin) {
			return w, true
		}
	}
	return window{}, false
}

func (c *Cache) storeWindow(chat string, w window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, old := range c.windows[chat] {
		if old.origin == w.origin && old.size == w.size {
			c.windows[chat][i] = w
			return
		}
	}
	c.windows[chat] = append(c.windows[chat], w)
}

func flightKey(chat string, origin, size int) string {
	return chat + "@" + strconv.Itoa(origin) + "+" + strconv.Itoa(size)
}
