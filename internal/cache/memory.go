package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryPages is an in-process Pages store with expiry
type MemoryPages struct {
	store *gocache.Cache
}

// NewMemoryPages creates a store whose entries live for ttl; a zero ttl
// never expires. cleanup is the janitor interval, zero for none.
func NewMemoryPages(ttl, cleanup time.Duration) *MemoryPages {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryPages{store: gocache.New(ttl, cleanup)}
}

// NewRunPages returns a store for one verification run. Entries live until
// the run is dropped and no janitor goroutine is started.
func NewRunPages() *MemoryPages {
	return NewMemoryPages(0, 0)
}

func (c *MemoryPages) Lookup(url string) (string, bool) {
	v, ok := c.store.Get(PageKey(url))
	if !ok {
		return "", false
	}
	text, _ := v.(string)
	return text, true
}

func (c *MemoryPages) Remember(url, text string) {
	c.store.SetDefault(PageKey(url), text)
}

// Len counts stored pages, expired ones not yet cleaned up included
func (c *MemoryPages) Len() int {
	return c.store.ItemCount()
}
