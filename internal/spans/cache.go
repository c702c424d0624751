package spans

import (
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source produces the text spans of a page
type Source func(page int) ([]TextSpan, error)

// Cache builds the index of a page on first access and keeps it for the life
// of the document session. Concurrent requests for the same page share one
// build; a failed build is not cached.
type Cache struct {
	source Source

	mu      sync.RWMutex
	indexes map[int]*Index
	group   singleflight.Group
}

// NewCache creates a cache over source
func NewCache(source Source) *Cache {
	return &Cache{
		source:  source,
		indexes: make(map[int]*Index),
	}
}

// Get returns the index for page, building it if needed
func (c *Cache) Get(page int) (*Index, error) {
	c.mu.RLock()
	idx, ok := c.indexes[page]
	c.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := c.group.Do(strconv.Itoa(page), func() (any, error) {
		c.mu.RLock()
		idx, ok := c.indexes[page]
		c.mu.RUnlock()
		if ok {
			return idx, nil
		}

		spans, err := c.source(page)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text spans for page %d: %w", page, err)
		}
		idx = NewIndex(spans)

		c.mu.Lock()
		c.indexes[page] = idx
		c.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Built reports whether the index for page is already cached
func (c *Cache) Built(page int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.indexes[page]
	return ok
}

// Invalidate drops every cached index
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.indexes = make(map[int]*Index)
	c.mu.Unlock()
}
