// Package pagecache keeps recently rendered page previews.
package pagecache

import (
	"fmt"
	"image"
	"sync"
)

// DefaultCapacity is the number of previews kept when none is configured
const DefaultCapacity = 16

// Key identifies a rendered preview
type Key struct {
	DocumentID string
	Page       int
	// Scale is kept in thousandths so nearby zoom levels share an entry
	Scale int
}

// NewKey builds a Key, rounding scale to three decimals
func NewKey(documentID string, page int, scale float64) Key {
	return Key{DocumentID: documentID, Page: page, Scale: int(scale*1000 + 0.5)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d@%.3f", k.DocumentID, k.Page, float64(k.Scale)/1000)
}

// Stats reports cache performance
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate_percent"`
	Size     int     `json:"current_size"`
	Capacity int     `json:"max_capacity"`
}

// Cache is a thread-safe least recently used cache of page previews
type Cache struct {
	mutex    sync.Mutex
	capacity int
	items    map[Key]*node
	head     *node // most recently used
	tail     *node // least recently used
	hits     int64
	misses   int64
}

type node struct {
	key   Key
	value image.Image
	prev  *node
	next  *node
}

// New creates a cache holding at most capacity previews
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity: capacity,
		items:    make(map[Key]*node),
		head:     &node{},
		tail:     &node{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns a preview and marks it as recently used
func (c *Cache) Get(key Key) (image.Image, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if n, ok := c.items[key]; ok {
		c.moveToFront(n)
		c.hits++
		return n.value, true
	}
	c.misses++
	return nil, false
}

// Put stores a preview, evicting the least recently used one when full
func (c *Cache) Put(key Key, img image.Image) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if n, ok := c.items[key]; ok {
		n.value = img
		c.moveToFront(n)
		return
	}

	n := &node{key: key, value: img}
	c.addToFront(n)
	c.items[key] = n
	if len(c.items) > c.capacity {
		c.evict()
	}
}

// Contains reports whether key is cached without touching its position
func (c *Cache) Contains(key Key) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.items[key]
	return ok
}

// RemoveDocument drops every preview of a document
func (c *Cache) RemoveDocument(documentID string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for k, n := range c.items {
		if k.DocumentID == documentID {
			c.remove(n)
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached previews
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.items)
}

// Keys returns the cached keys from most to least recently used
func (c *Cache) Keys() []Key {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	keys := make([]Key, 0, len(c.items))
	for n := c.head.next; n != c.tail; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Stats returns hit and miss counts
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	rate := 0.0
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

func (c *Cache) moveToFront(n *node) {
	c.remove(n)
	c.addToFront(n)
}

func (c *Cache) addToFront(n *node) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache) remove(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (c *Cache) evict() {
	lru := c.tail.prev
	if lru != c.head {
		c.remove(lru)
		delete(c.items, lru.key)
	}
}
