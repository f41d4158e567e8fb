// Package querycache holds the last fetched snapshot of each resource query.
//
// Keys are slash-separated query keys ("projects", "projects/p1", "chat/p1"). Entries
// become stale after the cache's stale time or when invalidated; stale entries are still
// returned by Peek so callers can render them while refetching. The least recently used
// entry is evicted once capacity is reached.
package querycache

import (
	"strings"
	"sync"
	"time"
)

// Keys used by the resource services.
const (
	KeyProjects = "projects"
	KeyUser     = "user"
)

// ProjectKey returns the key of a single project.
func ProjectKey(id string) string { return "projects/" + id }

// UpdatesKey returns the key of a project's updates list.
func UpdatesKey(projectID string) string { return "updates/" + projectID }

// GalleryKey returns the key of a project's gallery.
func GalleryKey(projectID string) string { return "gallery/" + projectID }

// ChatKey returns the key of a project's chat history.
func ChatKey(projectID string) string { return "chat/" + projectID }

// WithQuery appends an encoded query string to key, so filtered lists are cached
// separately from the unfiltered one.
func WithQuery(key, encoded string) string {
	if encoded == "" {
		return key
	}
	return key + "?" + encoded
}

type entry struct {
	key         string
	val         any
	updatedAt   time.Time
	invalidated bool
	prev, next  *entry
}

// Cache is a thread-safe LRU of query snapshots.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	staleTime time.Duration
	now       func() time.Time
	items     map[string]*entry
	head      *entry // sentinel, most recent side
	tail      *entry // sentinel, least recent side
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache holding at most capacity entries that stay fresh for staleTime.
// A zero staleTime makes every entry stale as soon as it is stored.
func New(capacity int, staleTime time.Duration, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	head, tail := &entry{}, &entry{}
	head.next, tail.prev = tail, head
	c := &Cache{
		capacity:  capacity,
		staleTime: staleTime,
		now:       time.Now,
		items:     make(map[string]*entry, capacity),
		head:      head,
		tail:      tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores val under key as a fresh snapshot.
func (c *Cache) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.val = val
		e.updatedAt = c.now()
		e.invalidated = false
		c.touch(e)
		return
	}
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
	}
	e := &entry{key: key, val: val, updatedAt: c.now()}
	c.items[key] = e
	c.link(e)
}

// Get returns the snapshot under key only while it is fresh.
func (c *Cache) Get(key string) (any, bool) {
	val, fresh, ok := c.Peek(key)
	if !ok || !fresh {
		return nil, false
	}
	return val, true
}

// Peek returns the snapshot under key whether fresh or stale.
func (c *Cache) Peek(key string) (val any, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false, false
	}
	c.touch(e)
	return e.val, c.fresh(e), true
}

// Invalidate marks every entry whose key equals prefix or extends it with "/" or "?"
// as stale. It returns how many entries were marked.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.items {
		if matches(key, prefix) {
			e.invalidated = true
			n++
		}
	}
	return n
}

// Remove drops key entirely. It reports whether the key existed.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(e)
	delete(c.items, key)
	return true
}

// Len returns the number of entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops everything, used on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next, c.tail.prev = c.tail, c.head
	c.items = make(map[string]*entry, c.capacity)
}

// GetAs is Get with a type assertion.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	val, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := val.(T)
	return typed, ok
}

func matches(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+"/") || strings.HasPrefix(key, prefix+"?")
}

func (c *Cache) fresh(e *entry) bool {
	if e.invalidated {
		return false
	}
	return c.now().Sub(e.updatedAt) < c.staleTime
}

// list helpers, caller holds c.mu

func (c *Cache) link(e *entry) {
	e.prev, e.next = c.head, c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *Cache) touch(e *entry) {
	c.unlink(e)
	c.link(e)
}
