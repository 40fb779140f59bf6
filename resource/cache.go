package resource

import "sync"

// Entry is what the cache remembers about a URL. Content is only kept for
// CSS and SVG, which must be re-parsed when their dependencies change.
type Entry struct {
	URL          string
	ContentType  string
	Hash         string
	Content      []byte
	Dependencies []string
}

// ToEntry converts a resource into a cache entry, dropping the content of
// types that never reference other resources.
func ToEntry(r *Resource) Entry {
	e := Entry{URL: r.URL, ContentType: r.ContentType, Hash: r.SHA256()}
	if k := r.Kind(); k == KindCSS || k == KindSVG {
		e.Content = r.Content()
	}
	return e
}

// Resource rebuilds a resource from the entry. Entries without content
// become hash-only resources.
func (e Entry) Resource() *Resource {
	if e.Content != nil {
		return New(e.URL, e.ContentType, e.Content)
	}
	return WithHash(e.URL, e.ContentType, e.Hash)
}

// Cache maps URLs to what was learned about them, including the URLs they
// reference. It is safe for concurrent use; writes are last-writer-wins per
// key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	deps    map[string][]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Entry), deps: make(map[string][]string)}
}

// Get returns the entry for url.
func (c *Cache) Get(url string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	if ok {
		e.Dependencies = c.deps[url]
	}
	return e, ok
}

// Set stores e under url. Recorded dependencies are kept.
func (c *Cache) Set(url string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.URL = url
	e.Dependencies = nil
	c.entries[url] = e
}

// SetContentful stores e under url unless e has no content and the
// current entry does. It reports whether e was stored.
func (c *Cache) SetContentful(url string, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[url]; ok && cur.Content != nil && e.Content == nil {
		return false
	}
	e.URL = url
	e.Dependencies = nil
	c.entries[url] = e
	return true
}

// SetDependencies records the URLs discovered while parsing url.
func (c *Cache) SetDependencies(url string, deps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[url] = append([]string(nil), deps...)
}

// Remove forgets url and its dependency edges.
func (c *Cache) Remove(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	delete(c.deps, url)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetWithDependencies returns the entry for url plus every entry reachable
// through recorded dependency edges. It returns nil when url itself is not
// cached. Dependencies missing from the cache are skipped and cycles are
// visited once.
func (c *Cache) GetWithDependencies(url string) map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.entries[url]; !ok {
		return nil
	}
	out := make(map[string]Entry)
	stack := []string{url}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := out[u]; done {
			continue
		}
		e, ok := c.entries[u]
		if !ok {
			continue
		}
		e.Dependencies = c.deps[u]
		out[u] = e
		stack = append(stack, c.deps[u]...)
	}
	return out
}

// Entries returns a copy of every entry with its dependencies.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for u, e := range c.entries {
		e.Dependencies = c.deps[u]
		out = append(out, e)
	}
	return out
}
