package resolver

import "sync"

type matrixSetKey struct {
	baseURL string
	layerID string
}

// MatrixSetCache remembers the tile matrix set discovered for each
// (base URL, layer) pair. Entries live for the session: the first write for
// a key wins and nothing is evicted until Clear.
type MatrixSetCache struct {
	mu      sync.RWMutex
	entries map[matrixSetKey]string
}

// NewMatrixSetCache creates an empty cache
func NewMatrixSetCache() *MatrixSetCache {
	return &MatrixSetCache{entries: make(map[matrixSetKey]string)}
}

// Get returns the cached matrix set name
func (c *MatrixSetCache) Get(baseURL, layerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.entries[matrixSetKey{baseURL, layerID}]
	return name, ok
}

// Set stores name unless the key already has a value. It reports whether
// the value was stored.
func (c *MatrixSetCache) Set(baseURL, layerID, name string) bool {
	if name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := matrixSetKey{baseURL, layerID}
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = name
	return true
}

// Len returns the number of cached entries
func (c *MatrixSetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry
func (c *MatrixSetCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[matrixSetKey]string)
}
