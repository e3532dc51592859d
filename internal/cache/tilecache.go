// Package cache is a disk cache for upstream tiles keyed by request URL.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

const indexFile = "cache_index.json"

// TileCache provides LRU caching for tiles with disk persistence. Files live
// at {baseDir}/{hash[:2]}/{hash} where hash is the sha256 of the URL, and a
// JSON index keyed by hash survives restarts.
type TileCache struct {
	baseDir string
	maxSize int64
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	index    map[string]*Entry
	currSize int64

	evictChan chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Entry represents a cached tile
type Entry struct {
	Hash        string    `json:"hash"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	AccessTime  time.Time `json:"accessTime"`
	CreateTime  time.Time `json:"createTime"`
}

// Stats is a snapshot of cache usage
type Stats struct {
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"sizeBytes"`
	MaxBytes  int64  `json:"maxBytes"`
	TTLDays   int    `json:"ttlDays"`
	Path      string `json:"path"`
}

// New opens (or creates) the cache described by cfg
func New(cfg Config, logger *zap.Logger) (*TileCache, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &TileCache{
		baseDir:   cfg.Dir,
		maxSize:   int64(cfg.MaxSizeMB) * 1024 * 1024,
		ttl:       cfg.TTL(),
		logger:    logger.Named("cache"),
		now:       time.Now,
		index:     make(map[string]*Entry),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadIndex(); err != nil {
		c.logger.Warn("cache index unreadable, rebuilding", zap.Error(err))
		if err := c.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	c.wg.Add(1)
	go c.evictionWorker()

	return c, nil
}

// Key returns the content address of a URL
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *TileCache) filePath(hash string) string {
	return filepath.Join(c.baseDir, hash[:2], hash)
}

func (c *TileCache) expired(e *Entry) bool {
	return c.ttl > 0 && c.now().Sub(e.CreateTime) > c.ttl
}

// Get retrieves a tile and its content type
func (c *TileCache) Get(url string) ([]byte, string, bool) {
	hash := Key(url)

	c.mu.RLock()
	entry, ok := c.index[hash]
	c.mu.RUnlock()
	if !ok {
		return nil, "", false
	}

	if c.expired(entry) {
		c.remove(hash)
		return nil, "", false
	}

	data, err := os.ReadFile(c.filePath(hash))
	if err != nil {
		c.remove(hash)
		return nil, "", false
	}

	c.mu.Lock()
	entry.AccessTime = c.now()
	contentType := entry.ContentType
	c.mu.Unlock()

	return data, contentType, true
}

// Set stores a tile
func (c *TileCache) Set(url, contentType string, data []byte) error {
	hash := Key(url)
	path := c.filePath(hash)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := c.now()
	entry := &Entry{
		Hash:        hash,
		URL:         url,
		ContentType: contentType,
		Size:        int64(len(data)),
		AccessTime:  now,
		CreateTime:  now,
	}

	c.mu.Lock()
	if old, ok := c.index[hash]; ok {
		c.currSize -= old.Size
	}
	c.index[hash] = entry
	c.currSize += entry.Size
	over := c.currSize > c.maxSize
	err := c.saveIndexLocked()
	c.mu.Unlock()

	if over {
		select {
		case c.evictChan <- struct{}{}:
		default: // already signaled
		}
	}
	return err
}

func (c *TileCache) remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(hash)
}

func (c *TileCache) removeLocked(hash string) {
	entry, ok := c.index[hash]
	if !ok {
		return
	}
	os.Remove(c.filePath(hash))
	delete(c.index, hash)
	c.currSize -= entry.Size
}

func (c *TileCache) evictionWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.evictChan:
			c.Evict()
		}
	}
}

// Evict removes least recently used tiles until the cache is at 80% of its
// maximum size. It returns the number of removed entries.
func (c *TileCache) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currSize <= c.maxSize {
		return 0
	}
	target := c.maxSize * 8 / 10

	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		return a.AccessTime.Compare(b.AccessTime)
	})

	removed := 0
	for _, e := range entries {
		if c.currSize <= target {
			break
		}
		c.removeLocked(e.Hash)
		removed++
	}
	if removed > 0 {
		if err := c.saveIndexLocked(); err != nil {
			c.logger.Warn("save cache index", zap.Error(err))
		}
		c.logger.Debug("evicted tiles", zap.Int("count", removed), zap.Int64("size", c.currSize))
	}
	return removed
}

// EvictExpired removes entries older than the TTL and returns how many were
// removed
func (c *TileCache) EvictExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for hash, e := range c.index {
		if c.expired(e) {
			expired = append(expired, hash)
		}
	}
	for _, hash := range expired {
		c.removeLocked(hash)
	}
	if len(expired) > 0 {
		if err := c.saveIndexLocked(); err != nil {
			c.logger.Warn("save cache index", zap.Error(err))
		}
	}
	return len(expired)
}

func (c *TileCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("index not found")
		}
		return fmt.Errorf("failed to read index: %w", err)
	}

	var index map[string]*Entry
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	if index == nil {
		index = make(map[string]*Entry)
	}

	var total int64
	for hash, e := range index {
		e.Hash = hash
		total += e.Size
	}
	c.index = index
	c.currSize = total
	return nil
}

// saveIndexLocked writes the index with a temp file and rename. The caller
// holds mu.
func (c *TileCache) saveIndexLocked() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	path := filepath.Join(c.baseDir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename index file: %w", err)
	}
	return nil
}

// rebuildIndex scans the cache directory. URLs and content types are lost,
// lookups still work because entries are keyed by hash.
func (c *TileCache) rebuildIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]*Entry)
	c.currSize = 0

	err := filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if len(name) != sha256.Size*2 || filepath.Base(filepath.Dir(path)) != name[:2] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		c.index[name] = &Entry{
			Hash:       name,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		c.currSize += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}
	return c.saveIndexLocked()
}

// Stats returns cache statistics
func (c *TileCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.index),
		SizeBytes: c.currSize,
		MaxBytes:  c.maxSize,
		TTLDays:   int(c.ttl / (24 * time.Hour)),
		Path:      c.baseDir,
	}
}

// Clear removes all cached tiles
func (c *TileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash := range c.index {
		os.Remove(c.filePath(hash))
	}
	c.index = make(map[string]*Entry)
	c.currSize = 0

	return c.saveIndexLocked()
}

// GetCachePath returns the base directory of the cache
func (c *TileCache) GetCachePath() string {
	return c.baseDir
}

// Close stops the eviction worker and persists access times
func (c *TileCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		err = c.saveIndexLocked()
		c.mu.Unlock()
	})
	return err
}
