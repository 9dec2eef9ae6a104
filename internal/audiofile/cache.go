package audiofile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// CacheStats tracks cache effectiveness.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
	Size    int64
}

// Cache is a disk store for rendered audio segments, keyed by the
// synthesis inputs. Entries are zstd compressed; a re-run of the same book
// with the same voice skips synthesis entirely for unchanged text.
type Cache struct {
	dir     string
	maxSize int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	size  int64
	stats CacheStats
}

// NewCache opens (creating if needed) a cache directory. maxSize of 0
// means unbounded.
func NewCache(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		encoder: encoder,
		decoder: decoder,
	}
	c.scan()
	return c, nil
}

// Key derives the cache key for a synthesis unit.
func Key(text, adapter, voice string, rate float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%.3f", text, adapter, voice, rate)))
	return hex.EncodeToString(h[:])
}

// Get returns the cached audio for a key, or false on a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	compressed, err := os.ReadFile(c.path(key))
	if err != nil {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	data, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		log.Warn("corrupt cache entry, removing", "key", key, "error", err)
		os.Remove(c.path(key))
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return data, true
}

// Put stores audio under a key. Write failures are returned but callers
// usually treat them as non-fatal.
func (c *Cache) Put(key string, data []byte) error {
	compressed := c.encoder.EncodeAll(data, nil)

	path := c.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	c.mu.Lock()
	c.size += int64(len(compressed))
	c.stats.Entries++
	c.stats.Size = c.size
	over := c.maxSize > 0 && c.size > c.maxSize
	c.mu.Unlock()

	if over {
		c.evictOldest()
	}
	return nil
}

// Contains reports whether a key is cached.
func (c *Cache) Contains(key string) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Clear removes every cache entry.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".zst" {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	c.mu.Lock()
	c.size = 0
	c.stats.Entries = 0
	c.stats.Size = 0
	c.mu.Unlock()
	return nil
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases the compressor state.
func (c *Cache) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".zst")
}

// scan sizes the existing cache contents at startup.
func (c *Cache) scan() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	var size int64
	var count int
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".zst" {
			continue
		}
		if info, err := e.Info(); err == nil {
			size += info.Size()
			count++
		}
	}
	c.mu.Lock()
	c.size = size
	c.stats.Entries = count
	c.stats.Size = size
	c.mu.Unlock()
	if count > 0 {
		log.Debug("audio cache loaded",
			"entries", count, "size", humanize.Bytes(uint64(size)))
	}
}

// evictOldest removes least recently modified entries until the cache fits
// its budget again.
func (c *Cache) evictOldest() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type candidate struct {
		name    string
		size    int64
		modTime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".zst" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{e.Name(), info.Size(), info.ModTime()})
	}

	for i := 0; i < len(files); i++ {
		oldest := i
		for j := i + 1; j < len(files); j++ {
			if files[j].modTime.Before(files[oldest].modTime) {
				oldest = j
			}
		}
		files[i], files[oldest] = files[oldest], files[i]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		if c.size <= c.maxSize {
			break
		}
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			continue
		}
		c.size -= f.size
		c.stats.Entries--
		log.Debug("evicted cache entry", "file", f.name, "size", humanize.Bytes(uint64(f.size)))
	}
	c.stats.Size = c.size
}
