package audiofile

import (
	"bytes"
	"testing"
)

func newTestCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), maxSize)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, 0)
	key := Key("hello world", "espeak", "en-us", 1.0)
	data := bytes.Repeat([]byte("audio"), 100)

	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache must miss")
	}
	if err := c.Put(key, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get after Put must hit")
	}
	if !bytes.Equal(got, data) {
		t.Error("cached data does not round-trip")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats hits=%d misses=%d, want 1/1", stats.Hits, stats.Misses)
	}
}

func TestCacheKeyIsInputSensitive(t *testing.T) {
	base := Key("text", "espeak", "en-us", 1.0)
	if Key("text", "gtts", "en-us", 1.0) == base {
		t.Error("adapter must affect the key")
	}
	if Key("text", "espeak", "en-gb", 1.0) == base {
		t.Error("voice must affect the key")
	}
	if Key("text", "espeak", "en-us", 1.5) == base {
		t.Error("rate must affect the key")
	}
}

func TestCachePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	key := Key("persistent", "espeak", "en-us", 1.0)

	c1, err := NewCache(dir, 0)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if err := c1.Put(key, []byte("audio bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c1.Close()

	c2, err := NewCache(dir, 0)
	if err != nil {
		t.Fatalf("NewCache reopen: %v", err)
	}
	defer c2.Close()
	if _, ok := c2.Get(key); !ok {
		t.Error("entry should survive a reopen")
	}
	if c2.Stats().Entries != 1 {
		t.Errorf("entries after reopen = %d, want 1", c2.Stats().Entries)
	}
}

func TestCacheClear(t *testing.T) {
	c := newTestCache(t, 0)
	key := Key("gone", "espeak", "en-us", 1.0)
	c.Put(key, []byte("data"))

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.Contains(key) {
		t.Error("cleared cache must not contain the key")
	}
}
