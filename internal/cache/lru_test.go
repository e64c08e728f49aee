package cache

import (
	"strconv"
	"testing"
	"time"
)

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("empty cache must miss")
	}

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("overwrite lost: got %d", v)
	}
	if c.Size() != 1 {
		t.Errorf("size: got %d, want 1", c.Size())
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](3, time.Minute)
	for i := 0; i < 4; i++ {
		c.Set(strconv.Itoa(i), i)
	}

	if c.Size() != 3 {
		t.Fatalf("size: got %d, want 3", c.Size())
	}
	if _, ok := c.Get("0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("3"); !ok {
		t.Error("newest entry missing")
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache[string](10, 10*time.Millisecond)
	c.Set("k", "v")

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry must miss")
	}
	if n := c.CleanExpired(); n != 0 {
		// Get already removed it.
		t.Errorf("CleanExpired: got %d, want 0", n)
	}
}

func TestLRUCachePurge(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Purge()
	if c.Size() != 0 {
		t.Errorf("size after purge: got %d", c.Size())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("purged entry must miss")
	}
}
