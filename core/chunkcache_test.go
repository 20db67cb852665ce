package core

import "testing"

func TestChunkCachePutGet(t *testing.T) {
	cc, err := NewChunkCache(2)
	if err != nil {
		t.Fatalf("NewChunkCache: %v", err)
	}

	a := HashBytes([]byte("alpha"))
	b := HashBytes([]byte("bravo"))

	cc.Put(a, []byte("alpha"))
	if got, ok := cc.Get(a); !ok || string(got) != "alpha" {
		t.Fatalf("expected cached alpha, got %q ok=%v", got, ok)
	}
	if _, ok := cc.Get(b); ok {
		t.Fatalf("expected bravo to be absent")
	}
	if cc.Len() != 1 {
		t.Fatalf("expected len 1, got %d", cc.Len())
	}
}

func TestChunkCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cc, err := NewChunkCache(2)
	if err != nil {
		t.Fatalf("NewChunkCache: %v", err)
	}

	a := HashBytes([]byte("alpha"))
	b := HashBytes([]byte("bravo"))
	c := HashBytes([]byte("charlie"))

	cc.Put(a, []byte("alpha"))
	cc.Put(b, []byte("bravo"))
	cc.Put(c, []byte("charlie"))

	if _, ok := cc.Get(a); ok {
		t.Fatalf("expected alpha to have been evicted")
	}
	if _, ok := cc.Get(b); !ok {
		t.Fatalf("expected bravo to remain cached")
	}
	if _, ok := cc.Get(c); !ok {
		t.Fatalf("expected charlie to remain cached")
	}
}

func TestNewChunkCacheDefaultsNonPositiveCapacity(t *testing.T) {
	cc, err := NewChunkCache(0)
	if err != nil {
		t.Fatalf("NewChunkCache: %v", err)
	}
	if cc.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}
