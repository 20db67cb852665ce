package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ChunkCache is the client-side read cache for fetched chunks: bounded by
// entry count, in-memory only, consulted before issuing a query to the
// network so repeat reads of the same chunk never re-cross the wire.
type ChunkCache struct {
	lru *lru.Cache[ChunkAddress, []byte]
}

// NewChunkCache creates a cache holding up to capacity chunks.
func NewChunkCache(capacity int) (*ChunkCache, error) {
	if capacity <= 0 {
		capacity = 256
	}
	c, err := lru.New[ChunkAddress, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &ChunkCache{lru: c}, nil
}

// Get returns the cached bytes for addr, if present.
func (cc *ChunkCache) Get(addr ChunkAddress) ([]byte, bool) {
	return cc.lru.Get(addr)
}

// Put stores data under addr, evicting the least recently used entry if the
// cache is at capacity.
func (cc *ChunkCache) Put(addr ChunkAddress, data []byte) {
	cc.lru.Add(addr, data)
}

// Len reports the number of chunks currently cached.
func (cc *ChunkCache) Len() int {
	return cc.lru.Len()
}
