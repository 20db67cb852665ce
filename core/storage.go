// core/storage.go
package core

// Chunk storage — content-addressed, disk-backed LRU cache used by both the
// client-side chunk cache and an adult node's local holder store.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// LRU on-disk cache implementation
// -----------------------------------------------------------------------------

const defaultCacheEntries = 10_000

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskLRU{
		dir:   dir,
		max:   maxEntries,
		index: make(map[string]*diskEntry),
	}, nil
}

func (l *diskLRU) put(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.index[key]; ok {
		ent.at = time.Now()
		return nil // already cached
	}

	if len(l.index) >= l.max && len(l.order) > 0 {
		oldest := l.order[0]
		_ = os.Remove(oldest.path)
		delete(l.index, filepath.Base(oldest.path))
		l.order = l.order[1:]
	}

	p := filepath.Join(l.dir, key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	ent := &diskEntry{path: p, size: int64(len(data)), at: time.Now()}
	l.index[key] = ent
	l.order = append(l.order, ent)
	return nil
}

func (l *diskLRU) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.index[key]
	if !ok {
		return nil, false
	}
	ent.at = time.Now()
	for i, e := range l.order {
		if e == ent {
			l.order = append(append(l.order[:i:i], l.order[i+1:]...), ent)
			break
		}
	}

	b, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (l *diskLRU) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[key]
	return ok
}

// -----------------------------------------------------------------------------
// ChunkStore
// -----------------------------------------------------------------------------

// NewChunkStore wires a disk-backed content-addressed chunk store.
func NewChunkStore(cfg *StorageConfig, lg *logrus.Logger) (*ChunkStore, error) {
	if cfg == nil {
		cfg = &StorageConfig{CacheDir: "chunks", CacheSizeEntries: defaultCacheEntries}
	}
	cache, err := newDiskLRU(cfg.CacheDir, cfg.CacheSizeEntries)
	if err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	cs := &ChunkStore{logger: lg, cfg: cfg, cache: cache}
	lg.Infof("chunkstore: dir %s", cfg.CacheDir)
	return cs, nil
}

// Put writes an encrypted chunk to local disk, keyed by its content address.
// Idempotent: storing the same address twice is a no-op.
func (s *ChunkStore) Put(addr ChunkAddress, data []byte) error {
	if HashBytes(data) != addr {
		return newErr(KindProtocol, "ChunkStore.Put", ErrHashMismatch)
	}
	return s.cache.put(addr.String(), data)
}

// Get returns the bytes stored under addr, or ErrChunkNotFound.
func (s *ChunkStore) Get(addr ChunkAddress) ([]byte, error) {
	b, ok := s.cache.get(addr.String())
	if !ok {
		return nil, newErr(KindNotFound, "ChunkStore.Get", ErrChunkNotFound)
	}
	return b, nil
}

// Has reports whether addr is stored locally, without touching its LRU
// position the way Get does.
func (s *ChunkStore) Has(addr ChunkAddress) bool {
	return s.cache.has(addr.String())
}
