// Package services wraps core self-encryption and chunk storage for the
// HTTP controllers, the way walletserver/services wraps core wallet
// operations for its controllers.
package services

import (
	crand "crypto/rand"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"sectionnet/core"
)

// manifestEntry is what Service keeps per upload: the data map plus enough
// to decrypt it again on read.
type manifestEntry struct {
	dataMap  *core.DataMap
	scope    core.Scope
	ownerKey [32]byte
}

// Service is the gateway's storage backend: a local chunk store plus an
// in-memory manifest registry keyed by the address returned from Upload.
// It contains no consensus or replication logic of its own — every write
// it performs is a plain ChunkStore.Put, mirroring how a client talks to
// its own cache before a section-wide write quorum is reached.
type Service struct {
	store *core.ChunkStore

	mu        sync.RWMutex
	manifests map[core.ChunkAddress]*manifestEntry
}

// NewService opens (or creates) the chunk store rooted at dir.
func NewService(dir string) (*Service, error) {
	lg := logrus.New()
	lg.SetLevel(logrus.WarnLevel)
	store, err := core.NewChunkStore(&core.StorageConfig{CacheDir: dir, CacheSizeEntries: 4096}, lg)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, manifests: make(map[core.ChunkAddress]*manifestEntry)}, nil
}

// Upload self-encrypts data, persists its chunks, and registers the
// resulting data map under a manifest address derived from its own
// canonical encoding, returning that address for later Read calls.
func (s *Service) Upload(data []byte, private bool) (core.ChunkAddress, error) {
	scope := core.ScopePublic
	var ownerKey [32]byte
	if private {
		scope = core.ScopePrivate
		if _, err := crand.Read(ownerKey[:]); err != nil {
			return core.ChunkAddress{}, err
		}
	}

	dm, chunks, err := core.SelfEncrypt(data, scope, ownerKey)
	if err != nil {
		return core.ChunkAddress{}, err
	}
	for _, c := range chunks {
		if err := s.store.Put(c.Address, c.Data); err != nil {
			return core.ChunkAddress{}, err
		}
	}

	encoded, err := json.Marshal(dm)
	if err != nil {
		return core.ChunkAddress{}, err
	}
	addr := core.HashBytes(encoded)

	s.mu.Lock()
	s.manifests[addr] = &manifestEntry{dataMap: dm, scope: scope, ownerKey: ownerKey}
	s.mu.Unlock()

	return addr, nil
}

// Read reverses Upload for the [offset, offset+length) window of the
// payload registered under addr. length <= 0 means "to the end".
func (s *Service) Read(addr core.ChunkAddress, offset, length int) ([]byte, error) {
	s.mu.RLock()
	m, ok := s.manifests[addr]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrChunkNotFound
	}

	leaf, err := core.ResolveDataMap(m.dataMap, s.store.Get)
	if err != nil {
		return nil, err
	}

	if length <= 0 {
		length = leaf.TotalSize() - offset
	}
	firstIdx, lastIdx, startInFirst, endInLast := core.SeekRange(leaf, offset, length)
	if firstIdx < 0 {
		return nil, core.ErrChunkNotFound
	}

	parts := make([][]byte, 0, lastIdx-firstIdx+1)
	for i := firstIdx; i <= lastIdx; i++ {
		info := leaf.Chunks[i]
		ciphertext, err := s.store.Get(info.DstHash)
		if err != nil {
			return nil, err
		}
		plaintext, err := core.DecryptPart(info, ciphertext)
		if err != nil {
			return nil, err
		}
		parts = append(parts, plaintext)
	}
	return core.Reassemble(parts, startInFirst, endInLast), nil
}

// CalculateAddress is pure: it performs no storage I/O. It returns the
// address Upload returns for data uploaded with public scope (the SHA3-256
// of the JSON-encoded data map); a private upload's address depends on its
// random owner key and is not computed here.
func (s *Service) CalculateAddress(data []byte) core.ChunkAddress {
	dm, _, err := core.SelfEncrypt(data, core.ScopePublic, [32]byte{})
	if err != nil {
		return core.ChunkAddress{}
	}
	encoded, err := json.Marshal(dm)
	if err != nil {
		return core.ChunkAddress{}
	}
	return core.HashBytes(encoded)
}
