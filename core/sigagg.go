package core

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// aggregationKey identifies one in-flight aggregation: the hash of the
// payload being signed, combined with the proposal id so that two distinct
// proposals over identical bytes never collide.
type aggregationKey [32]byte

func makeAggregationKey(payload []byte, proposalID [16]byte) aggregationKey {
	h := sha256.New()
	h.Write(payload)
	h.Write(proposalID[:])
	var k aggregationKey
	copy(k[:], h.Sum(nil))
	return k
}

// AggregationEntry tracks the shares observed so far for one payload.
type AggregationEntry struct {
	PayloadHash aggregationKey
	Payload     []byte
	Shares      map[int][]byte // elder index -> serialised BLS share
	insertedAt  time.Time
}

// SignatureAggregator combines BLS signature shares into a section signature
// once the threshold for the signing SAP is met. Keyed by the SHA-256 of the
// payload followed by the proposal ID (makeAggregationKey); entries are
// purged lazily, on every insert, once older than aggregationTTL.
type SignatureAggregator struct {
	mu            sync.Mutex
	entries       map[aggregationKey]*AggregationEntry
	aggregationTTL time.Duration
	clock         clock.Clock
}

// NewSignatureAggregator creates an aggregator with the given share TTL. Pass
// clock.New() in production and a clock.NewMock() in tests for deterministic
// expiry.
func NewSignatureAggregator(ttl time.Duration, clk clock.Clock) *SignatureAggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &SignatureAggregator{
		entries:        make(map[aggregationKey]*AggregationEntry),
		aggregationTTL: ttl,
		clock:          clk,
	}
}

// AggregationResult is returned once the threshold is met.
type AggregationResult struct {
	Payload   []byte
	Signature []byte // combined section signature
}

// AddShare inserts a share from elderIdx for payload/proposalID. sap is the
// signing set's current SAP: shares from elders outside it are rejected with
// ErrInvalidShare. Returns (result, true) once >= threshold(len(sap.Elders))
// distinct shares have been observed for this key; the entry is evicted at
// that point. Order of arrival does not matter.
func (a *SignatureAggregator) AddShare(sap SAP, proposalID [16]byte, payload []byte, elderIdx int, share []byte) (*AggregationResult, error) {
	if !elderIndexInSAP(sap, elderIdx) {
		return nil, ErrInvalidShare
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.purgeExpiredLocked()

	key := makeAggregationKey(payload, proposalID)
	entry, ok := a.entries[key]
	if !ok {
		entry = &AggregationEntry{
			PayloadHash: key,
			Payload:     payload,
			Shares:      make(map[int][]byte),
			insertedAt:  a.clock.Now(),
		}
		a.entries[key] = entry
	}

	if _, dup := entry.Shares[elderIdx]; !dup {
		entry.Shares[elderIdx] = share
	}

	threshold := Threshold(len(sap.Elders))
	if len(entry.Shares) < threshold {
		return nil, nil
	}

	sigs := make([][]byte, 0, len(entry.Shares))
	for _, s := range entry.Shares {
		sigs = append(sigs, s)
	}
	combined, err := AggregateBLSSigs(sigs)
	if err != nil {
		return nil, err
	}

	delete(a.entries, key)
	return &AggregationResult{Payload: entry.Payload, Signature: combined}, nil
}

// Pending reports how many distinct shares have been observed for a key,
// used by tests to assert threshold behaviour without triggering it.
func (a *SignatureAggregator) Pending(proposalID [16]byte, payload []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := makeAggregationKey(payload, proposalID)
	if e, ok := a.entries[key]; ok {
		return len(e.Shares)
	}
	return 0
}

func (a *SignatureAggregator) purgeExpiredLocked() {
	cutoff := a.clock.Now().Add(-a.aggregationTTL)
	for k, e := range a.entries {
		if e.insertedAt.Before(cutoff) {
			delete(a.entries, k)
		}
	}
}

func elderIndexInSAP(sap SAP, idx int) bool {
	// Elder indices are 1-based and assigned by position in the SAP's elder
	// ordering, matching the DKG participant order (see dkg.go).
	return idx >= 1 && idx <= len(sap.Elders)
}
