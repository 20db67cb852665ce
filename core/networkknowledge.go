package core

import (
	"fmt"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// ElderInfo is one elder's identity+address as carried in a SAP.
type ElderInfo struct {
	Name NodeName
	Addr string // opaque transport address (host:port), per Transport Adapter
}

// SAP (Section Authority Provider) is the authoritative, signed description
// of one section.
type SAP struct {
	Prefix          Prefix
	Elders          []ElderInfo // ordered, up to ElderSize
	SectionKey      bls.PublicKey
	Generation      uint64
	SigOverPrevious []byte // signature by the previous section key
}

// ElderNames returns the names of the SAP's elder set.
func (s SAP) ElderNames() []NodeName {
	out := make([]NodeName, len(s.Elders))
	for i, e := range s.Elders {
		out[i] = e.Name
	}
	return out
}

// SectionChain is the append-only list of BLS public keys, each signed by
// its predecessor. Any party that trusts any key in the chain can trust
// every later key — the chain is monotonically extending and never removes
// a key.
type SectionChain struct {
	mu   sync.RWMutex
	keys []bls.PublicKey
	// sigs[i] is the signature of keys[i] produced by keys[i-1]; sigs[0] is
	// the genesis key and carries no signature.
	sigs [][]byte
}

// NewSectionChain starts a chain at a genesis key.
func NewSectionChain(genesis bls.PublicKey) *SectionChain {
	return &SectionChain{keys: []bls.PublicKey{genesis}, sigs: [][]byte{nil}}
}

// Keys returns a snapshot of the chain, oldest first.
func (c *SectionChain) Keys() []bls.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]bls.PublicKey, len(c.keys))
	copy(out, c.keys)
	return out
}

// Head returns the most recent (current) section key.
func (c *SectionChain) Head() bls.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[len(c.keys)-1]
}

// Trusts reports whether key is already present in the chain.
func (c *SectionChain) Trusts(key bls.PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keys {
		if k.IsEqual(&key) {
			return true
		}
	}
	return false
}

// Extend appends newKey to the chain if sig is a valid signature of newKey's
// serialisation by the chain's current head. Returns an error if the new key
// does not chain from a trusted key (the message is then dropped, never
// inserted provisionally past this point).
func (c *SectionChain) Extend(newKey bls.PublicKey, sig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.keys[len(c.keys)-1]
	ok, err := VerifyAggregated(sig, head.Serialize(), newKey.Serialize())
	if err != nil {
		return fmt.Errorf("extend chain: %w", err)
	}
	if !ok {
		return ErrForgedSignature
	}
	c.keys = append(c.keys, newKey)
	c.sigs = append(c.sigs, sig)
	return nil
}

// ExtendViaProof walks a proof chain of (key, sig) pairs, applying Extend to
// each hop in order. Used when reconciling an AE Retry/Redirect response
// whose proof chain links our trusted key to a newer one.
func (c *SectionChain) ExtendViaProof(proof []ChainLink) error {
	for _, link := range proof {
		if c.Trusts(link.Key) {
			continue
		}
		if err := c.Extend(link.Key, link.Sig); err != nil {
			return err
		}
	}
	return nil
}

// ChainLink is one hop of a signed proof chain carried in AE Retry/Redirect
// responses.
type ChainLink struct {
	Key bls.PublicKey
	Sig []byte
}

// PrefixMap maps a Prefix to the latest signed SAP known for that section.
// Invariant: for every prefix P in the map, no strict prefix of P is also
// present — it is always a complete, disjoint cover of the name space as far
// as known.
type PrefixMap struct {
	mu      sync.RWMutex
	entries map[string]*SAP // keyed by a canonical prefix string
}

// NewPrefixMap creates a map seeded with a single root SAP.
func NewPrefixMap(root SAP) *PrefixMap {
	pm := &PrefixMap{entries: make(map[string]*SAP)}
	pm.entries[prefixKey(root.Prefix)] = &root
	return pm
}

func prefixKey(p Prefix) string {
	return fmt.Sprintf("%d:%x", p.BitLen, p.Bits[:(p.BitLen+7)/8])
}

// SectionFor returns the closest known entry covering name — an exact match
// if known, else the closest known ancestor prefix.
func (pm *PrefixMap) SectionFor(name NodeName) (*SAP, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	var best *SAP
	for _, sap := range pm.entries {
		if sap.Prefix.Matches(name) {
			if best == nil || sap.Prefix.BitLen > best.Prefix.BitLen {
				best = sap
			}
		}
	}
	return best, best != nil
}

// Update replaces the entry for sap.Prefix. A new SAP for a prefix is only
// applied if it chains from a key the caller already trusts (checked by
// caller via SectionChain before calling Update) — Update itself just
// maintains the disjointness invariant by evicting any strict
// sub/super-prefix entries the new SAP supersedes.
func (pm *PrefixMap) Update(sap SAP) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for k, existing := range pm.entries {
		if existing.Prefix.IsStrictPrefixOf(sap.Prefix) || sap.Prefix.IsStrictPrefixOf(existing.Prefix) {
			delete(pm.entries, k)
		}
	}
	cp := sap
	pm.entries[prefixKey(sap.Prefix)] = &cp
}

// AllPrefixes returns a snapshot of every known prefix, used to verify the
// disjointness invariant in tests.
func (pm *PrefixMap) AllPrefixes() []Prefix {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]Prefix, 0, len(pm.entries))
	for _, sap := range pm.entries {
		out = append(out, sap.Prefix)
	}
	return out
}

// MemberState is a Member Record's lifecycle state.
type MemberState int

const (
	StateJoined MemberState = iota
	StateRelocating
	StateLeft
)

// MemberRecord tracks one member of the section's roster. Mutated only by
// agreed membership decisions (never directly by a handler).
type MemberRecord struct {
	Name      NodeName
	Age       uint8
	PublicKey []byte // Ed25519 public key
	Addr      string
	State     MemberState
	RelocDst  Prefix // valid when State == StateRelocating
}

// NetworkKnowledge is the single value threaded through every handler,
// combining the prefix map and section chain for this node's own section.
// All writes are serialised through the owning mutex; reads may run
// concurrently with each other but never with a write.
type NetworkKnowledge struct {
	mu      sync.RWMutex
	ownSAP  SAP
	chain   *SectionChain
	prefMap *PrefixMap
	members map[NodeName]*MemberRecord
}

// NewNetworkKnowledge bootstraps knowledge for a node that has just learned
// its section's genesis SAP.
func NewNetworkKnowledge(genesis SAP) *NetworkKnowledge {
	return &NetworkKnowledge{
		ownSAP:  genesis,
		chain:   NewSectionChain(genesis.SectionKey),
		prefMap: NewPrefixMap(genesis),
		members: make(map[NodeName]*MemberRecord),
	}
}

// OwnSAP returns the latest SAP for this node's own section.
func (nk *NetworkKnowledge) OwnSAP() SAP {
	nk.mu.RLock()
	defer nk.mu.RUnlock()
	return nk.ownSAP
}

// Chain exposes the underlying section chain for verification purposes.
func (nk *NetworkKnowledge) Chain() *SectionChain { return nk.chain }

// PrefixMapSnapshot exposes the underlying prefix map.
func (nk *NetworkKnowledge) PrefixMapSnapshot() *PrefixMap { return nk.prefMap }

// UpdateSAP installs a new SAP for nk's own section, replacing the previous
// one only if its key already chains from a known key (checked via the
// chain) — the single serialisation point for SAP mutation named in the
// concurrency model.
func (nk *NetworkKnowledge) UpdateSAP(sap SAP, proof []ChainLink) error {
	nk.mu.Lock()
	defer nk.mu.Unlock()
	if !nk.chain.Trusts(sap.SectionKey) {
		if err := nk.chain.ExtendViaProof(proof); err != nil {
			return err
		}
		if !nk.chain.Trusts(sap.SectionKey) {
			return ErrUnknownKey
		}
	}
	nk.ownSAP = sap
	nk.prefMap.Update(sap)
	return nil
}

// ClosestSection returns the closest known SAP to name, which may be our own
// section or a remote one learned via AE/DKG.
func (nk *NetworkKnowledge) ClosestSection(name NodeName) (*SAP, bool) {
	return nk.prefMap.SectionFor(name)
}

// UpsertMember applies an agreed membership decision to the roster.
func (nk *NetworkKnowledge) UpsertMember(rec MemberRecord) {
	nk.mu.Lock()
	defer nk.mu.Unlock()
	nk.members[rec.Name] = &rec
}

// Member returns the roster entry for name, if known.
func (nk *NetworkKnowledge) Member(name NodeName) (MemberRecord, bool) {
	nk.mu.RLock()
	defer nk.mu.RUnlock()
	m, ok := nk.members[name]
	if !ok {
		return MemberRecord{}, false
	}
	return *m, true
}

// Elders computes the current elder set: the ElderSize oldest distinct-age
// joined members, ties broken by XOR distance to the section prefix centre
// (approximated here by the all-zero-extension name of the prefix).
func (nk *NetworkKnowledge) Elders() []MemberRecord {
	nk.mu.RLock()
	defer nk.mu.RUnlock()
	centre := nameFromPrefix(nk.ownSAP.Prefix)
	joined := make([]MemberRecord, 0, len(nk.members))
	for _, m := range nk.members {
		if m.State == StateJoined {
			joined = append(joined, *m)
		}
	}
	sortMembersForElderhood(joined, centre)
	if len(joined) > ElderSize {
		joined = joined[:ElderSize]
	}
	return joined
}

func sortMembersForElderhood(members []MemberRecord, centre NodeName) {
	// Oldest first; ties broken by XOR-distance to the section centre.
	for i := 1; i < len(members); i++ {
		for j := i; j > 0; j-- {
			a, b := members[j-1], members[j]
			swap := a.Age < b.Age || (a.Age == b.Age && CloserTo(centre, b.Name, a.Name))
			if !swap {
				break
			}
			members[j-1], members[j] = members[j], members[j-1]
		}
	}
}
