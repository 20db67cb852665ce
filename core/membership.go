package core

import (
	"crypto/ed25519"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// JoinState is a joining node's progress through the join protocol.
type JoinState int

const (
	JoinStateJoining JoinState = iota
	JoinStateAdult
	JoinStateElder
	JoinStateRelocating
)

// JoinRequest is sent by a joiner to every elder it knows of the target
// section.
type JoinRequest struct {
	NameCandidate       NodeName
	SectionKeyBelieved  []byte
	PublicKey           ed25519.PublicKey
}

// ResourceProofChallenge is the short proof-of-work challenge elders issue to
// rate-limit joins.
type ResourceProofChallenge struct {
	Seed       []byte
	Difficulty uint8
}

// ResourceProofResponse answers a challenge with a nonce such that
// sha3_256(seed || nonce) has at least Difficulty leading zero bits.
type ResourceProofResponse struct {
	Nonce uint64
}

// VerifyResourceProof checks a response against its challenge.
func VerifyResourceProof(ch ResourceProofChallenge, resp ResourceProofResponse) bool {
	digest := proofDigest(ch.Seed, resp.Nonce)
	return leadingZeroBits(digest) >= int(ch.Difficulty)
}

func proofDigest(seed []byte, nonce uint64) [32]byte {
	var nb [8]byte
	for i := 0; i < 8; i++ {
		nb[i] = byte(nonce >> (8 * uint(i)))
	}
	buf := append(append([]byte{}, seed...), nb[:]...)
	return sha3.Sum256(buf)
}

func leadingZeroBits(b [32]byte) int {
	count := 0
	for _, byt := range b {
		if byt == 0 {
			count += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if (byt>>uint(bit))&1 == 0 {
				count++
			} else {
				return count
			}
		}
	}
	return count
}

// JoinSession tracks one joiner's progress at a participating elder. Votes
// tracks which elders have locally confirmed the candidate's resource proof,
// so the elder set can require a concurring quorum before applying the join.
type JoinSession struct {
	Candidate  NodeName
	Challenge  ResourceProofChallenge
	Proven     bool
	ProposedAt time.Time
	Votes      *QuorumTracker
}

// MembershipManager runs the join / relocate / elder-churn workflows for a
// section, mutating NetworkKnowledge only via agreed decisions as required
// by the ownership rules.
type MembershipManager struct {
	logger *log.Logger
	nk     *NetworkKnowledge

	mu       sync.Mutex
	sessions map[NodeName]*JoinSession
}

// NewMembershipManager creates a manager bound to nk.
func NewMembershipManager(lg *log.Logger, nk *NetworkKnowledge) *MembershipManager {
	return &MembershipManager{
		logger:   lg,
		nk:       nk,
		sessions: make(map[NodeName]*JoinSession),
	}
}

// BeginJoin issues a resource-proof challenge for an incoming JoinRequest.
// electorate is the current elder set, used to size the concurrence quorum
// CompleteJoin requires before the join is considered agreed.
func (m *MembershipManager) BeginJoin(req JoinRequest, difficulty uint8, seed []byte, electorate int) ResourceProofChallenge {
	ch := ResourceProofChallenge{Seed: seed, Difficulty: difficulty}
	m.mu.Lock()
	m.sessions[req.NameCandidate] = &JoinSession{
		Candidate:  req.NameCandidate,
		Challenge:  ch,
		ProposedAt: time.Now(),
		Votes:      NewQuorumTracker(electorate, Threshold(electorate)),
	}
	m.mu.Unlock()
	return ch
}

// CompleteJoin verifies the candidate's proof response and records voter's
// concurrence. Agreement is reached once >= Threshold(electorate) distinct
// elders have called CompleteJoin with a valid proof for the same candidate;
// the caller should invoke ApplyJoin once this returns true.
func (m *MembershipManager) CompleteJoin(candidate NodeName, voter Address, resp ResourceProofResponse) bool {
	m.mu.Lock()
	sess, ok := m.sessions[candidate]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !VerifyResourceProof(sess.Challenge, resp) {
		return false
	}
	m.mu.Lock()
	sess.Proven = true
	sess.Votes.AddVote(voter)
	reached := sess.Votes.HasQuorum()
	m.mu.Unlock()
	return reached
}

// ApplyJoin installs the new member once membership consensus has agreed,
// and recomputes the elder set. Returns true if the new member is an elder
// of a full (ELDER_SIZE) elder set, signalling the caller should trigger DKG.
// While the section has fewer than ELDER_SIZE elders it returns false, so the
// join that brings the elder set to ELDER_SIZE triggers the first DKG.
func (m *MembershipManager) ApplyJoin(candidate NodeName, pub ed25519.PublicKey, addr string) (becameElder bool) {
	m.nk.UpsertMember(MemberRecord{
		Name:      candidate,
		Age:       1,
		PublicKey: pub,
		Addr:      addr,
		State:     StateJoined,
	})
	m.mu.Lock()
	delete(m.sessions, candidate)
	m.mu.Unlock()

	elders := m.nk.Elders()
	if len(elders) < ElderSize {
		return false
	}
	for _, e := range elders {
		if e.Name == candidate {
			return true
		}
	}
	return false
}

// RelocationCandidate selects the node to relocate when a child (infant) has
// just joined: the member whose name XORed with the churn-event hash is
// numerically smallest among existing members (age is not considered). Its
// new name is the SHA3-256 of its old name followed by the churn-event hash,
// so the destination section can recompute it without further coordination.
func RelocationCandidate(members []MemberRecord, churnEventHash [32]byte) (MemberRecord, NodeName, bool) {
	if len(members) == 0 {
		return MemberRecord{}, NodeName{}, false
	}
	best := members[0]
	bestScore := relocationScore(best, churnEventHash)
	for _, m := range members[1:] {
		score := relocationScore(m, churnEventHash)
		if score.Cmp(bestScore) < 0 {
			best, bestScore = m, score
		}
	}
	newName := deriveRelocatedName(best.Name, churnEventHash)
	return best, newName, true
}

func deriveRelocatedName(old NodeName, churnEventHash [32]byte) NodeName {
	buf := append(append([]byte{}, old[:]...), churnEventHash[:]...)
	return NodeName(sha3.Sum256(buf))
}

func relocationScore(m MemberRecord, churnEventHash [32]byte) *big.Int {
	combined := m.Name.XOR(NodeName(churnEventHash))
	return new(big.Int).SetBytes(combined[:])
}
