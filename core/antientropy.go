package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// AntiEntropyEngine maintains the invariant that a node never acts on a
// message whose destination key disagrees with its current section key
// without first reconciling. It inspects every incoming WireMsg's
// destination location against local NetworkKnowledge and decides one of
// AEAccept / AERedirect / AERetry / AEProbeDrop.
type AntiEntropyEngine struct {
	logger *log.Logger
	nk     *NetworkKnowledge
	clock  clock.Clock

	mu       sync.Mutex
	backoffs map[NodeName]*backoffState

	backoffInitial time.Duration
	backoffCap     time.Duration
	backoffReset   time.Duration
}

type backoffState struct {
	current  time.Duration
	lastSent time.Time
}

// NewAntiEntropyEngine wires an engine against nk, logging through lg.
func NewAntiEntropyEngine(lg *log.Logger, nk *NetworkKnowledge, clk clock.Clock, initial, cap_, reset time.Duration) *AntiEntropyEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &AntiEntropyEngine{
		logger:         lg,
		nk:             nk,
		clock:          clk,
		backoffs:       make(map[NodeName]*backoffState),
		backoffInitial: initial,
		backoffCap:     cap_,
		backoffReset:   reset,
	}
}

// AEDecision is the outcome of checking an incoming message's destination
// key/prefix against local knowledge.
type AEDecision struct {
	Action     AEAction
	RedirectTo *SAP
	RetrySAP   *SAP
	ProofChain []ChainLink
}

// Check implements the four-way case table from the anti-entropy design:
// wrong prefix -> Redirect; matching prefix and current key -> Accept;
// matching prefix and stale key -> Retry, carrying the current SAP and the
// proof chain from the stale key to the chain head; matching prefix and
// unknown key -> ProbeDrop.
func (ae *AntiEntropyEngine) Check(dst DstLocation) AEDecision {
	own := ae.nk.OwnSAP()

	if !own.Prefix.Matches(dst.Name) {
		if closest, ok := ae.nk.ClosestSection(dst.Name); ok {
			return AEDecision{Action: AERedirect, RedirectTo: closest}
		}
		return AEDecision{Action: AEProbeDrop}
	}

	currentSer := own.SectionKey.Serialize()
	if bytesEqual(dst.SectionPK, currentSer) {
		return AEDecision{Action: AEAccept}
	}

	// dst prefix matches; is dst_key an older key we recognise in our chain?
	chain := ae.nk.Chain()
	chain.mu.RLock()
	defer chain.mu.RUnlock()
	for i, k := range chain.keys {
		if bytesEqual(dst.SectionPK, k.Serialize()) {
			proof := make([]ChainLink, 0, len(chain.keys)-i-1)
			for j := i + 1; j < len(chain.keys); j++ {
				proof = append(proof, ChainLink{Key: chain.keys[j], Sig: chain.sigs[j]})
			}
			sapCopy := own
			return AEDecision{Action: AERetry, RetrySAP: &sapCopy, ProofChain: proof}
		}
	}

	return AEDecision{Action: AEProbeDrop}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyUpdate reconciles a Retry/Redirect/Update response: it verifies the
// carried proof chain links back to a key we already trust, then extends the
// local chain and prefix map. Applying the same update twice is a no-op
// (idempotent), satisfying the round-trip property in the testable
// properties section.
func (ae *AntiEntropyEngine) ApplyUpdate(sap SAP, proof []ChainLink) error {
	return ae.nk.UpdateSAP(sap, proof)
}

// ShouldSend reports whether an AE response to peer may be sent now,
// honouring exponential back-off: starts at backoffInitial, doubles each
// send, caps at backoffCap, resets after backoffReset of quiet.
func (ae *AntiEntropyEngine) ShouldSend(peer NodeName) bool {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	now := ae.clock.Now()
	bs, ok := ae.backoffs[peer]
	if !ok {
		ae.backoffs[peer] = &backoffState{current: ae.backoffInitial, lastSent: now}
		return true
	}

	if now.Sub(bs.lastSent) >= ae.backoffReset {
		bs.current = ae.backoffInitial
		bs.lastSent = now
		return true
	}

	if now.Sub(bs.lastSent) >= bs.current {
		bs.lastSent = now
		bs.current *= 2
		if bs.current > ae.backoffCap {
			bs.current = ae.backoffCap
		}
		return true
	}

	return false
}

// ResendTracker bounds the number of times a single outgoing message is
// resent in response to AE Retry/Redirect, per MAX_AE_ROUNDS.
type ResendTracker struct {
	mu     sync.Mutex
	rounds map[[16]byte]int
	max    int
}

// NewResendTracker creates a tracker allowing up to max resends per message.
func NewResendTracker(max int) *ResendTracker {
	return &ResendTracker{rounds: make(map[[16]byte]int), max: max}
}

// Attempt records a resend attempt for msgID. It returns false once max
// resends have already occurred, at which point the caller must abandon the
// message (ErrAbandoned) and surface a user-visible error.
func (rt *ResendTracker) Attempt(msgID [16]byte) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := rt.rounds[msgID]
	if n >= rt.max {
		return false
	}
	rt.rounds[msgID] = n + 1
	return true
}

// Forget drops tracking state for msgID once it has been handled or
// abandoned.
func (rt *ResendTracker) Forget(msgID [16]byte) {
	rt.mu.Lock()
	delete(rt.rounds, msgID)
	rt.mu.Unlock()
}
