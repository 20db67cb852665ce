package core

import (
	"sync"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DkgPhase is a DKG session's position in its state machine:
//
//	Started -> Contributing -> Finalising -> {Succeeded(new_sap) | Failed(reason)}
type DkgPhase int

const (
	DkgStarted DkgPhase = iota
	DkgContributing
	DkgFinalising
	DkgSucceeded
	DkgFailed
)

// DkgFailureObservation is emitted by a participant when its local session
// times out without finalising.
type DkgFailureObservation struct {
	SessionID [16]byte
	Reporter  NodeName
	Reason    string
}

// DkgSession runs one key-generation round for an elder-set change,
// producing a new section BLS key plus a secret share for each participant
// (see Finalise for how the shares are formed).
type DkgSession struct {
	mu         sync.Mutex
	ID         [16]byte
	Prefix     Prefix
	Generation uint64
	Candidates []NodeName // proposed new elder set, DKG participant order

	phase      DkgPhase
	contribs   map[NodeName]bls.SecretKey // per-participant polynomial secret
	shares     map[NodeName]bls.SecretKey // combined share per participant, once finalised
	groupPub   bls.PublicKey
	failures   map[NodeName]string
	startedAt  time.Time
	timeout    time.Duration
}

// NewDkgSession starts a session for candidates, the proposed participant
// set in a fixed order (index i+1 is participant i's share index).
func NewDkgSession(prefix Prefix, generation uint64, candidates []NodeName, timeout time.Duration) *DkgSession {
	id := uuid.New()
	var sid [16]byte
	copy(sid[:], id[:])
	return &DkgSession{
		ID:         sid,
		Prefix:     prefix,
		Generation: generation,
		Candidates: candidates,
		phase:      DkgStarted,
		contribs:   make(map[NodeName]bls.SecretKey),
		shares:     make(map[NodeName]bls.SecretKey),
		failures:   make(map[NodeName]string),
		startedAt:  time.Now(),
		timeout:    timeout,
	}
}

// Contribute records participant's secret contribution and moves the session
// to Contributing. It returns true once every candidate has contributed; the
// phase stays Contributing until Finalise is called.
func (s *DkgSession) Contribute(participant NodeName, secret bls.SecretKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != DkgStarted && s.phase != DkgContributing {
		return false
	}
	s.phase = DkgContributing
	s.contribs[participant] = secret
	return len(s.contribs) >= len(s.Candidates)
}

// Finalise sums all recorded contributions into a group secret and returns
// its public key as the group key, together with a share for every
// candidate. Each candidate's share is the group secret itself; the secret
// is not split into distinct per-participant shares.
func (s *DkgSession) Finalise() (bls.PublicKey, map[NodeName]bls.SecretKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.contribs) < len(s.Candidates) {
		return bls.PublicKey{}, nil, ErrDKGFailed
	}
	s.phase = DkgFinalising

	var groupSecret bls.SecretKey
	first := true
	for _, c := range s.contribs {
		if first {
			groupSecret = c
			first = false
		} else {
			groupSecret.Add(&c)
		}
	}
	s.groupPub = *groupSecret.GetPublicKey()

	// Every candidate receives the full group secret as its share; there is
	// no per-index partition and no Lagrange interpolation at sign time.
	for _, name := range s.Candidates {
		s.shares[name] = groupSecret
	}

	s.phase = DkgSucceeded
	return s.groupPub, s.shares, nil
}

// RecordFailure notes a DkgFailure observation from a participant. Once
// >= threshold matching failures are recorded, the session is considered
// failed and the caller should fall back to the previous key and re-trigger
// DKG with unreachable parties excluded.
func (s *DkgSession) RecordFailure(obs DkgFailureObservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[obs.Reporter] = obs.Reason
	threshold := Threshold(len(s.Candidates))
	if len(s.failures) >= threshold {
		s.phase = DkgFailed
		return true
	}
	return false
}

// Expired reports whether the session has run past its timeout without
// finalising.
func (s *DkgSession) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != DkgSucceeded && now.Sub(s.startedAt) > s.timeout
}

// Phase returns the session's current state-machine phase.
func (s *DkgSession) Phase() DkgPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// NextParticipants computes the participant list for a re-triggered DKG
// session, excluding reporters of failure observations (the unreachable
// parties).
func (s *DkgSession) NextParticipants() []NodeName {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NodeName, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		if _, failed := s.failures[c]; !failed {
			out = append(out, c)
		}
	}
	return out
}

// DkgCoordinator tracks the DKG sessions a node takes part in (its own
// section, and any split children it is about to join), keyed by session
// ID; several sessions for the same prefix may be tracked at once.
type DkgCoordinator struct {
	logger *log.Logger
	mu     sync.Mutex
	byID   map[[16]byte]*DkgSession
}

// NewDkgCoordinator creates an empty coordinator.
func NewDkgCoordinator(lg *log.Logger) *DkgCoordinator {
	return &DkgCoordinator{logger: lg, byID: make(map[[16]byte]*DkgSession)}
}

// Start registers a new session and returns it.
func (c *DkgCoordinator) Start(prefix Prefix, generation uint64, candidates []NodeName, timeout time.Duration) *DkgSession {
	s := NewDkgSession(prefix, generation, candidates, timeout)
	c.mu.Lock()
	c.byID[s.ID] = s
	c.mu.Unlock()
	return s
}

// Get returns the session for id, if tracked.
func (c *DkgCoordinator) Get(id [16]byte) (*DkgSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	return s, ok
}

// Forget drops a completed or failed session.
func (c *DkgCoordinator) Forget(id [16]byte) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
}

// SweepExpired returns sessions that have timed out without finalising, so
// the caller can emit DkgFailure observations for each.
func (c *DkgCoordinator) SweepExpired(now time.Time) []*DkgSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*DkgSession
	for _, s := range c.byID {
		if s.Expired(now) {
			out = append(out, s)
		}
	}
	return out
}
