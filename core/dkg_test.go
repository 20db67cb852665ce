package core

import (
	"testing"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func dkgCandidates(n int) []NodeName {
	out := make([]NodeName, n)
	for i := range out {
		out[i] = NodeName{byte(i + 1)}
	}
	return out
}

func TestDkgSessionContributeReachesReadyToFinalise(t *testing.T) {
	candidates := dkgCandidates(4)
	s := NewDkgSession(NewPrefix(0, NodeName{}), 1, candidates, time.Minute)

	for i, c := range candidates {
		var sk bls.SecretKey
		sk.SetByCSPRNG()
		ready := s.Contribute(c, sk)
		if i < len(candidates)-1 && ready {
			t.Fatalf("session should not be ready before every candidate contributes")
		}
		if i == len(candidates)-1 && !ready {
			t.Fatalf("session should be ready once every candidate has contributed")
		}
	}
	if s.Phase() != DkgContributing {
		t.Fatalf("expected phase DkgContributing before Finalise, got %v", s.Phase())
	}
}

func TestDkgSessionFinaliseProducesGroupKeyAndShares(t *testing.T) {
	candidates := dkgCandidates(3)
	s := NewDkgSession(NewPrefix(0, NodeName{}), 1, candidates, time.Minute)

	for _, c := range candidates {
		var sk bls.SecretKey
		sk.SetByCSPRNG()
		s.Contribute(c, sk)
	}

	groupPub, shares, err := s.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if len(shares) != len(candidates) {
		t.Fatalf("expected one share per candidate, got %d", len(shares))
	}
	if groupPub.Serialize() == nil {
		t.Fatalf("expected a non-nil group public key")
	}
	if s.Phase() != DkgSucceeded {
		t.Fatalf("expected phase DkgSucceeded after Finalise, got %v", s.Phase())
	}
}

func TestDkgSessionFinaliseFailsWithoutFullContributions(t *testing.T) {
	candidates := dkgCandidates(3)
	s := NewDkgSession(NewPrefix(0, NodeName{}), 1, candidates, time.Minute)

	var sk bls.SecretKey
	sk.SetByCSPRNG()
	s.Contribute(candidates[0], sk)

	if _, _, err := s.Finalise(); err != ErrDKGFailed {
		t.Fatalf("expected ErrDKGFailed with partial contributions, got %v", err)
	}
}

func TestDkgSessionRecordFailureReachesThreshold(t *testing.T) {
	candidates := dkgCandidates(7)
	s := NewDkgSession(NewPrefix(0, NodeName{}), 1, candidates, time.Minute)
	threshold := Threshold(len(candidates))

	var failed bool
	for i := 0; i < threshold; i++ {
		failed = s.RecordFailure(DkgFailureObservation{Reporter: candidates[i], Reason: "unreachable"})
	}
	if !failed {
		t.Fatalf("expected session to be marked failed once threshold failures recorded")
	}
	if s.Phase() != DkgFailed {
		t.Fatalf("expected phase DkgFailed, got %v", s.Phase())
	}

	remaining := s.NextParticipants()
	if len(remaining) != len(candidates)-threshold {
		t.Fatalf("expected %d remaining participants, got %d", len(candidates)-threshold, len(remaining))
	}
}

func TestDkgSessionExpired(t *testing.T) {
	candidates := dkgCandidates(2)
	s := NewDkgSession(NewPrefix(0, NodeName{}), 1, candidates, 10*time.Millisecond)

	if s.Expired(s.startedAt) {
		t.Fatalf("session should not be expired immediately")
	}
	if !s.Expired(s.startedAt.Add(time.Second)) {
		t.Fatalf("session should be expired well past its timeout")
	}
}

func TestDkgCoordinatorStartGetForget(t *testing.T) {
	c := NewDkgCoordinator(newTestLogger())
	s := c.Start(NewPrefix(0, NodeName{}), 1, dkgCandidates(3), time.Minute)

	got, ok := c.Get(s.ID)
	if !ok || got != s {
		t.Fatalf("expected Get to return the started session")
	}

	c.Forget(s.ID)
	if _, ok := c.Get(s.ID); ok {
		t.Fatalf("expected session to be gone after Forget")
	}
}

func TestDkgCoordinatorSweepExpired(t *testing.T) {
	c := NewDkgCoordinator(newTestLogger())
	expired := c.Start(NewPrefix(0, NodeName{}), 1, dkgCandidates(2), time.Nanosecond)
	fresh := c.Start(NewPrefix(0, NodeName{}), 2, dkgCandidates(2), time.Hour)

	time.Sleep(5 * time.Millisecond)

	sessions := c.SweepExpired(time.Now())
	if len(sessions) != 1 || sessions[0].ID != expired.ID {
		t.Fatalf("expected only the expired session to be swept, got %+v", sessions)
	}
	if fresh.Expired(time.Now()) {
		t.Fatalf("fresh session should not be expired")
	}
}
