package core

import "testing"

func addrN(b byte) Address {
	var a Address
	a[0] = b
	return a
}

func TestQuorumTrackerReachesThreshold(t *testing.T) {
	qt := NewQuorumTracker(7, Threshold(7))

	for i := byte(0); i < 4; i++ {
		qt.AddVote(addrN(i))
	}
	if qt.HasQuorum() {
		t.Fatalf("expected no quorum with only 4 of %d votes", Threshold(7))
	}

	n := qt.AddVote(addrN(4))
	if n != 5 {
		t.Fatalf("expected 5 unique votes, got %d", n)
	}
	if !qt.HasQuorum() {
		t.Fatalf("expected quorum reached at threshold %d", Threshold(7))
	}
}

func TestQuorumTrackerIgnoresDuplicateVotes(t *testing.T) {
	qt := NewQuorumTracker(4, 3)
	a := addrN(1)

	qt.AddVote(a)
	n := qt.AddVote(a)
	if n != 1 {
		t.Fatalf("expected duplicate vote to not increase count, got %d", n)
	}
}

func TestQuorumTrackerReset(t *testing.T) {
	qt := NewQuorumTracker(4, 2)
	qt.AddVote(addrN(1))
	qt.AddVote(addrN(2))
	if !qt.HasQuorum() {
		t.Fatalf("expected quorum before reset")
	}
	qt.Reset()
	if qt.HasQuorum() {
		t.Fatalf("expected no quorum after reset")
	}
}
