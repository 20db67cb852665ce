package core

import (
	"crypto/ed25519"
	"testing"
)

func TestMembershipJoinReachesQuorumAfterThresholdVotes(t *testing.T) {
	nk := NewNetworkKnowledge(SAP{})
	mm := NewMembershipManager(newTestLogger(), nk)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	candidate := NameOf(pub)
	req := JoinRequest{NameCandidate: candidate, PublicKey: pub}

	electorate := 7
	ch := mm.BeginJoin(req, 0, []byte("seed"), electorate)
	resp := ResourceProofResponse{Nonce: 0}
	if !VerifyResourceProof(ch, resp) {
		t.Fatalf("zero-difficulty proof should always verify")
	}

	want := Threshold(electorate)
	reached := false
	for i := 0; i < want-1; i++ {
		if mm.CompleteJoin(candidate, addrN(byte(i)), resp) {
			t.Fatalf("quorum reached too early at vote %d (want %d)", i+1, want)
		}
	}
	reached = mm.CompleteJoin(candidate, addrN(byte(want-1)), resp)
	if !reached {
		t.Fatalf("expected quorum reached after %d votes", want)
	}
}

func TestMembershipJoinDuplicateVoterDoesNotDoubleCount(t *testing.T) {
	nk := NewNetworkKnowledge(SAP{})
	mm := NewMembershipManager(newTestLogger(), nk)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	candidate := NameOf(pub)
	req := JoinRequest{NameCandidate: candidate, PublicKey: pub}

	ch := mm.BeginJoin(req, 0, []byte("seed"), 4)
	resp := ResourceProofResponse{Nonce: 0}

	voter := addrN(1)
	if mm.CompleteJoin(candidate, voter, resp) {
		t.Fatalf("single vote out of 4 should not reach quorum")
	}
	if mm.CompleteJoin(candidate, voter, resp) {
		t.Fatalf("repeating the same voter should not reach quorum")
	}
}

func TestMembershipCompleteJoinRejectsInvalidProof(t *testing.T) {
	nk := NewNetworkKnowledge(SAP{})
	mm := NewMembershipManager(newTestLogger(), nk)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	candidate := NameOf(pub)
	req := JoinRequest{NameCandidate: candidate, PublicKey: pub}

	mm.BeginJoin(req, 32, []byte("seed"), 4)
	if mm.CompleteJoin(candidate, addrN(1), ResourceProofResponse{Nonce: 0}) {
		t.Fatalf("expected a difficulty-32 challenge to reject nonce 0")
	}
}

func TestMembershipApplyJoinInstallsMember(t *testing.T) {
	nk := NewNetworkKnowledge(SAP{})
	mm := NewMembershipManager(newTestLogger(), nk)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	candidate := NameOf(pub)

	becameElder := mm.ApplyJoin(candidate, pub, "127.0.0.1:9000")
	if becameElder {
		t.Fatalf("empty section has no elders yet, should not report elder")
	}
	rec, ok := nk.Member(candidate)
	if !ok {
		t.Fatalf("expected member record after ApplyJoin")
	}
	if rec.State != StateJoined {
		t.Fatalf("expected state Joined, got %v", rec.State)
	}
}

func TestRelocationCandidatePicksSmallestScore(t *testing.T) {
	members := make([]MemberRecord, 0, 3)
	for i := 0; i < 3; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		members = append(members, MemberRecord{Name: NameOf(pub), Age: uint8(i + 1)})
	}

	var churnEvent [32]byte
	churnEvent[0] = 0x42

	best, newName, ok := RelocationCandidate(members, churnEvent)
	if !ok {
		t.Fatalf("expected a relocation candidate")
	}
	for _, m := range members {
		if relocationScore(m, churnEvent).Cmp(relocationScore(best, churnEvent)) < 0 {
			t.Fatalf("member %x has a smaller relocation score than the chosen candidate", m.Name[:4])
		}
	}
	if newName == best.Name {
		t.Fatalf("relocated name should differ from the original name")
	}
}
