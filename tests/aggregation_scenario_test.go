package sectionnet_test

import (
	"testing"
	"time"

	bls "github.com/herumi/bls-eth-go-binary/bls"

	"sectionnet/core"
)

// TestAggregationReachesThresholdAtFifthShare walks the literal N=7/t=5
// scenario: shares from four elders produce no output, the fifth produces a
// combined signature that verifies against the aggregate of the five
// contributing elders' public keys, and the remaining two shares produce no
// further output (the entry was evicted once threshold was reached).
func TestAggregationReachesThresholdAtFifthShare(t *testing.T) {
	const n = 7
	elders := make([]core.ElderInfo, n)
	secrets := make([]bls.SecretKey, n)
	pubs := make([]bls.PublicKey, n)
	for i := 0; i < n; i++ {
		secrets[i].SetByCSPRNG()
		pubs[i] = *secrets[i].GetPublicKey()
		elders[i] = core.ElderInfo{Name: core.NodeName{byte(i + 1)}}
	}
	sap := core.SAP{Elders: elders}

	if got := core.Threshold(n); got != 5 {
		t.Fatalf("Threshold(7) = %d, want 5 (worked example pinned by the scenario)", got)
	}

	agg := core.NewSignatureAggregator(time.Minute, nil)
	proposalID := [16]byte{0x05}
	payload := []byte("section message payload")

	var result *core.AggregationResult
	for i := 1; i <= 4; i++ {
		share := secrets[i-1].SignByte(payload).Serialize()
		res, err := agg.AddShare(sap, proposalID, payload, i, share)
		if err != nil {
			t.Fatalf("AddShare(%d): %v", i, err)
		}
		if res != nil {
			t.Fatalf("share %d: expected no output before the threshold of 5", i)
		}
	}
	if got := agg.Pending(proposalID, payload); got != 4 {
		t.Fatalf("expected 4 pending shares, got %d", got)
	}

	fifthShare := secrets[4].SignByte(payload).Serialize()
	res, err := agg.AddShare(sap, proposalID, payload, 5, fifthShare)
	if err != nil {
		t.Fatalf("AddShare(5): %v", err)
	}
	if res == nil {
		t.Fatalf("expected the 5th share to produce a SectionMsg, got nil")
	}

	pubAgg := core.AggregatePublicKeys(pubs[:5])
	ok, err := core.VerifyAggregated(res.Signature, pubAgg.Serialize(), payload)
	if err != nil {
		t.Fatalf("VerifyAggregated: %v", err)
	}
	if !ok {
		t.Fatalf("combined signature from shares 1-5 does not verify against the aggregated public key")
	}

	if agg.Pending(proposalID, payload) != 0 {
		t.Fatalf("expected the entry to be evicted once threshold was reached")
	}

	for i := 6; i <= 7; i++ {
		share := secrets[i-1].SignByte(payload).Serialize()
		res, err := agg.AddShare(sap, proposalID, payload, i, share)
		if err != nil {
			t.Fatalf("AddShare(%d): %v", i, err)
		}
		if res != nil {
			t.Fatalf("share %d: expected no further output once the proposal already resolved", i)
		}
	}
}
