package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func sapWithElders(n int) SAP {
	elders := make([]ElderInfo, n)
	for i := range elders {
		elders[i] = ElderInfo{Name: NodeName{byte(i + 1)}}
	}
	return SAP{Elders: elders}
}

func realBLSShare(t *testing.T, msg []byte) []byte {
	t.Helper()
	var sk bls.SecretKey
	sk.SetByCSPRNG()
	return sk.SignByte(msg).Serialize()
}

func TestSignatureAggregatorReachesThreshold(t *testing.T) {
	agg := NewSignatureAggregator(time.Minute, nil)
	sap := sapWithElders(7)
	threshold := Threshold(len(sap.Elders))

	proposalID := [16]byte{1}
	payload := []byte("proposal payload")

	var result *AggregationResult
	for i := 1; i <= threshold; i++ {
		res, err := agg.AddShare(sap, proposalID, payload, i, realBLSShare(t, payload))
		if err != nil {
			t.Fatalf("AddShare(%d): %v", i, err)
		}
		if i < threshold {
			if res != nil {
				t.Fatalf("expected no result before threshold at share %d", i)
			}
			continue
		}
		result = res
	}

	if result == nil {
		t.Fatalf("expected aggregation result once threshold reached")
	}
	if string(result.Payload) != string(payload) {
		t.Fatalf("result payload mismatch")
	}

	if agg.Pending(proposalID, payload) != 0 {
		t.Fatalf("expected entry to be evicted after threshold reached")
	}
}

func TestSignatureAggregatorRejectsShareOutsideSAP(t *testing.T) {
	agg := NewSignatureAggregator(time.Minute, nil)
	sap := sapWithElders(3)

	_, err := agg.AddShare(sap, [16]byte{2}, []byte("x"), 0, []byte{0xAA})
	if err != ErrInvalidShare {
		t.Fatalf("expected ErrInvalidShare for index 0, got %v", err)
	}

	_, err = agg.AddShare(sap, [16]byte{2}, []byte("x"), 4, []byte{0xAA})
	if err != ErrInvalidShare {
		t.Fatalf("expected ErrInvalidShare for index beyond SAP, got %v", err)
	}
}

func TestSignatureAggregatorIgnoresDuplicateShares(t *testing.T) {
	agg := NewSignatureAggregator(time.Minute, nil)
	sap := sapWithElders(7)
	proposalID := [16]byte{3}
	payload := []byte("dup test")

	for i := 0; i < 5; i++ {
		if _, err := agg.AddShare(sap, proposalID, payload, 1, []byte{0x01}); err != nil {
			t.Fatalf("AddShare: %v", err)
		}
	}

	if got := agg.Pending(proposalID, payload); got != 1 {
		t.Fatalf("expected exactly 1 distinct share after duplicates, got %d", got)
	}
}

func TestSignatureAggregatorPurgesExpiredEntries(t *testing.T) {
	clk := clock.NewMock()
	agg := NewSignatureAggregator(10*time.Millisecond, clk)
	sap := sapWithElders(7)
	proposalID := [16]byte{4}
	payload := []byte("expiring")

	if _, err := agg.AddShare(sap, proposalID, payload, 1, []byte{0x01}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	if agg.Pending(proposalID, payload) != 1 {
		t.Fatalf("expected 1 pending share before expiry")
	}

	clk.Add(20 * time.Millisecond)

	// purgeExpiredLocked runs on the next AddShare call, on a distinct key,
	// so trigger it indirectly and confirm the stale entry is gone.
	if _, err := agg.AddShare(sap, [16]byte{5}, []byte("other"), 1, []byte{0x02}); err != nil {
		t.Fatalf("AddShare: %v", err)
	}
	if agg.Pending(proposalID, payload) != 0 {
		t.Fatalf("expected expired entry to be purged")
	}
}
