package sectionnet_test

import (
	"bytes"
	"testing"
	"time"

	"sectionnet/core"
)

// resolveChunkResponse is what a query gateway does with a raw elder answer
// before it can win first-valid-wins resolution: corrupted bytes that don't
// hash to the queried address are never handed to callers as valid data, so
// they're folded into an error response here rather than accepted as-is.
func resolveChunkResponse(table *core.PendingQueryTable, id [16]byte, from core.NodeName, addr core.ChunkAddress, data []byte, err error) {
	if err != nil {
		table.Resolve(core.QueryResponse{QueryID: id, From: from, Err: err})
		return
	}
	if core.HashBytes(data) != addr {
		table.Resolve(core.QueryResponse{QueryID: id, From: from, Err: core.ErrHashMismatch})
		return
	}
	table.Resolve(core.QueryResponse{QueryID: id, From: from, Data: data})
}

// TestQueryFirstValidWinsOverCorruptedAndMissing walks the literal 3-elder
// query race: elder 1's chunk fails its hash check, elder 2 reports
// NotFound, and elder 3 returns the genuine chunk — the client must end up
// with elder 3's data regardless of arrival order.
func TestQueryFirstValidWinsOverCorruptedAndMissing(t *testing.T) {
	correct := []byte("the genuine chunk payload")
	addr := core.HashBytes(correct)
	corrupted := append([]byte{}, correct...)
	corrupted[0] ^= 0xFF

	elder1 := core.NodeName{0x01}
	elder2 := core.NodeName{0x02}
	elder3 := core.NodeName{0x03}

	table := core.NewPendingQueryTable(time.Second, nil)
	query := core.ServiceQuery{ID: core.NewQueryID(), Op: core.OpGetChunk, Address: addr}
	done := table.Begin(query, []core.NodeName{elder1, elder2, elder3})

	resolveChunkResponse(table, query.ID, elder1, addr, corrupted, nil)
	resolveChunkResponse(table, query.ID, elder2, addr, nil, core.ErrChunkNotFound)
	resolveChunkResponse(table, query.ID, elder3, addr, correct, nil)

	select {
	case result := <-done:
		if result.Err != nil {
			t.Fatalf("expected a successful result, got error: %v", result.Err)
		}
		if !bytes.Equal(result.Data, correct) {
			t.Fatalf("expected elder 3's genuine chunk to win, got %q", result.Data)
		}
	default:
		t.Fatalf("expected the query to have resolved synchronously once a valid response arrived")
	}
}

// TestQueryFailsOnlyAfterEveryTargetErrors confirms the inverse: when every
// target answers with an error (or corrupted data), the query fails instead
// of silently hanging.
func TestQueryFailsOnlyAfterEveryTargetErrors(t *testing.T) {
	addr := core.HashBytes([]byte("whatever"))
	corrupted := []byte("not the right bytes")

	elder1 := core.NodeName{0x01}
	elder2 := core.NodeName{0x02}

	table := core.NewPendingQueryTable(time.Second, nil)
	query := core.ServiceQuery{ID: core.NewQueryID(), Op: core.OpGetChunk, Address: addr}
	done := table.Begin(query, []core.NodeName{elder1, elder2})

	resolveChunkResponse(table, query.ID, elder1, addr, corrupted, nil)
	select {
	case <-done:
		t.Fatalf("expected no resolution yet with one target still outstanding")
	default:
	}

	resolveChunkResponse(table, query.ID, elder2, addr, nil, core.ErrChunkNotFound)
	select {
	case result := <-done:
		if result.Err == nil {
			t.Fatalf("expected an error once every target failed")
		}
	default:
		t.Fatalf("expected the query to resolve once the last target answered")
	}
}
