package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestPendingQueryFirstValidResponseWins(t *testing.T) {
	clk := clock.NewMock()
	table := NewPendingQueryTable(time.Second, clk)

	q := ServiceQuery{ID: NewQueryID(), Op: OpGetChunk, Address: HashBytes([]byte("x"))}
	targets := []NodeName{{1}, {2}, {3}}
	done := table.Begin(q, targets)

	table.Resolve(QueryResponse{QueryID: q.ID, From: targets[0], Err: ErrChunkNotFound})
	table.Resolve(QueryResponse{QueryID: q.ID, From: targets[1], Data: []byte("payload")})
	// A later response, even a differing one, must not override the winner.
	table.Resolve(QueryResponse{QueryID: q.ID, From: targets[2], Data: []byte("other")})

	select {
	case res := <-done:
		if res.Err != nil || string(res.Data) != "payload" {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatalf("expected query to already be resolved")
	}
}

func TestPendingQueryAllErrorsFails(t *testing.T) {
	clk := clock.NewMock()
	table := NewPendingQueryTable(time.Second, clk)

	q := ServiceQuery{ID: NewQueryID()}
	targets := []NodeName{{1}, {2}}
	done := table.Begin(q, targets)

	table.Resolve(QueryResponse{QueryID: q.ID, From: targets[0], Err: ErrChunkNotFound})
	select {
	case <-done:
		t.Fatalf("query should not resolve before every target has answered")
	default:
	}
	table.Resolve(QueryResponse{QueryID: q.ID, From: targets[1], Err: ErrChunkNotFound})

	select {
	case res := <-done:
		if res.Err == nil {
			t.Fatalf("expected an error result")
		}
	default:
		t.Fatalf("expected query to resolve once every target errored")
	}
}

func TestPendingQuerySweepExpired(t *testing.T) {
	clk := clock.NewMock()
	table := NewPendingQueryTable(time.Second, clk)

	q := ServiceQuery{ID: NewQueryID()}
	done := table.Begin(q, []NodeName{{1}})

	clk.Add(2 * time.Second)
	table.SweepExpired()

	select {
	case res := <-done:
		if res.Err != ErrNoResponse {
			t.Fatalf("expected ErrNoResponse, got %v", res.Err)
		}
	default:
		t.Fatalf("expected expired query to resolve")
	}
}

func TestPendingCommandReachesWriteQuorum(t *testing.T) {
	clk := clock.NewMock()
	table := NewPendingCommandTable(newTestLogger(), time.Second, clk)

	msgID := NewMsgID()
	targets := []NodeName{{1}, {2}, {3}, {4}}
	done := table.Begin(msgID, targets)

	want := WriteQuorum(len(targets))
	for i := 0; i < want-1; i++ {
		table.Ack(msgID, targets[i])
	}
	select {
	case <-done:
		t.Fatalf("command resolved before quorum reached")
	default:
	}
	table.Ack(msgID, targets[want-1])

	select {
	case res := <-done:
		if res.Err != nil || res.Acked != want {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatalf("expected command to resolve at quorum")
	}
}

func TestPendingCommandSweepExpired(t *testing.T) {
	clk := clock.NewMock()
	table := NewPendingCommandTable(newTestLogger(), time.Second, clk)

	msgID := NewMsgID()
	done := table.Begin(msgID, []NodeName{{1}, {2}, {3}, {4}})

	clk.Add(2 * time.Second)
	table.SweepExpired()

	select {
	case res := <-done:
		if res.Err != ErrNoQuorum {
			t.Fatalf("expected ErrNoQuorum, got %v", res.Err)
		}
	default:
		t.Fatalf("expected expired command to resolve")
	}
}

func TestQueryTargetsPicksClosestSubset(t *testing.T) {
	sap := SAP{Elders: []ElderInfo{
		{Name: NodeName{0x00}}, {Name: NodeName{0x01}}, {Name: NodeName{0x02}},
		{Name: NodeName{0xFF}}, {Name: NodeName{0x10}},
	}}
	addr := ChunkAddress{0x00}

	targets := QueryTargets(sap, addr)
	if len(targets) != NumEldersSubsetForQueries {
		t.Fatalf("expected %d targets, got %d", NumEldersSubsetForQueries, len(targets))
	}
	want := []NodeName{{0x00}, {0x01}, {0x02}}
	for i, n := range want {
		if targets[i] != n {
			t.Fatalf("target %d: expected %x, got %x", i, n[:1], targets[i][:1])
		}
	}
}

func TestStoreTargetsPicksReplicationFactorAdults(t *testing.T) {
	adults := []NodeName{{0x00}, {0x01}, {0x02}, {0x03}, {0x04}, {0xFF}}
	addr := ChunkAddress{0x00}

	targets := StoreTargets(adults, addr)
	if len(targets) != ReplicationFactor {
		t.Fatalf("expected %d targets, got %d", ReplicationFactor, len(targets))
	}
}
