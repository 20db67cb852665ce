package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// QueryOp names a client-facing read operation.
type QueryOp int

const (
	OpGetChunk QueryOp = iota
	OpGetRange
)

// ServiceQuery is a client request fanned out to a section's elders.
type ServiceQuery struct {
	ID      [16]byte
	Op      QueryOp
	Address ChunkAddress
	Offset  int
	Length  int
}

// QueryResponse is one elder's answer to a ServiceQuery.
type QueryResponse struct {
	QueryID [16]byte
	From    NodeName
	Data    []byte
	Err     error
}

// pendingQuery tracks a client-issued query awaiting first-valid-wins
// resolution across its fanned-out elder targets.
type pendingQuery struct {
	query     ServiceQuery
	targets   map[NodeName]bool
	responses map[NodeName]QueryResponse
	done      chan QueryResult
	resolved  bool
	deadline  time.Time
}

// QueryResult is what a client eventually receives for a ServiceQuery: the
// first valid response observed, or an error once every target has either
// answered with an error or the deadline has passed.
type QueryResult struct {
	Data []byte
	Err  error
}

// PendingQueryTable tracks all in-flight client queries for a node acting as
// a query gateway (elder or client library), implementing the
// first-valid-response-wins semantics: once any target returns a
// non-error response it supersedes all others and later responses for the
// same query ID are dropped; if every target answers with an error, the
// query fails with the last error observed.
type PendingQueryTable struct {
	mu      sync.Mutex
	byID    map[[16]byte]*pendingQuery
	clock   clock.Clock
	timeout time.Duration
}

// NewPendingQueryTable creates a table with the given per-query timeout.
func NewPendingQueryTable(timeout time.Duration, clk clock.Clock) *PendingQueryTable {
	if clk == nil {
		clk = clock.New()
	}
	return &PendingQueryTable{
		byID:    make(map[[16]byte]*pendingQuery),
		clock:   clk,
		timeout: timeout,
	}
}

// NewQueryID generates a fresh query identifier.
func NewQueryID() [16]byte {
	u := uuid.New()
	var id [16]byte
	copy(id[:], u[:])
	return id
}

// Begin registers a query fanned out to targets and returns a channel that
// receives exactly one QueryResult once the query resolves.
func (t *PendingQueryTable) Begin(q ServiceQuery, targets []NodeName) <-chan QueryResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	targetSet := make(map[NodeName]bool, len(targets))
	for _, n := range targets {
		targetSet[n] = true
	}
	pq := &pendingQuery{
		query:     q,
		targets:   targetSet,
		responses: make(map[NodeName]QueryResponse),
		done:      make(chan QueryResult, 1),
		deadline:  t.clock.Now().Add(t.timeout),
	}
	t.byID[q.ID] = pq
	return pq.done
}

// Resolve feeds one target's response into the query it answers. The first
// non-error response wins and is delivered immediately; the query is
// forgotten once resolved or once every target has answered with an error.
func (t *PendingQueryTable) Resolve(resp QueryResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pq, ok := t.byID[resp.QueryID]
	if !ok || pq.resolved {
		return
	}
	if !pq.targets[resp.From] {
		return
	}
	pq.responses[resp.From] = resp

	if resp.Err == nil {
		pq.resolved = true
		pq.done <- QueryResult{Data: resp.Data}
		delete(t.byID, resp.QueryID)
		return
	}

	if len(pq.responses) >= len(pq.targets) {
		pq.resolved = true
		pq.done <- QueryResult{Err: resp.Err}
		delete(t.byID, resp.QueryID)
	}
}

// SweepExpired resolves, with ErrNoResponse, every query past its deadline
// that has not yet resolved.
func (t *PendingQueryTable) SweepExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for id, pq := range t.byID {
		if pq.resolved || now.Before(pq.deadline) {
			continue
		}
		pq.resolved = true
		pq.done <- QueryResult{Err: ErrNoResponse}
		delete(t.byID, id)
	}
}

// QueryTargets selects the NumEldersSubsetForQueries elders of sap closest
// (by XOR distance) to the queried address, the client fan-out set for a
// read.
func QueryTargets(sap SAP, addr ChunkAddress) []NodeName {
	names := sap.ElderNames()
	target := NodeName(addr)
	sorted := append([]NodeName{}, names...)
	SortByDistance(target, sorted)
	if len(sorted) > NumEldersSubsetForQueries {
		sorted = sorted[:NumEldersSubsetForQueries]
	}
	return sorted
}

// ---------------------------------------------------------------------
// Command (write) path
// ---------------------------------------------------------------------

// pendingCommand tracks a client write awaiting quorum acknowledgement from
// its targets (the ReplicationFactor adult holders a chunk is stored on).
type pendingCommand struct {
	targets  map[NodeName]bool
	acked    map[NodeName]bool
	quorum   int
	done     chan CommandResult
	resolved bool
	deadline time.Time
}

// CommandResult is delivered to the client once a write command either
// reaches quorum acks or times out.
type CommandResult struct {
	Acked int
	Err   error
}

// PendingCommandTable tracks in-flight client writes awaiting quorum.
type PendingCommandTable struct {
	mu      sync.Mutex
	byID    map[[16]byte]*pendingCommand
	clock   clock.Clock
	timeout time.Duration
	logger  *log.Logger
}

// NewPendingCommandTable creates a table with the given per-command timeout.
func NewPendingCommandTable(lg *log.Logger, timeout time.Duration, clk clock.Clock) *PendingCommandTable {
	if clk == nil {
		clk = clock.New()
	}
	return &PendingCommandTable{
		logger:  lg,
		byID:    make(map[[16]byte]*pendingCommand),
		clock:   clk,
		timeout: timeout,
	}
}

// Begin registers a write command fanned out to targets. The command
// resolves once WriteQuorum(len(targets)) distinct targets have
// acknowledged, or once the timeout elapses.
func (t *PendingCommandTable) Begin(msgID [16]byte, targets []NodeName) <-chan CommandResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	targetSet := make(map[NodeName]bool, len(targets))
	for _, n := range targets {
		targetSet[n] = true
	}
	pc := &pendingCommand{
		targets:  targetSet,
		acked:    make(map[NodeName]bool),
		quorum:   WriteQuorum(len(targets)),
		done:     make(chan CommandResult, 1),
		deadline: t.clock.Now().Add(t.timeout),
	}
	t.byID[msgID] = pc
	return pc.done
}

// Ack records one target's acknowledgement of msgID, resolving the command
// once quorum is reached.
func (t *PendingCommandTable) Ack(msgID [16]byte, from NodeName) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.byID[msgID]
	if !ok || pc.resolved || !pc.targets[from] {
		return
	}
	pc.acked[from] = true
	if len(pc.acked) >= pc.quorum {
		pc.resolved = true
		pc.done <- CommandResult{Acked: len(pc.acked)}
		delete(t.byID, msgID)
	}
}

// SweepExpired resolves, with ErrNoQuorum, every write past its deadline
// that has not yet reached quorum.
func (t *PendingCommandTable) SweepExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	for id, pc := range t.byID {
		if pc.resolved || now.Before(pc.deadline) {
			continue
		}
		pc.resolved = true
		pc.done <- CommandResult{Acked: len(pc.acked), Err: ErrNoQuorum}
		delete(t.byID, id)
	}
}

// StoreTargets selects the ReplicationFactor adult members closest (by XOR
// distance) to addr, the set a chunk is written to.
func StoreTargets(adults []NodeName, addr ChunkAddress) []NodeName {
	target := NodeName(addr)
	sorted := append([]NodeName{}, adults...)
	SortByDistance(target, sorted)
	if len(sorted) > ReplicationFactor {
		sorted = sorted[:ReplicationFactor]
	}
	return sorted
}

// HandleStoreChunk is the elder-side write handler: it verifies the chunk's
// address matches its content hash, selects the ReplicationFactor closest
// adult holders, and returns a StoreChunkCommand for any holder that is this
// node itself plus one ReplicateChunkCommand per remote holder, paced by
// DataBatchInterval so a single client write never bursts every holder at
// once.
func HandleStoreChunk(addr ChunkAddress, data []byte, adults []NodeName, self NodeName) ([]Command, error) {
	if HashBytes(data) != addr {
		return nil, newErr(KindProtocol, "HandleStoreChunk", ErrHashMismatch)
	}
	targets := StoreTargets(adults, addr)
	if len(targets) == 0 {
		return nil, newErr(KindNotEnough, "HandleStoreChunk", ErrNotEnoughShares)
	}
	cmds := make([]Command, 0, len(targets))
	for i, t := range targets {
		if t == self {
			cmds = append(cmds, StoreChunkCommand{Address: addr, Data: data})
			continue
		}
		replicate := Command(ReplicateChunkCommand{To: t, Address: addr, Data: data})
		if i == 0 {
			cmds = append(cmds, replicate)
			continue
		}
		cmds = append(cmds, ScheduleCommand{
			Delay:   time.Duration(i) * DataBatchInterval,
			Payload: replicate,
		})
	}
	return cmds, nil
}
