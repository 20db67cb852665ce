package core

// Replication subsystem — decentralised chunk propagation & on-demand fetch.
//
// Responsibilities:
//   - gossip loop: announce newly stored chunk addresses ("inv") to fanout
//     peers, adapted from a block-inventory flood to a chunk-inventory flood.
//   - serve/fetch missing chunks ("getdata" / "chunk") on demand, the
//     mechanism a new holder uses to backfill after a churn event moves a
//     chunk's closest-adults set.
//
// All networking uses error-handled, context-aware code; no go-ethereum RLP
// dependency — chunks are opaque byte blobs, so JSON envelopes carrying raw
// bytes are sufficient (no struct schema to encode).

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	logrus "github.com/sirupsen/logrus"
)

//---------------------------------------------------------------------
// Wire protocol primitives
//---------------------------------------------------------------------

type msgType uint8

const (
	msgInv     msgType = iota + 1 // inventory (address list)
	msgGetData                    // request chunk by address
	msgChunk                      // full chunk payload
)

const (
	protocolID    = "sectionnet-repl/1"
	chunkInvTopic = "chunk-inv"
)

type invMsg struct {
	Hashes [][]byte `json:"hashes"`
}

type getDataMsg struct {
	Addresses [][]byte `json:"addresses"`
}

type chunkMsg struct {
	Address []byte `json:"address"`
	Data    []byte `json:"data"`
}

//---------------------------------------------------------------------
// Replicator
//---------------------------------------------------------------------

// NewReplicator wires the chunk-replication subsystem together.
func NewReplicator(cfg *ReplicationConfig, lg *logrus.Logger, store *ChunkStore, pm PeerManager) *Replicator {
	return &Replicator{
		logger:  lg,
		cfg:     cfg,
		store:   store,
		pm:      pm,
		closing: make(chan struct{}),
	}
}

func (r *Replicator) handleMsg(m InboundMsg) {
	switch msgType(m.Code) {
	case msgInv:
		r.handleInv(m.PeerID, m.Payload)
	case msgGetData:
		r.handleGetData(m.PeerID, m.Payload)
	case msgChunk:
		r.handleChunkMsg(m.PeerID, m.Payload)
	default:
		r.logger.Printf("replicate: unknown msgCode %d from %s", m.Code, m.PeerID)
	}
}

//---------------------------------------------------------------------
// Public API
//---------------------------------------------------------------------

// ReplicateChunk gossips a freshly stored chunk's address to Fanout random
// peers (the holders it was not sent to directly), so any that are missing
// it can pull it via RequestMissing.
func (r *Replicator) ReplicateChunk(addr ChunkAddress) {
	inv := invMsg{Hashes: [][]byte{append([]byte{}, addr[:]...)}}
	payload, _ := json.Marshal(inv)

	peers := r.pm.Sample(int(r.cfg.Fanout))
	for _, p := range peers {
		if err := r.pm.SendAsync(p, protocolID, byte(msgInv), payload); err != nil {
			r.logger.Printf("replicate: send inv to %s failed: %v", p, err)
		}
	}
	r.logger.Debugf("replicate: disseminated inv %s to %d peers", addr.String(), len(peers))
}

// RequestMissing fetches a chunk this node does not hold locally, querying
// Fanout+1 random peers concurrently until one replies (its reply lands in
// the local store) or RequestTimeout elapses.
func (r *Replicator) RequestMissing(ctx context.Context, addr ChunkAddress) ([]byte, error) {
	peers := r.pm.Sample(int(r.cfg.Fanout) + 1)
	if len(peers) == 0 {
		return nil, errors.New("replicate: no peers available")
	}

	req := getDataMsg{Addresses: [][]byte{append([]byte{}, addr[:]...)}}
	data, _ := json.Marshal(req)

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	got := make(chan []byte, 1)
	for _, p := range peers {
		peerID := p
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.pm.SendAsync(peerID, protocolID, byte(msgGetData), data); err != nil {
				r.logger.Printf("replicate: getdata send %s: %v", peerID, err)
				return
			}
			// A peer's "chunk" reply is stored by handleChunkMsg; poll the local
			// store for it until the request times out.
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()
			for {
				if b, err := r.store.Get(addr); err == nil {
					select {
					case got <- b:
					default:
					}
					return
				}
				select {
				case <-reqCtx.Done():
					return
				case <-tick.C:
				}
			}
		}()
	}

	select {
	case b := <-got:
		return b, nil
	case <-reqCtx.Done():
		return nil, context.DeadlineExceeded
	}
}

//---------------------------------------------------------------------
// Service loops
//---------------------------------------------------------------------

// Start launches the background goroutine listening for replication
// protocol messages.
func (r *Replicator) Start() {
	sub := r.pm.Subscribe(protocolID)
	r.wg.Add(1)
	go r.readLoop(sub)
}

// Stop terminates the replication loop gracefully.
func (r *Replicator) Stop() {
	close(r.closing)
	r.pm.Unsubscribe(protocolID)
	r.wg.Wait()
}

func (r *Replicator) readLoop(sub <-chan InboundMsg) {
	defer r.wg.Done()
	for {
		select {
		case <-r.closing:
			return
		case m := <-sub:
			go r.handleMsg(m)
		}
	}
}

func (r *Replicator) handleInv(peer string, data []byte) {
	var inv invMsg
	if err := json.Unmarshal(data, &inv); err != nil {
		r.logger.Printf("replicate: inv decode: %v", err)
		return
	}
	for _, h := range inv.Hashes {
		if len(h) != 32 {
			continue
		}
		var addr ChunkAddress
		copy(addr[:], h)
		if !r.store.Has(addr) {
			go func(a ChunkAddress) {
				if _, err := r.RequestMissing(context.Background(), a); err != nil {
					r.logger.Printf("replicate: backfill %s failed: %v", a.String(), err)
				}
			}(addr)
		}
	}
}

func (r *Replicator) handleGetData(peer string, data []byte) {
	var req getDataMsg
	if err := json.Unmarshal(data, &req); err != nil {
		r.logger.Printf("replicate: getdata decode: %v", err)
		return
	}
	for _, h := range req.Addresses {
		if len(h) != 32 {
			continue
		}
		var addr ChunkAddress
		copy(addr[:], h)
		b, err := r.store.Get(addr)
		if err != nil {
			continue
		}
		payload, err := json.Marshal(chunkMsg{Address: append([]byte{}, addr[:]...), Data: b})
		if err != nil {
			r.logger.Printf("replicate: marshal chunk: %v", err)
			continue
		}
		if err := r.pm.SendAsync(peer, protocolID, byte(msgChunk), payload); err != nil {
			r.logger.Printf("replicate: send chunk %s to %s: %v", addr.String(), peer, err)
		}
	}
}

func (r *Replicator) handleChunkMsg(peer string, data []byte) {
	var cm chunkMsg
	if err := json.Unmarshal(data, &cm); err != nil {
		r.logger.Printf("replicate: chunkmsg decode: %v", err)
		return
	}
	if len(cm.Address) != 32 {
		return
	}
	var addr ChunkAddress
	copy(addr[:], cm.Address)
	if err := r.store.Put(addr, cm.Data); err != nil {
		r.logger.Printf("replicate: store %s from %s: %v", addr.String(), peer, err)
		return
	}
	r.logger.Debugf("replicate: stored %s from %s", addr.String(), peer)
}
