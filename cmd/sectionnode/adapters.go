package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"sectionnet/core"
)

// nodeExecutor performs the side effects named by the commands the
// dispatcher emits: persisting a chunk locally, pushing it to a replica,
// sending a wire frame, feeding a BLS share into the aggregator, or
// running a delayed command once its delay has passed. It is the
// transport/storage adapter the
// dispatcher is deliberately kept ignorant of.
type nodeExecutor struct {
	logger *log.Logger
	store  *core.ChunkStore
	pm     *core.PeerManagement
	disp   *core.Dispatcher
	agg    *core.SignatureAggregator
	repl   *core.Replicator

	storedChunks int64
}

func newNodeExecutor(lg *log.Logger, store *core.ChunkStore, pm *core.PeerManagement, disp *core.Dispatcher, agg *core.SignatureAggregator) *nodeExecutor {
	return &nodeExecutor{logger: lg, store: store, pm: pm, disp: disp, agg: agg}
}

func (e *nodeExecutor) Execute(ctx context.Context, cmd core.Command) error {
	switch c := cmd.(type) {
	case core.StoreChunkCommand:
		if err := e.store.Put(c.Address, c.Data); err != nil {
			return err
		}
		atomic.AddInt64(&e.storedChunks, 1)
		if e.repl != nil {
			e.repl.ReplicateChunk(c.Address)
		}
		return nil

	case core.ReplicateChunkCommand:
		return e.pm.SendAsync(string(c.To[:]), replicateProto, byte(core.KindNodeMsg), c.Data)

	case core.SendCommand:
		raw, err := c.Msg.Encode()
		if err != nil {
			return fmt.Errorf("encode wire msg: %w", err)
		}
		return e.pm.SendAsync(c.Addr, serviceProto, byte(c.Msg.Kind), raw)

	case core.ScheduleCommand:
		inner := c.Payload
		time.AfterFunc(c.Delay, func() {
			if err := e.Execute(context.Background(), inner); err != nil {
				e.logger.WithError(err).Warn("scheduled command failed")
			}
		})
		return nil

	case core.AggregateCommand:
		_, err := e.agg.AddShare(c.SAP, c.ProposalID, c.Payload, c.ElderIdx, c.Share)
		return err

	default:
		return fmt.Errorf("executor: unhandled command kind %q", cmd.Kind())
	}
}

// scheduledToWireMsg frames a scheduled command as a bare KindNodeMsg
// WireMsg: ScheduleCommand wraps an arbitrary Command rather than a WireMsg,
// and the returned frame carries none of inner's content. The executor's
// ScheduleCommand branch above does not use it; it runs the inner command
// itself once the delay has passed.
func scheduledToWireMsg(inner core.Command) *core.WireMsg {
	return &core.WireMsg{MsgID: core.NewMsgID(), Kind: core.KindNodeMsg}
}

const (
	serviceProto   = "/sectionnet/service/1.0.0"
	replicateProto = "/sectionnet/replicate/1.0.0"
	pingProto      = "/sectionnet/ping/1.0.0"
)

// pingAdapter implements core.Pinger over the pub/sub transport the
// PeerManagement already exposes, in place of NetPinger's raw net.Conn
// round trip (libp2p streams aren't net.Conn here). It sends a ping frame
// and waits for any reply on the same subscription within the deadline;
// with a single elder-set this node talks to at a time this is an adequate
// stand-in for the health checker's RTT sampling, not a general-purpose
// correlated ping.
type pingAdapter struct {
	pm *core.PeerManagement

	mu   sync.Mutex
	subs map[string]<-chan core.InboundMsg
}

func newPingAdapter(pm *core.PeerManagement) *pingAdapter {
	return &pingAdapter{pm: pm, subs: make(map[string]<-chan core.InboundMsg)}
}

func (p *pingAdapter) Ping(ctx context.Context, addr core.Address) (time.Duration, error) {
	peerID := addr.String()
	start := time.Now()

	p.mu.Lock()
	ch, ok := p.subs[pingProto]
	if !ok {
		ch = p.pm.Subscribe(pingProto)
		p.subs[pingProto] = ch
	}
	p.mu.Unlock()

	if err := p.pm.SendAsync(peerID, pingProto, 0x01, []byte("ping")); err != nil {
		return 0, err
	}

	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(2 * time.Second):
		return 0, fmt.Errorf("ping: no pong from %s", peerID)
	}
}

// faultNotifierAdapter drops a peer address from the health checker's peer
// set once it crosses the faulty threshold, logging the removal so an
// operator can correlate it with elsewhere-logged section churn.
type faultNotifierAdapter struct {
	logger *log.Logger
	hc     *core.HealthChecker
}

func (f *faultNotifierAdapter) OnPeerFaulty(addr core.Address) {
	f.logger.WithField("peer", addr.String()).Warn("peer marked faulty, removing from health checks")
	f.hc.RemovePeer(addr)
}

// loadSampler reports the number of chunks this node's executor has stored,
// and a queue depth of 0, to the LoadReporter, which only broadcasts once
// the chunk count reaches the configured threshold.
type loadSampler struct {
	exec *nodeExecutor
}

func (s *loadSampler) Sample() (storedChunks, queueDepth int) {
	return int(atomic.LoadInt64(&s.exec.storedChunks)), 0
}

// loadBroadcaster publishes a LoadReport to the section's backpressure
// topic so elders can steer new writes away from a strained node.
type loadBroadcaster struct {
	node *core.Node
}

const loadReportTopic = "/sectionnet/load/1.0.0"

func (b *loadBroadcaster) BroadcastLoadReport(r core.LoadReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.node.Broadcast(loadReportTopic, data)
}
