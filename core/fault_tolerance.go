package core

// fault_tolerance.go – Peer health‑checking and backpressure signalling.
//
// Key components
// --------------
// • **HealthChecker** – maintains round‑trip time (RTT) scores for each peer.
//   Pings occur every `interval`, EWMA-smoothed; peers with score above
//   `maxRTT` or missing `maxMisses` are flagged faulty and reported to the
//   supplied FaultNotifier so the caller can exclude them from routing and,
//   for an elder, from future chunk-holder selection.
// • **LoadReporter** – the backpressure half: ticks every BackpressureInterval
//   and broadcasts a LoadReport to the section once local load crosses a
//   configured threshold, letting elders steer new writes away from a
//   strained adult.
//
// Dependencies: common (Address), network (Dial, SendPing). No circular
// imports.
// -----------------------------------------------------------------------------

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"time"
)

//---------------------------------------------------------------------
// HealthChecker
//---------------------------------------------------------------------

func NewHealthChecker(ping Pinger, notify FaultNotifier, initial []Address) *HealthChecker {
	hc := &HealthChecker{
		peers:     make(map[Address]*peerStat),
		interval:  3 * time.Second,
		alpha:     0.2,
		maxRTT:    1500, // 1.5s
		maxMisses: 3,
		ping:      ping,
		changer:   notify,
		stop:      make(chan struct{}),
	}
	for _, p := range initial {
		hc.peers[p] = &peerStat{}
	}
	go hc.loop()
	return hc
}

//---------------------------------------------------------------------
// Background ping loop
//---------------------------------------------------------------------

func (hc *HealthChecker) loop() {
	t := time.NewTicker(hc.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			hc.tick()
		case <-hc.stop:
			return
		}
	}
}

// Stop terminates background health checks.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	select {
	case <-hc.stop:
		return
	default:
		close(hc.stop)
	}
}

func (hc *HealthChecker) tick() {
	hc.mu.RLock()
	peers := make([]Address, 0, len(hc.peers))
	for p := range hc.peers {
		peers = append(peers, p)
	}
	hc.mu.RUnlock()

	var wg sync.WaitGroup
	for _, addr := range peers {
		wg.Add(1)
		go func(a Address) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), hc.interval)
			defer cancel()
			rtt, err := hc.ping.Ping(ctx, a)

			hc.mu.Lock()
			ps, ok := hc.peers[a]
			if !ok {
				hc.mu.Unlock()
				return
			}
			if err != nil {
				ps.Misses++
			} else {
				ps.Misses = 0
				ms := float64(rtt.Milliseconds())
				if ps.EWMA == 0 {
					ps.EWMA = ms
				} else {
					ps.EWMA = hc.alpha*ms + (1-hc.alpha)*ps.EWMA
				}
			}
			ps.LastUpdate = time.Now()
			faulty := ps.Misses >= hc.maxMisses || ps.EWMA > hc.maxRTT
			hc.mu.Unlock()

			if faulty && hc.changer != nil {
				hc.changer.OnPeerFaulty(a)
			}
		}(addr)
	}
	wg.Wait()
}

type Pinger interface {
	Ping(ctx context.Context, addr Address) (time.Duration, error)
}

// FaultNotifier is told about a peer once it crosses the faulty threshold, so
// the caller can drop it from routing or holder-selection tables.
type FaultNotifier interface {
	OnPeerFaulty(addr Address)
}

//---------------------------------------------------------------------
// Manage peer set
//---------------------------------------------------------------------

func (hc *HealthChecker) AddPeer(addr Address) {
	hc.mu.Lock()
	hc.peers[addr] = &peerStat{}
	hc.mu.Unlock()
}
func (hc *HealthChecker) RemovePeer(addr Address) {
	hc.mu.Lock()
	delete(hc.peers, addr)
	hc.mu.Unlock()
}

//---------------------------------------------------------------------
// Snapshot for CLI / REST
//---------------------------------------------------------------------

func (hc *HealthChecker) Snapshot() []PeerInfo {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make([]PeerInfo, 0, len(hc.peers))
	for addr, st := range hc.peers {
		out = append(out, PeerInfo{Address: addr, RTT: st.EWMA, Misses: st.Misses, Updated: st.LastUpdate.Unix()})
	}
	return out
}

//---------------------------------------------------------------------
// Reconfigure (external trigger)
//---------------------------------------------------------------------

func (hc *HealthChecker) Reconfigure(newPeers []Address) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.peers = make(map[Address]*peerStat)
	for _, p := range newPeers {
		hc.peers[p] = &peerStat{}
	}
}

//---------------------------------------------------------------------
// Integration helpers – network.Pinger implementation
//---------------------------------------------------------------------

// NetPinger implements Pinger over pooled raw TCP connections, for
// deployments that skip the libp2p transport entirely. It reuses a
// ConnPool keyed by peer address instead of dialing fresh for every ping.
type NetPinger struct {
	pool *ConnPool
}

// NewNetPinger builds a NetPinger backed by a ConnPool of its own, dialing
// through d with the given idle-connection limits.
func NewNetPinger(d *Dialer, maxIdle int, idleTTL time.Duration) *NetPinger {
	return &NetPinger{pool: NewConnPool(d, maxIdle, idleTTL)}
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (np *NetPinger) Ping(ctx context.Context, peer Address) (time.Duration, error) {
	conn, err := np.pool.Acquire(ctx, peer.String()) // Assuming Address.String() returns IP:Port
	if err != nil {
		return 0, err
	}

	t0 := time.Now()

	if err := SendPing(conn); err != nil {
		conn.Close()
		return 0, err
	}
	if err := AwaitPong(ctx, conn); err != nil {
		conn.Close()
		return 0, err
	}

	np.pool.Release(conn)
	return time.Since(t0), nil
}

// Close releases the pinger's pooled connections.
func (np *NetPinger) Close() { np.pool.Close() }

func SendPing(conn net.Conn) error {
	_, err := conn.Write([]byte("ping"))
	return err
}

func AwaitPong(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Read(buf)
	if err != nil {
		return err
	}
	if string(buf) != "pong" {
		return errors.New("unexpected response")
	}
	return nil
}

//---------------------------------------------------------------------
// Backpressure: load reporting
//---------------------------------------------------------------------

// LoadReport is broadcast by a strained node to its section so elders can
// steer new chunk writes away from it.
type LoadReport struct {
	From         NodeName
	StoredChunks int
	QueueDepth   int
	Ts           int64
}

// LoadSampler is implemented by whatever local component tracks storage and
// queue pressure (ChunkStore size, Dispatcher inbox depth).
type LoadSampler interface {
	Sample() (storedChunks, queueDepth int)
}

// LoadBroadcaster is implemented by the transport adapter.
type LoadBroadcaster interface {
	BroadcastLoadReport(LoadReport) error
}

// LoadReporter ticks every BackpressureInterval and broadcasts a LoadReport
// once sampled load crosses the configured threshold.
type LoadReporter struct {
	self      NodeName
	sampler   LoadSampler
	bcast     LoadBroadcaster
	interval  time.Duration
	threshold int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewLoadReporter creates a reporter; threshold is the StoredChunks count
// at or above which a LoadReport is actually sent (quiet otherwise).
func NewLoadReporter(self NodeName, sampler LoadSampler, bcast LoadBroadcaster, interval time.Duration, threshold int) *LoadReporter {
	if interval <= 0 {
		interval = BackpressureInterval
	}
	return &LoadReporter{
		self:      self,
		sampler:   sampler,
		bcast:     bcast,
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic reporting loop.
func (lr *LoadReporter) Start() {
	lr.wg.Add(1)
	go lr.loop()
}

// Stop terminates the loop and waits for it to exit.
func (lr *LoadReporter) Stop() {
	close(lr.stop)
	lr.wg.Wait()
}

func (lr *LoadReporter) loop() {
	defer lr.wg.Done()
	t := time.NewTicker(lr.interval)
	defer t.Stop()
	for {
		select {
		case <-lr.stop:
			return
		case <-t.C:
			stored, queue := lr.sampler.Sample()
			if stored < lr.threshold {
				continue
			}
			_ = lr.bcast.BroadcastLoadReport(LoadReport{
				From:         lr.self,
				StoredChunks: stored,
				QueueDepth:   queue,
				Ts:           time.Now().Unix(),
			})
		}
	}
}
