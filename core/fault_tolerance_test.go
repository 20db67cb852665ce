package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePinger struct {
	mu  sync.Mutex
	rtt time.Duration
	err error
}

func (f *fakePinger) Ping(ctx context.Context, addr Address) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rtt, f.err
}

func (f *fakePinger) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeNotifier struct {
	mu     sync.Mutex
	faulty []Address
}

func (f *fakeNotifier) OnPeerFaulty(addr Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faulty = append(f.faulty, addr)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.faulty)
}

func TestHealthCheckerFlagsFaultyPeerAfterMisses(t *testing.T) {
	ping := &fakePinger{err: errTestPingFailure}
	notify := &fakeNotifier{}
	peer := addrN(7)

	hc := NewHealthChecker(ping, notify, []Address{peer})
	hc.Stop() // stop the background loop so only our manual ticks drive state

	for i := 0; i < 3; i++ {
		hc.tick()
	}
	if notify.count() == 0 {
		t.Fatalf("expected peer to be flagged faulty after repeated ping failures")
	}
}

func TestHealthCheckerAddRemovePeer(t *testing.T) {
	ping := &fakePinger{}
	notify := &fakeNotifier{}
	hc := NewHealthChecker(ping, notify, nil)
	defer hc.Stop()

	p := addrN(1)
	hc.AddPeer(p)
	snap := hc.Snapshot()
	if len(snap) != 1 || snap[0].Address != p {
		t.Fatalf("expected peer %v in snapshot, got %+v", p, snap)
	}

	hc.RemovePeer(p)
	if len(hc.Snapshot()) != 0 {
		t.Fatalf("expected empty snapshot after RemovePeer")
	}
}

type fakeSampler struct {
	stored, queue int
}

func (f *fakeSampler) Sample() (int, int) { return f.stored, f.queue }

type fakeBroadcaster struct {
	mu       sync.Mutex
	reports  []LoadReport
}

func (f *fakeBroadcaster) BroadcastLoadReport(r LoadReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestLoadReporterBroadcastsAboveThreshold(t *testing.T) {
	var self NodeName
	self[0] = 0x42
	sampler := &fakeSampler{stored: 100, queue: 3}
	bcast := &fakeBroadcaster{}

	lr := NewLoadReporter(self, sampler, bcast, 5*time.Millisecond, 50)
	lr.Start()
	defer lr.Stop()

	deadline := time.Now().Add(time.Second)
	for bcast.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if bcast.count() == 0 {
		t.Fatalf("expected at least one load report broadcast")
	}
}

func TestLoadReporterStaysQuietBelowThreshold(t *testing.T) {
	var self NodeName
	sampler := &fakeSampler{stored: 1, queue: 0}
	bcast := &fakeBroadcaster{}

	lr := NewLoadReporter(self, sampler, bcast, 5*time.Millisecond, 50)
	lr.Start()
	defer lr.Stop()

	time.Sleep(30 * time.Millisecond)
	if bcast.count() != 0 {
		t.Fatalf("expected no broadcast below threshold, got %d", bcast.count())
	}
}

var errTestPingFailure = &testPingError{}

type testPingError struct{}

func (*testPingError) Error() string { return "ping failed" }
