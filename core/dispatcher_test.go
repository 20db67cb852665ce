package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeExecutor struct {
	mu   sync.Mutex
	cmds []Command
	fail map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{fail: make(map[string]bool)}
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.fail[cmd.Kind()] {
		return ErrRateLimited
	}
	return nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

func TestDispatcherRoutesToRegisteredHandler(t *testing.T) {
	exec := newFakeExecutor()
	d := NewDispatcher(newTestLogger(), exec, 8)

	called := make(chan struct{}, 1)
	d.Register(KindServiceMsg, func(ctx context.Context, msg *WireMsg) ([]Command, error) {
		called <- struct{}{}
		return []Command{StoreChunkCommand{Address: HashBytes(msg.Payload), Data: msg.Payload}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindServiceMsg, Payload: []byte("hello")}
	if err := d.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("handler was not invoked")
	}

	deadline := time.Now().Add(time.Second)
	for exec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if exec.count() != 1 {
		t.Fatalf("expected one executed command, got %d", exec.count())
	}
}

func TestDispatcherDropsUnregisteredKind(t *testing.T) {
	exec := newFakeExecutor()
	d := NewDispatcher(newTestLogger(), exec, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindNodeMsg}
	if err := d.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if exec.count() != 0 {
		t.Fatalf("expected no commands executed for unregistered kind")
	}
}

func TestDispatcherEnqueueAfterCloseFails(t *testing.T) {
	exec := newFakeExecutor()
	d := NewDispatcher(newTestLogger(), exec, 1)
	d.Close()

	msg := &WireMsg{MsgID: NewMsgID(), Kind: KindServiceMsg}
	if err := d.Enqueue(msg); err == nil {
		t.Fatalf("expected Enqueue on closed dispatcher to fail")
	}
}

func TestHandleStoreChunkCommandsKinds(t *testing.T) {
	data := []byte("chunk bytes")
	addr := HashBytes(data)
	adults := []NodeName{{1}, {2}, {3}, {4}}
	self := adults[2]

	cmds, err := HandleStoreChunk(addr, data, adults, self)
	if err != nil {
		t.Fatalf("HandleStoreChunk: %v", err)
	}
	if len(cmds) != ReplicationFactor {
		t.Fatalf("expected %d commands, got %d", ReplicationFactor, len(cmds))
	}

	sawStore := false
	for _, c := range cmds {
		switch v := c.(type) {
		case StoreChunkCommand:
			sawStore = true
			if v.Address != addr {
				t.Fatalf("store command address mismatch")
			}
		case ReplicateChunkCommand, ScheduleCommand:
			// expected for remote targets
		default:
			t.Fatalf("unexpected command type %T", c)
		}
	}
	if !sawStore {
		t.Fatalf("expected a StoreChunkCommand for the local target")
	}
}
