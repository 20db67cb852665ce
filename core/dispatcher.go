package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Command is the unit of work the dispatcher loop processes. A handler may
// mutate NetworkKnowledge or storage and return further commands to enqueue
// (send, schedule, aggregate), matching the "dispatch(WireMsg) -> []Command"
// pattern the design calls for instead of open polymorphism.
type Command interface {
	// Kind is a short label used for logging and metrics.
	Kind() string
}

// SendCommand asks the transport adapter to deliver a wire frame to a peer.
type SendCommand struct {
	To   NodeName
	Addr string
	Msg  *WireMsg
}

func (SendCommand) Kind() string { return "send" }

// ScheduleCommand asks the dispatcher to re-deliver itself after Delay.
type ScheduleCommand struct {
	Delay   time.Duration
	Payload Command
}

func (ScheduleCommand) Kind() string { return "schedule" }

// AggregateCommand feeds a BLS share into the signature aggregator.
type AggregateCommand struct {
	SAP        SAP
	ProposalID [16]byte
	Payload    []byte
	ElderIdx   int
	Share      []byte
}

func (AggregateCommand) Kind() string { return "aggregate" }

// StoreChunkCommand asks local storage to persist a chunk.
type StoreChunkCommand struct {
	Address ChunkAddress
	Data    []byte
}

func (StoreChunkCommand) Kind() string { return "store_chunk" }

// ReplicateChunkCommand asks the transport adapter to push a chunk to one
// remote holder, the unit ReplicationFactor-wide fan-out is built from.
type ReplicateChunkCommand struct {
	To      NodeName
	Address ChunkAddress
	Data    []byte
}

func (ReplicateChunkCommand) Kind() string { return "replicate_chunk" }

// Handler processes one incoming WireMsg and returns the commands it
// produces. Handlers never panic on malformed input; they return a typed
// error instead (see errors.go), which the dispatcher logs and which never
// changes state unless the handler already mutated it before failing.
type Handler func(ctx context.Context, msg *WireMsg) ([]Command, error)

// Executor performs the side effect named by a Command (send over the
// transport, start a timer, etc). Supplied by the node's wiring code; the
// dispatcher itself has no knowledge of transport or storage internals.
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// Dispatcher is the single per-node asynchronous loop converting inbound
// events into commands and sub-commands. Message processing is
// single-writer per section-knowledge state: all handler invocations run
// through one goroutine per Dispatcher, so NetworkKnowledge mutations are
// implicitly serialised; the side-effect commands (I/O, signing) a handler
// returns are fanned out via errgroup, and the loop waits for all of them to
// finish before it takes the next inbound message.
type Dispatcher struct {
	logger   *log.Logger
	inbox    chan *WireMsg
	handlers map[MsgKind]Handler
	exec     Executor

	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
}

// NewDispatcher creates a dispatcher with the given inbound buffer size.
func NewDispatcher(lg *log.Logger, exec Executor, inboxSize int) *Dispatcher {
	return &Dispatcher{
		logger:   lg,
		inbox:    make(chan *WireMsg, inboxSize),
		handlers: make(map[MsgKind]Handler),
		exec:     exec,
		closeCh:  make(chan struct{}),
	}
}

// Register binds a Handler to a MsgKind. Call before Run.
func (d *Dispatcher) Register(kind MsgKind, h Handler) {
	d.handlers[kind] = h
}

// Enqueue delivers msg to the dispatcher's inbox. Safe to call from any
// goroutine (transport adapter read loops, timers).
func (d *Dispatcher) Enqueue(msg *WireMsg) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("dispatcher: closed")
	}
	select {
	case d.inbox <- msg:
		return nil
	default:
		return newErr(KindCapacity, "dispatcher.Enqueue", ErrRateLimited)
	}
}

// Run drives the dispatcher loop until ctx is cancelled or Close is called.
// Each inbound message is processed by its kind's registered Handler; the
// resulting commands are executed concurrently (one errgroup goroutine each,
// with no limit), and the next message is taken only after all of them have
// returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closeCh:
			return nil
		case msg := <-d.inbox:
			d.process(ctx, msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, msg *WireMsg) {
	h, ok := d.handlers[msg.Kind]
	if !ok {
		d.logger.WithField("kind", msg.Kind).Warn("dispatcher: no handler registered, dropping")
		return
	}

	cmds, err := h(ctx, msg)
	if err != nil {
		d.logger.WithFields(log.Fields{
			"msg_id": fmt.Sprintf("%x", msg.MsgID),
			"kind":   msg.Kind,
			"err":    err,
		}).Warn("dispatcher: handler error")
		return
	}

	d.executeAll(ctx, cmds)
}

func (d *Dispatcher) executeAll(ctx context.Context, cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cmds {
		cmd := c
		g.Go(func() error {
			if err := d.exec.Execute(gctx, cmd); err != nil {
				d.logger.WithFields(log.Fields{"cmd": cmd.Kind(), "err": err}).Warn("dispatcher: command execution failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops the Run loop after the current message finishes processing.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.closeCh)
	}
}
