// Package dispatcher runs the goroutines that move envelopes between a
// transport and a message handler at the handler's own pace, grounded on
// arras4_core_impl's MessageDispatcher: a reader goroutine fills an
// incoming queue, a writer goroutine drains an outgoing queue, and a
// handler goroutine pops the incoming queue and calls into a computation
// (or calls OnIdle when it waits too long for a message).
package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/queue"
)

// NoIdle disables the idle callback: the handler goroutine blocks
// indefinitely waiting for the next incoming message.
const NoIdle time.Duration = 0

// ErrDisconnected is returned by a Source's GetEnvelope/PutEnvelope to
// signal that the underlying transport disconnected, as opposed to a
// malformed message or other transport error.
var ErrDisconnected = errors.New("dispatcher: transport disconnected")

// Source is the transport a Dispatcher reads from and writes to: normally
// a framed connection, but it can layer in extra processing (for example
// intercepting control messages before the dispatcher ever queues them).
// GetEnvelope and PutEnvelope must return queue.ErrShutdown (or an error
// wrapping it) once Shutdown has unblocked an in-progress or subsequent
// call, so the reader/writer goroutines can tell a requested shutdown
// apart from a real transport fault.
type Source interface {
	GetEnvelope() (message.Envelope, error)
	PutEnvelope(env message.Envelope) error
	Shutdown()
}

// Handler receives messages popped off the incoming queue, and is called
// on the same goroutine (the dispatcher's "handler" goroutine, which is
// effectively the computation's main goroutine) when the queue has been
// empty for at least the configured idle interval.
type Handler interface {
	HandleMessage(env message.Envelope) error
	OnIdle()
}

// Limits is applied once, on the handler goroutine, right after it starts
// so that CPU affinity/thread-count restrictions land on the right OS
// thread. A nil Limits is treated as a no-op.
type Limits interface {
	Apply() error
}

// Observer is notified once, after every dispatcher goroutine has
// returned, with the reason the dispatcher stopped.
type Observer func(reason ExitReason)

type dispatcherState int32

const (
	stateNotStarted dispatcherState = iota
	stateQueueing
	stateDispatching
	stateExiting
	stateExited
)

// Dispatcher moves envelopes between a Source and a Handler across three
// goroutines (reader, writer, handler), buffered through two queues so the
// handler can run at its own pace. The zero value is not usable; use New.
type Dispatcher struct {
	label        string
	handler      Handler
	idleInterval time.Duration
	observer     Observer

	outgoing *queue.Queue
	incoming *queue.Queue

	source Source
	limits Limits

	state      atomic.Int32
	exitReason atomic.Int32

	sentCount     atomic.Uint64
	receivedCount atomic.Uint64

	wg sync.WaitGroup
}

// New builds a Dispatcher. idleInterval of NoIdle (zero) disables the idle
// callback entirely; observer may be nil.
func New(label string, handler Handler, idleInterval time.Duration, observer Observer) *Dispatcher {
	return &Dispatcher{
		label:        label,
		handler:      handler,
		idleInterval: idleInterval,
		observer:     observer,
		outgoing:     queue.New(0),
		incoming:     queue.New(0),
	}
}

// Send places env on the outgoing queue, to be written out as soon as the
// writer goroutine is running and gets to it. Safe to call any time after
// New, including before StartDispatching.
func (d *Dispatcher) Send(env message.Envelope) error {
	if err := d.outgoing.Push(env); err != nil {
		return err
	}
	return nil
}

// StartQueueing starts the reader goroutine against source, so incoming
// messages are captured (but not yet handled) immediately. source must
// remain valid until WaitForExit returns.
func (d *Dispatcher) StartQueueing(source Source) error {
	if !d.state.CompareAndSwap(int32(stateNotStarted), int32(stateQueueing)) {
		return fmt.Errorf("dispatcher %q: startQueueing called after the dispatcher has already started", d.label)
	}
	d.source = source
	d.wg.Add(1)
	go d.incomingLoop()
	return nil
}

// StartDispatching starts the writer and handler goroutines, so queued and
// subsequent incoming messages are handled and queued outgoing messages
// are sent. limits is applied on the handler goroutine once it starts; it
// may be nil.
func (d *Dispatcher) StartDispatching(limits Limits) error {
	if !d.state.CompareAndSwap(int32(stateQueueing), int32(stateDispatching)) {
		return fmt.Errorf("dispatcher %q: startDispatching called while not in the queueing state", d.label)
	}
	d.limits = limits
	d.wg.Add(2)
	go d.outgoingLoop()
	go d.handlerLoop()
	return nil
}

// WaitForExit blocks until every dispatcher goroutine has returned, then
// reports why. Safe to call from any goroutine; safe to call more than
// once.
func (d *Dispatcher) WaitForExit() ExitReason {
	d.wg.Wait()
	d.state.Store(int32(stateExited))
	reason := ExitReason(d.exitReason.Load())
	if d.observer != nil {
		d.observer(reason)
	}
	return reason
}

// PostQuit asks the dispatcher to stop promptly, with ExitQuit, unless it
// is already exiting or has exited for some other reason.
func (d *Dispatcher) PostQuit() {
	d.postExit(ExitQuit, nil)
}

// SentMessageCount reports how many envelopes the writer goroutine has
// written out, not counting heartbeats. Safe to call from any goroutine.
func (d *Dispatcher) SentMessageCount() uint64 {
	return d.sentCount.Load()
}

// ReceivedMessageCount reports how many envelopes the handler goroutine
// has popped off the incoming queue. Safe to call from any goroutine.
func (d *Dispatcher) ReceivedMessageCount() uint64 {
	return d.receivedCount.Load()
}

func (d *Dispatcher) postExit(reason ExitReason, cause error) {
	if !d.exitReason.CompareAndSwap(int32(ExitNone), int32(reason)) {
		return
	}
	if cause != nil {
		logging.Errorw("dispatcher exiting", "label", d.label, "reason", reason.String(), "error", cause)
	} else {
		logging.Debugw("dispatcher exiting", "label", d.label, "reason", reason.String())
	}
	d.state.Store(int32(stateExiting))
	d.incoming.Shutdown()
	d.outgoing.Shutdown()
	if d.source != nil {
		d.source.Shutdown()
	}
}

func (d *Dispatcher) exiting() bool {
	return dispatcherState(d.state.Load()) == stateExiting
}

func (d *Dispatcher) incomingLoop() {
	defer d.wg.Done()
	for !d.exiting() {
		env, err := d.source.GetEnvelope()
		switch {
		case err == nil:
			_ = d.incoming.Push(env) // queue shutdown here just means we're already exiting
		case errors.Is(err, queue.ErrShutdown):
			// the source was told to shut down so a blocked read could
			// return; loop around and observe the exiting state.
		case errors.Is(err, ErrDisconnected):
			d.postExit(ExitDisconnected, err)
		default:
			d.postExit(ExitMessageError, err)
		}
	}
}

func (d *Dispatcher) outgoingLoop() {
	defer d.wg.Done()
	for !d.exiting() {
		env, ok, err := d.outgoing.Pop(0)
		if err != nil {
			if errors.Is(err, queue.ErrShutdown) {
				continue
			}
			d.postExit(ExitMessageError, err)
			continue
		}
		if !ok {
			continue
		}
		if err := d.source.PutEnvelope(env); err != nil {
			switch {
			case errors.Is(err, ErrDisconnected):
				d.postExit(ExitDisconnected, err)
			default:
				d.postExit(ExitMessageError, err)
			}
			continue
		}
		if env.ClassID != message.HeartbeatClassID {
			d.sentCount.Add(1)
		}
	}
}

func (d *Dispatcher) handlerLoop() {
	defer d.wg.Done()
	if d.limits != nil {
		if err := d.limits.Apply(); err != nil {
			logging.Warnw("dispatcher could not apply execution limits to handler goroutine", "label", d.label, "error", err)
		}
	}
	for !d.exiting() {
		d.handleOnce()
	}
}

// handleOnce runs one pop-and-dispatch cycle, recovering from a panicking
// Handler so it becomes a reported HandlerError instead of crashing the
// process -- matching the donor's catch(...) around the equivalent call.
func (d *Dispatcher) handleOnce() {
	defer func() {
		if r := recover(); r != nil {
			d.postExit(ExitHandlerError, fmt.Errorf("handler panicked: %v", r))
		}
	}()

	env, ok, err := d.incoming.Pop(d.idleInterval)
	if err != nil {
		if errors.Is(err, queue.ErrShutdown) {
			return
		}
		d.postExit(ExitMessageError, err)
		return
	}
	if !ok {
		d.handler.OnIdle()
		return
	}
	d.receivedCount.Add(1)
	if err := d.handler.HandleMessage(env); err != nil {
		d.postExit(ExitHandlerError, err)
	}
}
