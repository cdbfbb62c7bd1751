package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/queue"
)

type envOrErr struct {
	env message.Envelope
	err error
}

type fakeSource struct {
	in chan envOrErr

	mu         sync.Mutex
	outGot     []message.Envelope
	shutdownCh chan struct{}
	once       sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{in: make(chan envOrErr, 16), shutdownCh: make(chan struct{})}
}

func (s *fakeSource) push(env message.Envelope) { s.in <- envOrErr{env: env} }
func (s *fakeSource) pushErr(err error)         { s.in <- envOrErr{err: err} }

func (s *fakeSource) GetEnvelope() (message.Envelope, error) {
	select {
	case e := <-s.in:
		return e.env, e.err
	case <-s.shutdownCh:
		return message.Envelope{}, queue.ErrShutdown
	}
}

func (s *fakeSource) PutEnvelope(env message.Envelope) error {
	s.mu.Lock()
	s.outGot = append(s.outGot, env)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Shutdown() {
	s.once.Do(func() { close(s.shutdownCh) })
}

func (s *fakeSource) written() []message.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Envelope(nil), s.outGot...)
}

type fakeHandler struct {
	mu        sync.Mutex
	got       []message.Envelope
	idleCount int
	handleErr error
	panicOn   string
}

func (h *fakeHandler) HandleMessage(env message.Envelope) error {
	if h.panicOn != "" && env.Metadata.RoutingName == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	h.got = append(h.got, env)
	h.mu.Unlock()
	return h.handleErr
}

func (h *fakeHandler) OnIdle() {
	h.mu.Lock()
	h.idleCount++
	h.mu.Unlock()
}

func (h *fakeHandler) received() []message.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]message.Envelope(nil), h.got...)
}

func (h *fakeHandler) idles() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.idleCount
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func routed(name string) message.Envelope {
	return message.Envelope{Metadata: message.Metadata{RoutingName: name}}
}

func TestDispatcherHandlesAndSends(t *testing.T) {
	src := newFakeSource()
	h := &fakeHandler{}
	d := New("test", h, NoIdle, nil)

	if err := d.StartQueueing(src); err != nil {
		t.Fatalf("StartQueueing: %v", err)
	}
	if err := d.StartDispatching(nil); err != nil {
		t.Fatalf("StartDispatching: %v", err)
	}

	src.push(routed("a"))
	src.push(routed("b"))
	src.push(routed("c"))
	waitUntil(t, time.Second, func() bool { return len(h.received()) == 3 })

	if err := d.Send(routed("out")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(src.written()) == 1 })

	d.PostQuit()
	reason := d.WaitForExit()
	if reason != ExitQuit {
		t.Fatalf("expected ExitQuit, got %v", reason)
	}
	if d.ReceivedMessageCount() != 3 {
		t.Fatalf("expected 3 received, got %d", d.ReceivedMessageCount())
	}
	if d.SentMessageCount() != 1 {
		t.Fatalf("expected 1 sent, got %d", d.SentMessageCount())
	}
}

func TestDispatcherStartOrderEnforced(t *testing.T) {
	h := &fakeHandler{}
	d := New("test", h, NoIdle, nil)
	if err := d.StartDispatching(nil); err == nil {
		t.Fatal("expected error starting dispatching before queueing")
	}
	src := newFakeSource()
	if err := d.StartQueueing(src); err != nil {
		t.Fatalf("StartQueueing: %v", err)
	}
	if err := d.StartQueueing(src); err == nil {
		t.Fatal("expected error calling StartQueueing twice")
	}
	d.PostQuit()
	d.WaitForExit()
}

func TestDispatcherDisconnect(t *testing.T) {
	src := newFakeSource()
	h := &fakeHandler{}
	var observed ExitReason
	d := New("test", h, NoIdle, func(r ExitReason) { observed = r })

	if err := d.StartQueueing(src); err != nil {
		t.Fatalf("StartQueueing: %v", err)
	}
	if err := d.StartDispatching(nil); err != nil {
		t.Fatalf("StartDispatching: %v", err)
	}

	src.pushErr(ErrDisconnected)
	reason := d.WaitForExit()
	if reason != ExitDisconnected {
		t.Fatalf("expected ExitDisconnected, got %v", reason)
	}
	if observed != ExitDisconnected {
		t.Fatalf("observer did not see ExitDisconnected, got %v", observed)
	}
}

func TestDispatcherHandlerPanicBecomesHandlerError(t *testing.T) {
	src := newFakeSource()
	h := &fakeHandler{panicOn: "boom"}
	d := New("test", h, NoIdle, nil)

	if err := d.StartQueueing(src); err != nil {
		t.Fatalf("StartQueueing: %v", err)
	}
	if err := d.StartDispatching(nil); err != nil {
		t.Fatalf("StartDispatching: %v", err)
	}

	src.push(routed("boom"))
	reason := d.WaitForExit()
	if reason != ExitHandlerError {
		t.Fatalf("expected ExitHandlerError, got %v", reason)
	}
}

func TestDispatcherIdleCallback(t *testing.T) {
	src := newFakeSource()
	h := &fakeHandler{}
	d := New("test", h, 5*time.Millisecond, nil)

	if err := d.StartQueueing(src); err != nil {
		t.Fatalf("StartQueueing: %v", err)
	}
	if err := d.StartDispatching(nil); err != nil {
		t.Fatalf("StartDispatching: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return h.idles() > 0 })

	d.PostQuit()
	d.WaitForExit()
}
