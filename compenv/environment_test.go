package compenv

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/limits"
	"github.com/dreamworksanimation/arras4-core/message"
)

type stubComputation struct {
	mu       sync.Mutex
	messages []message.Envelope
	started  bool
	stopped  bool
	configs  []string
	onMsg    func(env message.Envelope) Result
}

func (c *stubComputation) OnMessage(env message.Envelope) Result {
	c.mu.Lock()
	c.messages = append(c.messages, env)
	c.mu.Unlock()
	if c.onMsg != nil {
		return c.onMsg(env)
	}
	return Success
}

func (c *stubComputation) OnIdle() {}

func (c *stubComputation) Configure(op string, _ map[string]any) Result {
	c.mu.Lock()
	c.configs = append(c.configs, op)
	if op == "start" {
		c.started = true
	}
	if op == "stop" {
		c.stopped = true
	}
	c.mu.Unlock()
	return Success
}

func (c *stubComputation) WantsHyperthreading() bool { return false }

func registerStub(t *testing.T, name string) *stubComputation {
	t.Helper()
	comp := &stubComputation{}
	Register(name, func(Environment) Computation { return comp })
	return comp
}

func testAddress() address.Address {
	return address.New(id.New(), id.New(), id.New())
}

func TestLoadUnknownNameFails(t *testing.T) {
	if _, err := Load("no-such-computation", nil); err == nil {
		t.Fatal("expected error for unregistered name")
	}
}

func TestNewLoadsRegisteredComputation(t *testing.T) {
	registerStub(t, "test.echo")
	env, err := New("test.echo", testAddress())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.Property("computationName") != "test.echo" {
		t.Fatalf("unexpected computationName property: %v", env.Property("computationName"))
	}
}

func TestSetRoutingThenSendResolvesDestination(t *testing.T) {
	registerStub(t, "test.routing")
	addr := testAddress()
	env, err := New("test.routing", addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	otherID := id.New()
	routingDoc := map[string]any{
		addr.Session.String(): map[string]any{
			"computations": map[string]any{
				"self":  map[string]any{"compId": addr.Computation.String(), "nodeId": addr.Node.String()},
				"other": map[string]any{"compId": otherID.String(), "nodeId": addr.Node.String()},
			},
		},
		"messageFilter": map[string]any{
			"self": map[string]any{"other": map[string]any{}},
		},
	}
	if !env.SetRouting(routingDoc) {
		t.Fatal("expected SetRouting to succeed")
	}

	sent := message.New(&message.ControlMessage{Command: "noop"}, address.Address{}, "anything")
	env.addresser.Address(&sent)
	if len(sent.To) != 1 || sent.To[0].Computation != otherID {
		t.Fatalf("expected message routed to 'other', got %v", sent.To)
	}
}

func TestSetRoutingRejectsMissingSession(t *testing.T) {
	registerStub(t, "test.routing.bad")
	env, err := New("test.routing.bad", testAddress())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.SetRouting(map[string]any{}) {
		t.Fatal("expected SetRouting to fail on an empty document")
	}
}

func TestControlMessageUpdateAppliesNewRouting(t *testing.T) {
	registerStub(t, "test.update")
	addr := testAddress()
	env, err := New("test.update", addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	otherID := id.New()
	doc := map[string]any{
		"routing": map[string]any{
			addr.Session.String(): map[string]any{
				"computations": map[string]any{
					"self":  map[string]any{"compId": addr.Computation.String(), "nodeId": addr.Node.String()},
					"other": map[string]any{"compId": otherID.String(), "nodeId": addr.Node.String()},
				},
			},
			"messageFilter": map[string]any{
				"self": map[string]any{"other": map[string]any{}},
			},
		},
	}
	data, err := message.ObjectToString(doc)
	if err != nil {
		t.Fatalf("ObjectToString: %v", err)
	}
	env.ControlMessage(message.ControlCommandUpdate, data)

	sent := message.New(&message.ControlMessage{Command: "noop"}, address.Address{}, "anything")
	env.addresser.Address(&sent)
	if len(sent.To) != 1 || sent.To[0].Computation != otherID {
		t.Fatalf("expected update to install routing to 'other', got %v", sent.To)
	}
}

func TestHandleMessageInvalidBecomesMessageFormatError(t *testing.T) {
	comp := registerStub(t, "test.invalid")
	comp.onMsg = func(message.Envelope) Result { return Invalid }
	env, err := New("test.invalid", testAddress())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = env.HandleMessage(message.Envelope{})
	if err == nil || !message.IsFatal(err) {
		t.Fatalf("expected a fatal MessageFormatError, got %v", err)
	}
}

type recordingSource struct {
	mu       sync.Mutex
	envs     chan message.Envelope
	put      []message.Envelope
	shutOnce sync.Once
}

func newRecordingSource() *recordingSource {
	return &recordingSource{envs: make(chan message.Envelope, 8)}
}

func (s *recordingSource) GetEnvelope() (message.Envelope, error) {
	env, ok := <-s.envs
	if !ok {
		return message.Envelope{}, errors.New("recordingSource: shut down")
	}
	return env, nil
}

func (s *recordingSource) PutEnvelope(env message.Envelope) error {
	s.mu.Lock()
	s.put = append(s.put, env)
	s.mu.Unlock()
	return nil
}

func (s *recordingSource) Shutdown() {
	s.shutOnce.Do(func() { close(s.envs) })
}

func (s *recordingSource) written() []message.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Envelope(nil), s.put...)
}

func TestRunHappyPath(t *testing.T) {
	comp := registerStub(t, "test.run")
	addr := testAddress()
	env, err := New("test.run", addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := newRecordingSource()
	src.envs <- message.New(&message.ControlMessage{Command: message.ControlCommandGo}, address.Address{}, "")

	lim := limits.Default()
	doneCh := make(chan ExitReason, 1)
	go func() {
		doneCh <- env.Run(src, &lim, true, addr)
	}()

	// Wait for configure("start") (and so startDispatching) to actually
	// happen before sending "stop", so the dispatcher is guaranteed to be
	// running its writer goroutine when "stop" arrives and the "ready"
	// message gets flushed. Sending "stop" any earlier races startDispatching,
	// exactly like the donor's own startDispatching/Quit race.
	deadline := time.Now().Add(5 * time.Second)
	for {
		comp.mu.Lock()
		started := comp.started
		comp.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("configure(\"start\") never happened")
		}
		time.Sleep(time.Millisecond)
	}
	src.envs <- message.New(&message.ControlMessage{Command: message.ControlCommandStop}, address.Address{}, "")

	select {
	case reason := <-doneCh:
		if reason != ExitQuit {
			t.Fatalf("expected ExitQuit, got %v", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return in time")
	}

	comp.mu.Lock()
	defer comp.mu.Unlock()
	if !comp.started || !comp.stopped {
		t.Fatalf("expected configure(start) and configure(stop) both called, got started=%v stopped=%v", comp.started, comp.stopped)
	}

	foundReady := false
	for _, e := range src.written() {
		if ctrl, ok := e.Content.Object.(*message.ControlMessage); ok && ctrl.Command == message.ControlCommandReady {
			foundReady = true
		}
	}
	if !foundReady {
		t.Fatal("expected a 'ready' control message to have been sent")
	}
}

func TestRunGoTimeout(t *testing.T) {
	registerStub(t, "test.timeout")
	addr := testAddress()
	env, err := New("test.timeout", addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := newRecordingSource()
	env.goTimeout = 20 * time.Millisecond

	lim := limits.Default()
	reason := env.Run(src, &lim, true, addr)
	if reason != ExitGoTimeout {
		t.Fatalf("expected ExitGoTimeout, got %v", reason)
	}
}
