package ipc

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/queue"
)

type testPayload struct {
	Text string
}

var testPayloadClassID = id.MustParse("8d3c9b5e-39cd-4b26-9f53-6f5bfe8c6a10")

func (p *testPayload) ClassID() id.UUID           { return testPayloadClassID }
func (p *testPayload) ClassVersion() uint32       { return 1 }
func (p *testPayload) DefaultRoutingName() string { return "test" }
func (p *testPayload) SerializedLength() int      { return len(p.Text) }
func (p *testPayload) Serialize(w *message.Writer) error {
	w.WriteLongString(p.Text)
	return w.Err()
}
func (p *testPayload) Deserialize(r *message.Reader, _ uint32) error {
	p.Text = r.ReadLongString()
	return r.Err()
}

func init() {
	message.Default.Register(testPayloadClassID, func(uint32) message.ObjectContent {
		return &testPayload{}
	})
}

func TestConnRoundTripsEnvelopeAndRegistration(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server, message.Default)
	clientConn := NewConn(client, message.Default)

	addr := address.New(id.New(), id.New(), id.New())
	reg := NewRegistration(RegistrationExecutor, addr)

	regErr := make(chan error, 1)
	go func() { regErr <- clientConn.WriteRegistration(reg) }()

	got, err := serverConn.ReadRegistration()
	if err != nil {
		t.Fatalf("ReadRegistration: %v", err)
	}
	if err := <-regErr; err != nil {
		t.Fatalf("WriteRegistration: %v", err)
	}
	if got.Address() != addr {
		t.Fatalf("expected address %v, got %v", addr, got.Address())
	}

	env := message.New(&testPayload{Text: "hello ipc"}, addr, "")
	sendErr := make(chan error, 1)
	go func() { sendErr <- clientConn.PutEnvelope(env) }()

	recv, err := serverConn.GetEnvelope()
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("PutEnvelope: %v", err)
	}
	payload, ok := recv.Content.Object.(*testPayload)
	if !ok {
		t.Fatalf("expected *testPayload content, got %T", recv.Content.Object)
	}
	if payload.Text != "hello ipc" {
		t.Fatalf("expected %q, got %q", "hello ipc", payload.Text)
	}
}

func TestConnGetEnvelopeReturnsShutdownAfterShutdown(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	serverConn := NewConn(server, message.Default)

	done := make(chan error, 1)
	go func() {
		_, err := serverConn.GetEnvelope()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	serverConn.Shutdown()

	select {
	case err := <-done:
		if !errors.Is(err, queue.ErrShutdown) {
			t.Fatalf("expected queue.ErrShutdown after Shutdown closed the connection, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("GetEnvelope did not return after Shutdown")
	}
}
