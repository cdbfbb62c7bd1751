package message

import (
	"bytes"
	"testing"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

type testContent struct {
	Text string
}

func (*testContent) ClassID() id.UUID          { return id.MustParse("11111111-1111-1111-1111-111111111111") }
func (*testContent) ClassVersion() uint32       { return 1 }
func (*testContent) DefaultRoutingName() string { return "test" }
func (c *testContent) SerializedLength() int    { return len(c.Text) + 4 }

func (c *testContent) Serialize(w *Writer) error {
	w.WriteString(c.Text)
	return w.Err()
}

func (c *testContent) Deserialize(r *Reader, _ uint32) error {
	c.Text = r.ReadString()
	return r.Err()
}

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register((&testContent{}).ClassID(), func(uint32) ObjectContent { return &testContent{} })
	return reg
}

func TestEnvelopeRoundTrip(t *testing.T) {
	from := address.New(id.New(), id.New(), id.New())
	env := New(&testContent{Text: "ping"}, from, "")
	env.To = []address.Address{address.New(id.New(), id.New(), id.New())}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	got, err := ReadEnvelope(&buf, newTestRegistry())
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}

	if got.ClassID != env.ClassID || got.ClassVersion != env.ClassVersion {
		t.Fatalf("class id/version mismatch: got %v/%v want %v/%v", got.ClassID, got.ClassVersion, env.ClassID, env.ClassVersion)
	}
	if got.Metadata.RoutingName != "test" {
		t.Fatalf("routing name not defaulted: got %q", got.Metadata.RoutingName)
	}
	if len(got.To) != 1 || got.To[0] != env.To[0] {
		t.Fatalf("to-list mismatch: got %v want %v", got.To, env.To)
	}
	if !got.Content.IsObject() {
		t.Fatal("expected object content")
	}
	tc, ok := got.Content.Object.(*testContent)
	if !ok || tc.Text != "ping" {
		t.Fatalf("content mismatch: got %+v", got.Content.Object)
	}
}

func TestEnvelopeOpaqueFallback(t *testing.T) {
	from := address.New(id.New(), id.New(), id.New())
	env := New(&testContent{Text: "ping"}, from, "")

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	got, err := ReadEnvelope(&buf, NewRegistry())
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if !got.Content.IsOpaque() {
		t.Fatal("expected opaque content when no factory registered")
	}
	if got.Content.Opaque.ClassID != env.ClassID {
		t.Fatalf("opaque class id mismatch: got %v want %v", got.Content.Opaque.ClassID, env.ClassID)
	}
}

func TestReadStringRejectsEmbeddedNUL(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteUint32(3)
	w.WriteBytes([]byte{'a', 0, 'b'})

	r := NewReader(&buf)
	r.ReadString()
	if r.Err() == nil {
		t.Fatal("expected MessageFormatError for embedded NUL")
	}
	if !IsFatal(r.Err()) {
		t.Fatalf("expected a fatal error kind, got %v", r.Err())
	}
}

func TestHeartbeatProtoRoundTrip(t *testing.T) {
	from := address.New(id.New(), id.New(), id.New())
	hb := &ExecutorHeartbeat{MemoryRssBytes: 1024, ThreadCount: 4, Hyperthreaded: true, Status: "ok"}
	env := New(hb, from, "")

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	got, err := ReadEnvelope(&buf, Default)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	gotHb, ok := got.Content.Object.(*ExecutorHeartbeat)
	if !ok {
		t.Fatalf("expected *ExecutorHeartbeat, got %T", got.Content.Object)
	}
	if gotHb.MemoryRssBytes != 1024 || gotHb.ThreadCount != 4 || !gotHb.Hyperthreaded || gotHb.Status != "ok" {
		t.Fatalf("heartbeat mismatch: %+v", gotHb)
	}
}
