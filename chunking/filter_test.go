package chunking

import (
	"bytes"
	"testing"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/message"
)

type bigContent struct {
	Data []byte
}

func (*bigContent) ClassID() id.UUID          { return id.MustParse("22222222-2222-2222-2222-222222222222") }
func (*bigContent) ClassVersion() uint32       { return 1 }
func (*bigContent) DefaultRoutingName() string { return "big" }
func (c *bigContent) SerializedLength() int    { return len(c.Data) }

func (c *bigContent) Serialize(w *message.Writer) error {
	w.WriteBytes(c.Data)
	return w.Err()
}

func (c *bigContent) Deserialize(r *message.Reader, _ uint32) error {
	c.Data = r.ReadRemaining()
	return r.Err()
}

func TestSplitAndReassemble(t *testing.T) {
	reg := message.NewRegistry()
	reg.Register((&bigContent{}).ClassID(), func(uint32) message.ObjectContent { return &bigContent{} })

	data := bytes.Repeat([]byte{0xAB}, 3500)
	from := address.New(id.New(), id.New(), id.New())
	env := message.New(&bigContent{Data: data}, from, "")

	cfg := Config{Enabled: true, MinChunkTriggerSize: 1024, ChunkSize: 1024}
	chunks, err := Split(cfg, env)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ClassID != ClassID {
			t.Fatalf("chunk %d not a Chunk envelope", i)
		}
		ch := c.Content.Object.(*Chunk)
		if int(ch.ChunkIndex) != i || ch.NumberOfChunks != 4 {
			t.Fatalf("chunk %d has wrong index/count: %+v", i, ch)
		}
	}

	ra := NewReassembler(reg)
	var result message.Envelope
	var gotDone bool
	for i, c := range chunks {
		out, done, err := ra.Feed(c)
		if err != nil {
			t.Fatalf("Feed(%d): %v", i, err)
		}
		if i < len(chunks)-1 {
			if done {
				t.Fatalf("Feed(%d) should not complete yet", i)
			}
			continue
		}
		result, gotDone = out, done
	}
	if !gotDone {
		t.Fatal("reassembly never completed")
	}
	got, ok := result.Content.Object.(*bigContent)
	if !ok {
		t.Fatalf("reassembled content has wrong type: %T", result.Content.Object)
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestSplitPassThroughBelowTrigger(t *testing.T) {
	from := address.New(id.New(), id.New(), id.New())
	env := message.New(&bigContent{Data: []byte("small")}, from, "")
	cfg := Config{Enabled: true, MinChunkTriggerSize: 1024, ChunkSize: 1024}
	out, err := Split(cfg, env)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(out) != 1 || out[0].ClassID == ClassID {
		t.Fatal("small message should pass through unchunked")
	}
}

func TestReassembleChunkCountMismatch(t *testing.T) {
	ra := NewReassembler(message.NewRegistry())
	instance := id.New()
	c1 := &Chunk{NumberOfChunks: 4, ChunkIndex: 0, InnerInstanceID: instance, UnchunkedSize: 10, Payload: []byte("abcd")}
	c2 := &Chunk{NumberOfChunks: 5, ChunkIndex: 1, InnerInstanceID: instance, UnchunkedSize: 10, Payload: []byte("efgh")}

	env1 := message.Envelope{ClassID: ClassID, Content: message.ObjectContentOf(c1)}
	env2 := message.Envelope{ClassID: ClassID, Content: message.ObjectContentOf(c2)}

	if _, _, err := ra.Feed(env1); err != nil {
		t.Fatalf("first chunk should be accepted: %v", err)
	}
	if _, _, err := ra.Feed(env2); err == nil {
		t.Fatal("expected InternalError on chunk count mismatch")
	}
}
