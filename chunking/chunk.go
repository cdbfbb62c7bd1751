// Package chunking implements the message chunking filter: transparent
// outbound fragmentation of oversized Object-variant payloads and inbound
// reassembly, grounded on arras4_core_impl's ChunkingMessageEndpoint and
// MessageUnchunker.
package chunking

import (
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/message"
)

// ClassID is MessageChunk's well-known class id.
var ClassID = id.MustParse("164a8601-dbf7-42e5-b469-3ad1c58dbe83")

// MaxChunks is the largest chunk count a single message may be split into;
// exceeding it on the outbound path is an InternalError.
const MaxChunks = 1<<16 - 1

// Chunk is a fragment of an oversized serialized Object-variant payload,
// wrapped as its own envelope content so it can travel through the same
// transport as any other message.
type Chunk struct {
	ProtocolVersion uint16
	ChunkingMethod  uint16
	NumberOfChunks  uint16
	ChunkIndex      uint16
	Offset          uint64
	UnchunkedSize   uint64

	InnerClassID      id.UUID
	InnerRoutingName  string
	InnerInstanceID   id.UUID
	InnerOriginID     id.UUID
	InnerClassVersion uint32

	Payload []byte
}

// ClassID implements message.ObjectContent.
func (*Chunk) ClassID() id.UUID { return ClassID }

// ClassVersion implements message.ObjectContent.
func (*Chunk) ClassVersion() uint32 { return 0 }

// DefaultRoutingName implements message.ObjectContent; chunks are never
// routed by name, only forwarded verbatim.
func (*Chunk) DefaultRoutingName() string { return "" }

// SerializedLength implements message.ObjectContent. Chunks are themselves
// never re-chunked so the estimate is only used for logging.
func (c *Chunk) SerializedLength() int {
	return 2*6 + 8 + 8 + 16 + len(c.InnerRoutingName) + 4 + 16 + 16 + 4 + 4 + len(c.Payload)
}

// Serialize implements message.ObjectContent, matching MessageChunk::serialize.
func (c *Chunk) Serialize(w *message.Writer) error {
	w.WriteUint16(c.ProtocolVersion)
	w.WriteUint16(c.ChunkingMethod)
	w.WriteUint16(c.NumberOfChunks)
	w.WriteUint16(c.ChunkIndex)
	w.WriteUint64(c.Offset)
	w.WriteUint64(c.UnchunkedSize)
	w.WriteUUID(c.InnerClassID)
	w.WriteString(c.InnerRoutingName)
	w.WriteUUID(c.InnerInstanceID)
	w.WriteUUID(c.InnerOriginID)
	w.WriteUint32(c.InnerClassVersion)
	w.WriteUint32(uint32(len(c.Payload)))
	w.WriteBytes(c.Payload)
	return w.Err()
}

// Deserialize implements message.ObjectContent, matching
// MessageChunk::deserialize. A protocol version other than 0 is a
// MessageFormatError.
func (c *Chunk) Deserialize(r *message.Reader, _ uint32) error {
	c.ProtocolVersion = r.ReadUint16()
	if r.Err() != nil {
		return r.Err()
	}
	if c.ProtocolVersion != 0 {
		return message.NewMessageFormatError("unknown chunking protocol version %d", c.ProtocolVersion)
	}
	c.ChunkingMethod = r.ReadUint16()
	c.NumberOfChunks = r.ReadUint16()
	c.ChunkIndex = r.ReadUint16()
	c.Offset = r.ReadUint64()
	c.UnchunkedSize = r.ReadUint64()
	c.InnerClassID = r.ReadUUID()
	c.InnerRoutingName = r.ReadString()
	c.InnerInstanceID = r.ReadUUID()
	c.InnerOriginID = r.ReadUUID()
	c.InnerClassVersion = r.ReadUint32()
	n := r.ReadUint32()
	if r.Err() != nil {
		return r.Err()
	}
	c.Payload = r.ReadBytes(int(n))
	return r.Err()
}

func init() {
	message.Default.Register(ClassID, func(uint32) message.ObjectContent {
		return &Chunk{}
	})
}
