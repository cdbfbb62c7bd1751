package message

import (
	"github.com/golang/protobuf/proto"

	"github.com/dreamworksanimation/arras4-core/id"
)

// ReadyClassID is the well-known class id for EngineReadyMessage, the
// payload carried inside the ControlMessage{command:"ready"} a worker sends
// its supervisor once, as it finishes loading its computation.
var ReadyClassID = id.MustParse("3f6f9f1a-9d3c-4b7e-8c6f-2a6f7c9d0e21")

// EngineReadyMessage supplements the control protocol with the
// version/pid fields the donor's ready handshake carries, letting a
// supervisor log exactly which binary answered.
type EngineReadyMessage struct {
	ApiVersionMajor int32 `protobuf:"varint,1,opt,name=api_version_major,json=apiVersionMajor" json:"api_version_major,omitempty"`
	ApiVersionMinor int32 `protobuf:"varint,2,opt,name=api_version_minor,json=apiVersionMinor" json:"api_version_minor,omitempty"`
	ApiVersionPatch int32 `protobuf:"varint,3,opt,name=api_version_patch,json=apiVersionPatch" json:"api_version_patch,omitempty"`
	Pid             int32 `protobuf:"varint,4,opt,name=pid" json:"pid,omitempty"`
}

// Reset implements proto.Message.
func (m *EngineReadyMessage) Reset() { *m = EngineReadyMessage{} }

// String implements proto.Message.
func (m *EngineReadyMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*EngineReadyMessage) ProtoMessage() {}

// ClassID implements ObjectContent.
func (*EngineReadyMessage) ClassID() id.UUID { return ReadyClassID }

// ClassVersion implements ObjectContent.
func (*EngineReadyMessage) ClassVersion() uint32 { return 1 }

// DefaultRoutingName implements ObjectContent.
func (*EngineReadyMessage) DefaultRoutingName() string { return "" }

// SerializedLength implements ObjectContent.
func (m *EngineReadyMessage) SerializedLength() int {
	b, err := proto.Marshal(m)
	if err != nil {
		return 0
	}
	return len(b)
}

// Serialize implements ObjectContent.
func (m *EngineReadyMessage) Serialize(w *Writer) error {
	b, err := proto.Marshal(m)
	if err != nil {
		return NewMessageFormatError("marshaling EngineReadyMessage: %v", err)
	}
	w.WriteBytes(b)
	return w.Err()
}

// Deserialize implements ObjectContent.
func (m *EngineReadyMessage) Deserialize(r *Reader, _ uint32) error {
	b := r.ReadRemaining()
	if r.Err() != nil {
		return r.Err()
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return NewMessageFormatError("unmarshaling EngineReadyMessage: %v", err)
	}
	return nil
}

func init() {
	Default.Register(ReadyClassID, func(uint32) ObjectContent {
		return &EngineReadyMessage{}
	})
}
