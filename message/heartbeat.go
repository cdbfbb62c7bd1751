package message

import (
	"github.com/golang/protobuf/proto"

	"github.com/dreamworksanimation/arras4-core/id"
)

// HeartbeatClassID is the well-known class id for ExecutorHeartbeat,
// registered at init so a worker process always knows how to decode its own
// instrumentation class even before any plug-in is loaded.
var HeartbeatClassID = id.MustParse("9c7f9a7e-9a64-4e43-8f63-9f9a6b5d8a11")

// ExecutorHeartbeat carries the periodic instrumentation fields the
// performance monitor emits every 5 seconds. It is
// protobuf-backed rather than hand-serialized: the content registry treats
// it as just another ObjectContent whose Serialize/Deserialize delegate to
// proto.Marshal/proto.Unmarshal.
type ExecutorHeartbeat struct {
	MemoryRssBytes            int64   `protobuf:"varint,1,opt,name=memory_rss_bytes,json=memoryRssBytes" json:"memory_rss_bytes,omitempty"`
	ThreadCount               int32   `protobuf:"varint,2,opt,name=thread_count,json=threadCount" json:"thread_count,omitempty"`
	CpuSecondsTotal           float64 `protobuf:"fixed64,3,opt,name=cpu_seconds_total,json=cpuSecondsTotal" json:"cpu_seconds_total,omitempty"`
	CpuSecondsInterval        float64 `protobuf:"fixed64,4,opt,name=cpu_seconds_interval,json=cpuSecondsInterval" json:"cpu_seconds_interval,omitempty"`
	CpuSecondsWindow60S       float64 `protobuf:"fixed64,5,opt,name=cpu_seconds_window_60s,json=cpuSecondsWindow60S" json:"cpu_seconds_window_60s,omitempty"`
	MessagesSentTotal         int64   `protobuf:"varint,6,opt,name=messages_sent_total,json=messagesSentTotal" json:"messages_sent_total,omitempty"`
	MessagesSentInterval      int64   `protobuf:"varint,7,opt,name=messages_sent_interval,json=messagesSentInterval" json:"messages_sent_interval,omitempty"`
	MessagesSentWindow60S     int64   `protobuf:"varint,8,opt,name=messages_sent_window_60s,json=messagesSentWindow60S" json:"messages_sent_window_60s,omitempty"`
	MessagesReceivedTotal     int64   `protobuf:"varint,9,opt,name=messages_received_total,json=messagesReceivedTotal" json:"messages_received_total,omitempty"`
	MessagesReceivedInterval  int64   `protobuf:"varint,10,opt,name=messages_received_interval,json=messagesReceivedInterval" json:"messages_received_interval,omitempty"`
	MessagesReceivedWindow60S int64   `protobuf:"varint,11,opt,name=messages_received_window_60s,json=messagesReceivedWindow60S" json:"messages_received_window_60s,omitempty"`
	Hyperthreaded             bool    `protobuf:"varint,12,opt,name=hyperthreaded" json:"hyperthreaded,omitempty"`
	WallClockSeconds          int32   `protobuf:"varint,13,opt,name=wall_clock_seconds,json=wallClockSeconds" json:"wall_clock_seconds,omitempty"`
	WallClockMicroseconds     int32   `protobuf:"varint,14,opt,name=wall_clock_microseconds,json=wallClockMicroseconds" json:"wall_clock_microseconds,omitempty"`
	Status                    string  `protobuf:"bytes,15,opt,name=status" json:"status,omitempty"`
	SessionId                 []byte  `protobuf:"bytes,16,opt,name=session_id,json=sessionId" json:"session_id,omitempty"`
	CompId                    []byte  `protobuf:"bytes,17,opt,name=comp_id,json=compId" json:"comp_id,omitempty"`
}

// Reset implements proto.Message.
func (m *ExecutorHeartbeat) Reset() { *m = ExecutorHeartbeat{} }

// String implements proto.Message.
func (m *ExecutorHeartbeat) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*ExecutorHeartbeat) ProtoMessage() {}

// ClassID implements ObjectContent.
func (*ExecutorHeartbeat) ClassID() id.UUID { return HeartbeatClassID }

// ClassVersion implements ObjectContent.
func (*ExecutorHeartbeat) ClassVersion() uint32 { return 1 }

// DefaultRoutingName implements ObjectContent; heartbeats are addressed
// explicitly to the supervisor node rather than via a routing name.
func (*ExecutorHeartbeat) DefaultRoutingName() string { return "" }

// SerializedLength implements ObjectContent. Heartbeats are small and fixed
// and never chunked; this is an estimate only.
func (m *ExecutorHeartbeat) SerializedLength() int {
	b, err := proto.Marshal(m)
	if err != nil {
		return 0
	}
	return len(b)
}

// Serialize implements ObjectContent by delegating to proto.Marshal. The
// protobuf bytes occupy the remainder of the envelope frame.
func (m *ExecutorHeartbeat) Serialize(w *Writer) error {
	b, err := proto.Marshal(m)
	if err != nil {
		return NewMessageFormatError("marshaling ExecutorHeartbeat: %v", err)
	}
	w.WriteBytes(b)
	return w.Err()
}

// Deserialize implements ObjectContent by delegating to proto.Unmarshal
// over whatever bytes remain in the frame.
func (m *ExecutorHeartbeat) Deserialize(r *Reader, _ uint32) error {
	b := r.ReadRemaining()
	if r.Err() != nil {
		return r.Err()
	}
	if err := proto.Unmarshal(b, m); err != nil {
		return NewMessageFormatError("unmarshaling ExecutorHeartbeat: %v", err)
	}
	return nil
}

func init() {
	Default.Register(HeartbeatClassID, func(uint32) ObjectContent {
		return &ExecutorHeartbeat{}
	})
}
