package message

import "github.com/dreamworksanimation/arras4-core/id"

// ControlClassID is the well-known class id intercepted by the
// control-message filter before the dispatcher's handler queue ever sees it.
var ControlClassID = id.MustParse("0f5db360-a67d-4485-b6a4-e1652a399925")

// Control commands recognized by the control-message filter. Any other
// command string is dropped with a logged warning.
const (
	ControlCommandReady  = "ready"
	ControlCommandGo     = "go"
	ControlCommandStop   = "stop"
	ControlCommandAbort  = "abort"
	ControlCommandUpdate = "update"
)

// ControlMessage is the worker<->supervisor lifecycle command envelope.
type ControlMessage struct {
	Command string
	Data    string
	Extra   string
}

// ClassID implements ObjectContent.
func (*ControlMessage) ClassID() id.UUID { return ControlClassID }

// ClassVersion implements ObjectContent.
func (*ControlMessage) ClassVersion() uint32 { return 0 }

// DefaultRoutingName implements ObjectContent.
func (*ControlMessage) DefaultRoutingName() string { return "" }

// SerializedLength implements ObjectContent; control messages are never
// chunked so an estimate is not meaningful, but the interface requires it.
func (c *ControlMessage) SerializedLength() int {
	return len(c.Command) + len(c.Data) + len(c.Extra) + 3*4
}

// Serialize implements ObjectContent.
func (c *ControlMessage) Serialize(w *Writer) error {
	w.WriteString(c.Command)
	w.WriteString(c.Data)
	w.WriteString(c.Extra)
	return w.Err()
}

// Deserialize implements ObjectContent. version 0 is the only version
// defined; a mismatch is not itself fatal (the protocol has no version
// negotiation for control messages) so it is accepted and ignored.
func (c *ControlMessage) Deserialize(r *Reader, _ uint32) error {
	c.Command = r.ReadString()
	c.Data = r.ReadString()
	c.Extra = r.ReadString()
	return r.Err()
}

func init() {
	Default.Register(ControlClassID, func(uint32) ObjectContent {
		return &ControlMessage{}
	})
}
