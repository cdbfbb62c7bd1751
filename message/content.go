package message

import "github.com/dreamworksanimation/arras4-core/id"

// Content is the payload carried by an Envelope. It is a tagged variant,
// never both forms at once: either an ObjectContent the receiver has
// deserialized into a concrete Go type, or an OpaqueContent still sitting
// as raw bytes because no factory was registered for its class id (or
// because a pure forwarder never needed to deserialize it at all).
//
// This replaces the donor's virtual-dispatch MessageContent hierarchy with
// a sum type: exactly one of Object/Opaque is non-nil.
type Content struct {
	Object ObjectContent
	Opaque *OpaqueContent
}

// IsObject reports whether the content carries a deserialized object.
func (c Content) IsObject() bool { return c.Object != nil }

// IsOpaque reports whether the content is still raw, undeserialized bytes.
func (c Content) IsOpaque() bool { return c.Opaque != nil }

// ObjectContent is implemented by every concrete message payload type that
// a computation plug-in or the runtime itself registers with the content
// registry. It mirrors arras4_message_api's ObjectContent contract.
type ObjectContent interface {
	// ClassID identifies the concrete wire type.
	ClassID() id.UUID
	// ClassVersion identifies the wire layout version of this value.
	ClassVersion() uint32
	// DefaultRoutingName is used to stamp an envelope's routing name when
	// the sender does not supply one explicitly.
	DefaultRoutingName() string
	// Serialize writes the object's body (not the envelope framing) to w.
	Serialize(w *Writer) error
	// Deserialize reads the object's body back, given the wire version it
	// was serialized with.
	Deserialize(r *Reader, version uint32) error
	// SerializedLength estimates the body's encoded size, used by the
	// chunking filter's trigger comparison. A value of 0 means "unknown";
	// the chunking filter then falls back to actually serializing once.
	SerializedLength() int
}

// OpaqueContent is an already-serialized byte buffer plus the class id and
// version it was recorded under, used when forwarding a message without
// ever deserializing it (e.g. a class the local registry has no factory
// for, or a pure relay).
type OpaqueContent struct {
	ClassID      id.UUID
	ClassVersion uint32
	Bytes        []byte
}

// ObjectContentOf is a convenience constructor for Content wrapping a
// concrete ObjectContent value.
func ObjectContentOf(o ObjectContent) Content {
	return Content{Object: o}
}

// OpaqueContentOf is a convenience constructor for Content wrapping raw
// bytes recorded under a class id/version.
func OpaqueContentOf(classID id.UUID, classVersion uint32, b []byte) Content {
	return Content{Opaque: &OpaqueContent{ClassID: classID, ClassVersion: classVersion, Bytes: b}}
}
