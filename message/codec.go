package message

import (
	"io"

	"github.com/dreamworksanimation/arras4-core/address"
)

// WriteEnvelope encodes env to w using the envelope wire format:
//
//	envelope := class_id(16B) | class_version(u32) | metadata_block |
//	            to_count(u32) | to_address × to_count | payload
//	metadata_block := instanceId | sourceId | creationTimeSec(u32) |
//	                   creationTimeMicro(u32) | from(address) |
//	                   routingName(len-prefixed)
//
// The payload itself is whatever the content's Serialize writes (for an
// Object variant) or the raw recorded bytes (for an Opaque variant); no
// length prefix wraps it; the IPC framing layer (package ipc) bounds the
// total envelope size.
func WriteEnvelope(w io.Writer, env Envelope) error {
	out := NewWriter(w)
	out.WriteUUID(env.ClassID)
	out.WriteUint32(env.ClassVersion)

	out.WriteUUID(env.Metadata.InstanceID)
	out.WriteUUID(env.Metadata.SourceID)
	out.WriteInt32(env.Metadata.CreationTime.Seconds)
	out.WriteInt32(env.Metadata.CreationTime.Microseconds)
	writeAddress(out, env.Metadata.From)
	out.WriteString(env.Metadata.RoutingName)

	out.WriteUint32(uint32(len(env.To)))
	for _, a := range env.To {
		writeAddress(out, a)
	}

	switch {
	case env.Content.IsObject():
		if err := env.Content.Object.Serialize(out); err != nil {
			return err
		}
	case env.Content.IsOpaque():
		out.WriteBytes(env.Content.Opaque.Bytes)
	}
	return out.Err()
}

func writeAddress(w *Writer, a address.Address) {
	w.WriteUUID(a.Session)
	w.WriteUUID(a.Node)
	w.WriteUUID(a.Computation)
}

func readAddress(r *Reader) address.Address {
	return address.New(r.ReadUUID(), r.ReadUUID(), r.ReadUUID())
}

// ReadEnvelope decodes one envelope from r, which must be bounded to
// exactly one frame (the IPC framing layer hands the codec a frame-sized
// io.Reader). The content is looked up in registry: if a factory is
// registered for the class id, the object is deserialized in place;
// otherwise the remaining bytes are captured as OpaqueContent so the
// envelope can still be forwarded or chunked without loss.
func ReadEnvelope(r io.Reader, registry *Registry) (Envelope, error) {
	in := NewReader(r)

	classID := in.ReadUUID()
	classVersion := in.ReadUint32()

	var env Envelope
	env.Metadata.InstanceID = in.ReadUUID()
	env.Metadata.SourceID = in.ReadUUID()
	env.Metadata.CreationTime.Seconds = in.ReadInt32()
	env.Metadata.CreationTime.Microseconds = in.ReadInt32()
	env.Metadata.From = readAddress(in)
	env.Metadata.RoutingName = in.ReadString()

	toCount := in.ReadUint32()
	if in.Err() != nil {
		return Envelope{}, in.Err()
	}
	env.To = make([]address.Address, 0, toCount)
	for i := uint32(0); i < toCount; i++ {
		env.To = append(env.To, readAddress(in))
	}
	if in.Err() != nil {
		return Envelope{}, in.Err()
	}

	env.ClassID = classID
	env.ClassVersion = classVersion

	if obj := registry.Create(classID, classVersion); obj != nil {
		if err := obj.Deserialize(in, classVersion); err != nil {
			return Envelope{}, err
		}
		if in.Err() != nil {
			return Envelope{}, in.Err()
		}
		env.Content = ObjectContentOf(obj)
		return env, nil
	}

	payload := in.ReadRemaining()
	if in.Err() != nil {
		return Envelope{}, in.Err()
	}
	env.Content = OpaqueContentOf(classID, classVersion, payload)
	return env, nil
}
