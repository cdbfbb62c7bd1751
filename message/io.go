package message

import (
	"encoding/binary"
	"io"

	"github.com/dreamworksanimation/arras4-core/id"
)

// Writer sequences the little-endian primitive encodings the wire format
// uses. It has no notion of frame length: the total
// byte count of one envelope is the caller's (the IPC framing layer's)
// responsibility.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered by any Write* call.
func (w *Writer) Err() error { return w.err }

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.write(b[:])
}

// WriteUint64 writes a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.write(b[:])
}

// WriteUint16 writes a little-endian uint16.
func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.write(b[:])
}

// WriteInt32 writes a little-endian int32 (used for ArrasTime fields).
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

// WriteBytes writes raw bytes with no length prefix.
func (w *Writer) WriteBytes(b []byte) { w.write(b) }

// WriteUUID writes the UUID's 16 raw bytes.
func (w *Writer) WriteUUID(u id.UUID) {
	if w.err != nil {
		return
	}
	b, err := u.MarshalBinary()
	if err != nil {
		w.err = err
		return
	}
	w.write(b)
}

// WriteString writes a u32-length-prefixed string, no trailing NUL.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.write([]byte(s))
}

// WriteLongString writes a u64-length-prefixed string, used by chunk
// payloads.
func (w *Writer) WriteLongString(s string) {
	w.WriteUint64(uint64(len(s)))
	w.write([]byte(s))
}

// Reader sequences the matching little-endian primitive decodings. Every
// method records the first error it sees in Err() and becomes a no-op
// afterward, so a Read* call chain can be written without checking each
// return individually.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Err returns the first error encountered by any Read* call.
func (r *Reader) Err() error { return r.err }

func (r *Reader) read(b []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = NewMessageFormatError("short read: %v", err)
	}
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	var b [4]byte
	r.read(b[:])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() uint64 {
	var b [8]byte
	r.read(b[:])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	var b [2]byte
	r.read(b[:])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	b := make([]byte, n)
	r.read(b)
	if r.err != nil {
		return nil
	}
	return b
}

// ReadUUID reads 16 raw bytes and parses them as a UUID.
func (r *Reader) ReadUUID() id.UUID {
	b := r.ReadBytes(16)
	if r.err != nil {
		return id.Nil
	}
	u, err := id.FromBytes(b)
	if err != nil {
		r.err = NewMessageFormatError("bad uuid bytes: %v", err)
		return id.Nil
	}
	return u
}

// maxReasonableStringLen bounds a string's declared length against
// accidental or malicious corruption of its length prefix; it is far above
// any routing name or command string this protocol actually carries.
const maxReasonableStringLen = 64 << 20

// ReadString reads a u32-length-prefixed string and rejects an embedded NUL
// byte, per the codec's MessageFormatError contract.
func (r *Reader) ReadString() string {
	n := r.ReadUint32()
	if r.err != nil {
		return ""
	}
	if n > maxReasonableStringLen {
		r.err = NewMessageFormatError("string length %d exceeds frame", n)
		return ""
	}
	b := r.ReadBytes(int(n))
	if r.err != nil {
		return ""
	}
	for _, c := range b {
		if c == 0 {
			r.err = NewMessageFormatError("string contains embedded NUL")
			return ""
		}
	}
	return string(b)
}

// ReadLongString reads a u64-length-prefixed string, used by chunk
// payloads.
func (r *Reader) ReadLongString() string {
	n := r.ReadUint64()
	if r.err != nil {
		return ""
	}
	if n > maxReasonableStringLen {
		r.err = NewMessageFormatError("long string length %d exceeds frame", n)
		return ""
	}
	b := r.ReadBytes(int(n))
	if r.err != nil {
		return ""
	}
	for _, c := range b {
		if c == 0 {
			r.err = NewMessageFormatError("long string contains embedded NUL")
			return ""
		}
	}
	return string(b)
}

// ReadRemaining drains whatever is left of the underlying reader, used to
// capture a payload as opaque bytes when no content factory is registered
// for its class id.
func (r *Reader) ReadRemaining() []byte {
	if r.err != nil {
		return nil
	}
	b, err := io.ReadAll(r.r)
	if err != nil {
		r.err = NewMessageFormatError("reading remaining payload: %v", err)
		return nil
	}
	return b
}
