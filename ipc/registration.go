// Package ipc implements the Unix-domain IPC wire format a worker process
// and its supervisor speak over a stream socket: a fixed RegistrationData
// handshake header followed by a stream of length-framed envelopes,
// grounded on shared_impl/RegistrationData.h and the donor's
// IPCSocketPeer/PeerMessageEndpoint framing.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

// magic identifies a genuine RegistrationData header, written first thing
// over a freshly accepted connection.
const magic uint64 = 0x0104020309060201

// RegistrationType identifies which kind of process is registering:
// the client, a node manager, an executor (computation), or a control
// connection.
type RegistrationType uint32

const (
	RegistrationClient   RegistrationType = 0
	RegistrationNode     RegistrationType = 1
	RegistrationExecutor RegistrationType = 2
	RegistrationControl  RegistrationType = 3
)

// apiVersionMajor is the messaging-API major version this build speaks;
// a mismatched major version on either side of the handshake is fatal.
const apiVersionMajor = 4

// registrationDataSize is the encoded size, in bytes, of RegistrationData:
// magic(8) + 3x api version component(2 each) + reserved(2) + 3x UUID(16
// each) + type(4).
const registrationDataSize = 8 + 2 + 2 + 2 + 2 + 16 + 16 + 16 + 4

// RegistrationData is the first thing written over a newly accepted IPC
// connection, identifying the writer's messaging-API version and address.
type RegistrationData struct {
	APIVersionMajor uint16
	APIVersionMinor uint16
	APIVersionPatch uint16
	Type            RegistrationType
	Session         id.UUID
	Node            id.UUID
	Computation     id.UUID
}

// NewRegistration builds a RegistrationData stamped with this build's
// messaging-API version.
func NewRegistration(typ RegistrationType, addr address.Address) RegistrationData {
	return RegistrationData{
		APIVersionMajor: apiVersionMajor,
		APIVersionMinor: 0,
		APIVersionPatch: 0,
		Type:            typ,
		Session:         addr.Session,
		Node:            addr.Node,
		Computation:     addr.Computation,
	}
}

// Address reassembles the (session, node, computation) triple carried in r.
func (r RegistrationData) Address() address.Address {
	return address.New(r.Session, r.Node, r.Computation)
}

// Write encodes r to w in the fixed 68-byte wire layout.
func (r RegistrationData) Write(w io.Writer) error {
	var buf [registrationDataSize]byte
	binary.BigEndian.PutUint64(buf[0:8], magic)
	binary.BigEndian.PutUint16(buf[8:10], r.APIVersionMajor)
	binary.BigEndian.PutUint16(buf[10:12], r.APIVersionMinor)
	binary.BigEndian.PutUint16(buf[12:14], r.APIVersionPatch)
	// buf[14:16] is the reserved alignment field, left zero.
	copy(buf[16:32], r.Session[:])
	copy(buf[32:48], r.Node[:])
	copy(buf[48:64], r.Computation[:])
	binary.BigEndian.PutUint32(buf[64:68], uint32(r.Type))
	_, err := w.Write(buf[:])
	return err
}

// ReadRegistration reads and validates a RegistrationData header from r,
// rejecting a bad magic number or an incompatible major version.
func ReadRegistration(r io.Reader) (RegistrationData, error) {
	var buf [registrationDataSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RegistrationData{}, fmt.Errorf("ipc: reading registration header: %w", err)
	}
	if got := binary.BigEndian.Uint64(buf[0:8]); got != magic {
		return RegistrationData{}, fmt.Errorf("ipc: bad registration magic %#x", got)
	}
	var reg RegistrationData
	reg.APIVersionMajor = binary.BigEndian.Uint16(buf[8:10])
	reg.APIVersionMinor = binary.BigEndian.Uint16(buf[10:12])
	reg.APIVersionPatch = binary.BigEndian.Uint16(buf[12:14])
	copy(reg.Session[:], buf[16:32])
	copy(reg.Node[:], buf[32:48])
	copy(reg.Computation[:], buf[48:64])
	reg.Type = RegistrationType(binary.BigEndian.Uint32(buf[64:68]))
	if reg.APIVersionMajor != apiVersionMajor {
		return RegistrationData{}, fmt.Errorf("ipc: incompatible messaging API version %d (want %d)", reg.APIVersionMajor, apiVersionMajor)
	}
	return reg, nil
}
