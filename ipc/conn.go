package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dreamworksanimation/arras4-core/dispatcher"
	"github.com/dreamworksanimation/arras4-core/message"
	"github.com/dreamworksanimation/arras4-core/queue"
)

// maxFrameBytes bounds a single envelope frame, guarding against a
// corrupted or malicious length prefix driving an unbounded allocation.
const maxFrameBytes = 256 << 20

// Conn frames message.Envelope values over a net.Conn as
// length-prefixed(u32) blocks, implementing dispatcher.Source (and the
// structurally identical control.Source/chunking.Source). Grounded on the
// donor's PeerMessageEndpoint openFrame/closeFrame framing.
type Conn struct {
	conn     net.Conn
	br       *bufio.Reader
	registry *message.Registry

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConn wraps conn, decoding envelopes against registry (pass
// message.Default unless a computation keeps a private registry).
func NewConn(conn net.Conn, registry *message.Registry) *Conn {
	return &Conn{conn: conn, br: bufio.NewReader(conn), registry: registry}
}

// GetEnvelope reads the next length-prefixed frame and decodes it.
// Returns dispatcher.ErrDisconnected if the peer closed the connection,
// or queue.ErrShutdown (wrapped) once Shutdown has closed the socket out
// from under a blocked read.
func (c *Conn) GetEnvelope() (message.Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.br, lenBuf[:]); err != nil {
		return message.Envelope{}, c.classifyReadError(err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen > maxFrameBytes {
		return message.Envelope{}, fmt.Errorf("ipc: frame of %d bytes exceeds the %d byte limit", frameLen, maxFrameBytes)
	}
	frame := io.LimitReader(c.br, int64(frameLen))
	env, err := message.ReadEnvelope(frame, c.registry)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("ipc: decoding envelope: %w", err)
	}
	return env, nil
}

func (c *Conn) classifyReadError(err error) error {
	if c.closed.Load() {
		return fmt.Errorf("ipc: connection shut down: %w", queue.ErrShutdown)
	}
	if errors.Is(err, io.EOF) || isClosedConnError(err) {
		return dispatcher.ErrDisconnected
	}
	return fmt.Errorf("ipc: reading frame header: %w", err)
}

// PutEnvelope encodes env and writes it as one length-prefixed frame.
// Safe to call from multiple goroutines, though the dispatcher only ever
// has one writer.
func (c *Conn) PutEnvelope(env message.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var body bytes.Buffer
	if err := message.WriteEnvelope(&body, env); err != nil {
		return fmt.Errorf("ipc: encoding envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(body.Len()))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return c.classifyWriteError(err)
	}
	if _, err := c.conn.Write(body.Bytes()); err != nil {
		return c.classifyWriteError(err)
	}
	return nil
}

func (c *Conn) classifyWriteError(err error) error {
	if c.closed.Load() {
		return fmt.Errorf("ipc: connection shut down: %w", queue.ErrShutdown)
	}
	if isClosedConnError(err) {
		return dispatcher.ErrDisconnected
	}
	return fmt.Errorf("ipc: writing frame: %w", err)
}

// Shutdown closes the underlying connection, unblocking any in-flight or
// subsequent GetEnvelope/PutEnvelope call. Idempotent.
func (c *Conn) Shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
	})
}

// WriteRegistration writes reg as the handshake header, before any framed
// envelope traffic. Must be called at most once, before GetEnvelope/
// PutEnvelope.
func (c *Conn) WriteRegistration(reg RegistrationData) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return reg.Write(c.conn)
}

// ReadRegistration reads and validates the handshake header. Must be
// called at most once, before GetEnvelope/PutEnvelope.
func (c *Conn) ReadRegistration() (RegistrationData, error) {
	return ReadRegistration(c.br)
}

func isClosedConnError(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
