package chunking

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/message"
)

// Config controls the chunking filter.
type Config struct {
	Enabled             bool
	MinChunkTriggerSize int
	ChunkSize           int
}

// DefaultConfig chunks any Object-variant payload of 1MB or more into
// 1MB pieces.
var DefaultConfig = Config{Enabled: true, MinChunkTriggerSize: 1024 * 1024, ChunkSize: 1024 * 1024}

// Split implements the outbound path: if cfg.Enabled and env's content is an
// Object variant whose SerializedLength() is >= cfg.MinChunkTriggerSize, it
// returns the sequence of Chunk envelopes to send in its place. Otherwise it
// returns env unchanged, as a single-element slice meaning "pass through".
func Split(cfg Config, env message.Envelope) ([]message.Envelope, error) {
	if !cfg.Enabled || !env.Content.IsObject() {
		return []message.Envelope{env}, nil
	}
	obj := env.Content.Object
	unchunkedSize := obj.SerializedLength()
	if unchunkedSize < cfg.MinChunkTriggerSize {
		return []message.Envelope{env}, nil
	}

	var body bytes.Buffer
	w := message.NewWriter(&body)
	if err := obj.Serialize(w); err != nil {
		return nil, err
	}
	if w.Err() != nil {
		return nil, w.Err()
	}

	data := body.Bytes()
	numChunks64 := (len(data) + cfg.ChunkSize - 1) / cfg.ChunkSize
	if numChunks64 == 0 {
		numChunks64 = 1
	}
	if numChunks64 > MaxChunks {
		return nil, message.NewInternalError("message is too large for chunking: %d chunks exceeds %d", numChunks64, MaxChunks)
	}
	numChunks := uint16(numChunks64)

	logging.Infow("splitting message into chunks",
		"instanceId", env.Metadata.InstanceID,
		"length", unchunkedSize,
		"numChunks", numChunks,
		"chunkSize", cfg.ChunkSize)

	out := make([]message.Envelope, 0, numChunks)
	for idx := uint16(0); idx < numChunks; idx++ {
		start := int(idx) * cfg.ChunkSize
		end := start + cfg.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		payload := make([]byte, end-start)
		copy(payload, data[start:end])

		chunk := &Chunk{
			NumberOfChunks:    numChunks,
			ChunkIndex:        idx,
			Offset:            uint64(start),
			UnchunkedSize:     uint64(len(data)),
			InnerClassID:      env.ClassID,
			InnerRoutingName:  env.Metadata.RoutingName,
			InnerInstanceID:   env.Metadata.InstanceID,
			InnerOriginID:     env.Metadata.SourceID,
			InnerClassVersion: env.ClassVersion,
			Payload:           payload,
		}

		chunkEnv := message.Envelope{
			ClassID:      ClassID,
			ClassVersion: 0,
			Metadata:     env.Metadata,
			To:           env.To,
			Content:      message.ObjectContentOf(chunk),
		}
		out = append(out, chunkEnv)
	}
	return out, nil
}

// reassembly tracks the in-progress chunks for one instance id, mirroring
// MessageUnchunker.
type reassembly struct {
	numChunks uint16
	instance  id.UUID
	count     int
	chunks    []*Chunk
}

func newReassembly(c *Chunk) (*reassembly, error) {
	if c.NumberOfChunks < 1 {
		return nil, message.NewInternalError("message chunk contained invalid chunk count of zero")
	}
	r := &reassembly{
		numChunks: c.NumberOfChunks,
		instance:  c.InnerInstanceID,
		chunks:    make([]*Chunk, c.NumberOfChunks),
	}
	if err := r.add(c); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *reassembly) add(c *Chunk) error {
	if c.NumberOfChunks != r.numChunks || c.InnerInstanceID != r.instance {
		return message.NewInternalError("message chunk contained incorrect data")
	}
	if int(c.ChunkIndex) >= len(r.chunks) {
		return message.NewInternalError("chunk index %d out of range for %d chunks", c.ChunkIndex, r.numChunks)
	}
	if r.chunks[c.ChunkIndex] != nil {
		return message.NewInternalError("message chunk duplicates one already received")
	}
	r.chunks[c.ChunkIndex] = c
	r.count++
	return nil
}

func (r *reassembly) complete() bool {
	return r.count >= int(r.numChunks)
}

// finish concatenates the chunk payloads, validates the total length, and
// deserializes the reconstructed content via registry, matching
// MessageUnchunker::getUnchunked.
func (r *reassembly) finish(registry *message.Registry, metadata message.Metadata) (message.Envelope, error) {
	var sumLen uint64
	for i, c := range r.chunks {
		if c == nil {
			return message.Envelope{}, message.NewInternalError("chunk #%d was missing from chunked message", i)
		}
		sumLen += uint64(len(c.Payload))
	}
	first := r.chunks[0]
	if sumLen != first.UnchunkedSize {
		return message.Envelope{}, message.NewInternalError(
			"chunked message size mismatch: expected %d bytes, got %d across %d chunks",
			first.UnchunkedSize, sumLen, r.numChunks)
	}

	var body bytes.Buffer
	for _, c := range r.chunks {
		body.Write(c.Payload)
	}

	obj := registry.Create(first.InnerClassID, first.InnerClassVersion)
	if obj == nil {
		return message.Envelope{}, message.NewInternalError(
			"couldn't recreate chunked message: class %s could not be instantiated", first.InnerClassID)
	}
	rd := message.NewReader(&body)
	if err := obj.Deserialize(rd, first.InnerClassVersion); err != nil {
		return message.Envelope{}, err
	}
	if rd.Err() != nil {
		return message.Envelope{}, rd.Err()
	}

	return message.Envelope{
		ClassID:      first.InnerClassID,
		ClassVersion: first.InnerClassVersion,
		Metadata:     metadata,
		Content:      message.ObjectContentOf(obj),
	}, nil
}

// Reassembler tracks in-flight reassembly buffers keyed by instance id,
// for a single connection's inbound stream. Feed holds an internal mutex,
// so calls from more than one goroutine are serialized; the dispatcher
// only ever has one reader.
type Reassembler struct {
	mu       sync.Mutex
	buffers  map[id.UUID]*reassembly
	registry *message.Registry
}

// NewReassembler builds a reassembler that resolves inner classes through
// registry (normally message.Default).
func NewReassembler(registry *message.Registry) *Reassembler {
	if registry == nil {
		registry = message.Default
	}
	return &Reassembler{buffers: make(map[id.UUID]*reassembly), registry: registry}
}

// Feed processes one inbound envelope. If it is not a Chunk, env is
// returned unchanged as "pass through" with done=true. If it is a Chunk
// that completes a message, the reassembled envelope is returned with
// done=true and the buffer is discarded. Otherwise done=false and the
// caller should keep reading.
func (ra *Reassembler) Feed(env message.Envelope) (out message.Envelope, done bool, err error) {
	if env.ClassID != ClassID {
		return env, true, nil
	}
	chunk, ok := env.Content.Object.(*Chunk)
	if !ok {
		return message.Envelope{}, false, message.NewInternalError("chunk envelope content is not a *Chunk: %T", env.Content.Object)
	}

	ra.mu.Lock()
	defer ra.mu.Unlock()

	r, exists := ra.buffers[chunk.InnerInstanceID]
	if !exists {
		nr, err := newReassembly(chunk)
		if err != nil {
			return message.Envelope{}, false, err
		}
		ra.buffers[chunk.InnerInstanceID] = nr
		r = nr
	} else if err := r.add(chunk); err != nil {
		return message.Envelope{}, false, err
	}

	if !r.complete() {
		return message.Envelope{}, false, nil
	}

	result, err := r.finish(ra.registry, env.Metadata)
	delete(ra.buffers, chunk.InnerInstanceID)
	if err != nil {
		return message.Envelope{}, false, err
	}
	result.Metadata.RoutingName = result.Content.Object.DefaultRoutingName()
	if chunk.InnerRoutingName != "" {
		result.Metadata.RoutingName = chunk.InnerRoutingName
	}
	result.To = env.To
	return result, true, nil
}

// String satisfies fmt.Stringer to keep logging call sites simple; not part
// of the filter's functional contract.
func (ra *Reassembler) String() string {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return fmt.Sprintf("chunking.Reassembler{inFlight=%d}", len(ra.buffers))
}
