package chunking

import "github.com/dreamworksanimation/arras4-core/message"

// Source is the subset of dispatcher.Source an Endpoint wraps. Declared
// separately so this package does not need to import dispatcher.
type Source interface {
	GetEnvelope() (message.Envelope, error)
	PutEnvelope(env message.Envelope) error
	Shutdown()
}

// Endpoint wraps a Source with chunking support: outbound Object-variant
// envelopes over the configured trigger size are split into a run of
// Chunk envelopes on PutEnvelope, and inbound Chunk envelopes are
// reassembled on GetEnvelope, mirroring ChunkingMessageEndpoint. From the
// caller's point of view chunking is invisible — PutEnvelope is called
// once per logical message and GetEnvelope returns one logical message at
// a time, never a partial chunk.
type Endpoint struct {
	source Source
	config Config
	reasm  *Reassembler
}

// NewEndpoint wraps source with the given chunking config, resolving
// chunked content through registry (normally message.Default).
func NewEndpoint(source Source, cfg Config, registry *message.Registry) *Endpoint {
	return &Endpoint{source: source, config: cfg, reasm: NewReassembler(registry)}
}

// GetEnvelope reads and reassembles chunks until a complete logical
// envelope is available, or the source errors out.
func (e *Endpoint) GetEnvelope() (message.Envelope, error) {
	for {
		env, err := e.source.GetEnvelope()
		if err != nil {
			return message.Envelope{}, err
		}
		out, done, err := e.reasm.Feed(env)
		if err != nil {
			return message.Envelope{}, err
		}
		if done {
			return out, nil
		}
	}
}

// PutEnvelope splits env into chunks (if it is large enough and chunking
// is enabled) and writes each piece to the wrapped source in order.
func (e *Endpoint) PutEnvelope(env message.Envelope) error {
	parts, err := Split(e.config, env)
	if err != nil {
		return err
	}
	for _, part := range parts {
		if err := e.source.PutEnvelope(part); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown forwards to the wrapped source.
func (e *Endpoint) Shutdown() {
	e.source.Shutdown()
}
