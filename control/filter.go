// Package control implements the filter that intercepts ControlMessage
// envelopes (go, stop, abort, update, ready) before they ever reach a
// dispatcher's handler queue, grounded on arras4_core_impl's
// ControlMessageEndpoint: a message source wrapper that handles control
// traffic immediately on receipt instead of queueing it for later
// delivery. This matters most for "go", since regular dispatch doesn't
// start running until it arrives.
package control

import (
	"github.com/dreamworksanimation/arras4-core/message"
)

// Controlled receives decoded control commands as they arrive. Command is
// one of the message.ControlCommand* constants (or an unrecognized
// string, which ControlMessage implementations should ignore rather than
// error on — the protocol has no closed command set). Data carries the
// command's payload: for "update" this is an object document whose
// "routing" key holds the new routing data.
type Controlled interface {
	ControlMessage(command, data string)
}

// Filter wraps a dispatcher.Source, splitting off ControlMessage
// envelopes and handing them to a Controlled instead of returning them to
// the caller. GetEnvelope loops internally until it has a non-control
// envelope to return, so from the dispatcher's point of view a run of
// control messages is invisible — it only ever sees the next regular
// message (or the next transport error).
type Filter struct {
	source     Source
	controlled Controlled
}

// Source is the subset of dispatcher.Source a Filter wraps. It is
// declared separately so this package does not need to import dispatcher.
type Source interface {
	GetEnvelope() (message.Envelope, error)
	PutEnvelope(env message.Envelope) error
	Shutdown()
}

// NewFilter returns a Filter reading from source and reporting control
// commands to controlled.
func NewFilter(source Source, controlled Controlled) *Filter {
	return &Filter{source: source, controlled: controlled}
}

// GetEnvelope reads envelopes from the wrapped source, handling and
// discarding any ControlMessage envelopes, until it has a regular message
// to return (or the source itself errors out).
func (f *Filter) GetEnvelope() (message.Envelope, error) {
	for {
		env, err := f.source.GetEnvelope()
		if err != nil {
			return message.Envelope{}, err
		}
		if !f.process(env) {
			return env, nil
		}
	}
}

// process reports env to the Controlled if it is a ControlMessage, and
// reports whether it consumed the envelope (true) or left it for the
// caller to handle as a regular message (false).
func (f *Filter) process(env message.Envelope) bool {
	if !env.Content.IsObject() {
		return false
	}
	ctrl, ok := env.Content.Object.(*message.ControlMessage)
	if !ok {
		return false
	}
	f.controlled.ControlMessage(ctrl.Command, ctrl.Data)
	return true
}

// PutEnvelope forwards to the wrapped source unchanged: control commands
// only flow worker-to-supervisor via plain message sends (e.g. "ready"),
// never through this filter.
func (f *Filter) PutEnvelope(env message.Envelope) error {
	return f.source.PutEnvelope(env)
}

// Shutdown forwards to the wrapped source.
func (f *Filter) Shutdown() {
	f.source.Shutdown()
}
