package message

import (
	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

// Envelope is the transport unit: a class-tagged, addressed, timestamped
// message. Created at send or receive; owned by whichever queue it sits in
// or by the handler currently processing it.
type Envelope struct {
	ClassID      id.UUID
	ClassVersion uint32
	Metadata     Metadata
	To           []address.Address
	Content      Content
}

// New builds an envelope around an ObjectContent value, taking its class id
// and version directly from the content and defaulting the routing name to
// the content's DefaultRoutingName if the caller passes an empty one.
func New(content ObjectContent, from address.Address, routingName string) Envelope {
	if routingName == "" {
		routingName = content.DefaultRoutingName()
	}
	return Envelope{
		ClassID:      content.ClassID(),
		ClassVersion: content.ClassVersion(),
		Metadata:     NewMetadata(from, routingName),
		Content:      ObjectContentOf(content),
	}
}

// addressToAllMarker is a sentinel recognized by the addresser's resolve step:
// an envelope carrying it in place of explicit To addresses is broadcast to
// every non-client destination in the routing table.
var addressToAllMarker = address.Address{Session: id.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")}

// AddressToAll marks env for broadcast delivery; the addresser replaces
// this sentinel with the table's all-addresses list before the envelope
// reaches the writer.
func (env *Envelope) AddressToAll() {
	env.To = []address.Address{addressToAllMarker}
}

// IsAddressedToAll reports whether env carries the broadcast sentinel.
func (env Envelope) IsAddressedToAll() bool {
	return len(env.To) == 1 && env.To[0] == addressToAllMarker
}
