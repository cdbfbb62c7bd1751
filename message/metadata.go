package message

import (
	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/arrastime"
	"github.com/dreamworksanimation/arras4-core/id"
)

// Metadata is the envelope's addressing/provenance block: who sent this
// message, when, under what instance id, and under what routing name.
// The donor models Metadata as a polymorphic interface so a standalone
// (in-process) runtime and a networked one can swap implementations; here
// a single concrete struct plays both roles, matching the design note in
// here a tagged struct is the direct replacement.
type Metadata struct {
	InstanceID   id.UUID
	SourceID     id.UUID
	CreationTime arrastime.Time
	From         address.Address
	RoutingName  string
	Trace        bool
}

// NewMetadata stamps a fresh instance id and the current time.
func NewMetadata(from address.Address, routingName string) Metadata {
	return Metadata{
		InstanceID:   id.New(),
		CreationTime: arrastime.Now(),
		From:         from,
		RoutingName:  routingName,
	}
}

// Describe renders a short human-readable summary, matching Metadata's
// describe() contract.
func (m Metadata) Describe() string {
	return "instance=" + m.InstanceID.String() + " from=" + m.From.String() + " routing=" + m.RoutingName
}
