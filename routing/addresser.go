package routing

import (
	"sync/atomic"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
	"github.com/dreamworksanimation/arras4-core/message"
)

// Addresser fills in the "to" addresses of an outbound envelope from one
// particular source computation, using the message filters most recently
// installed by Update. A zero-value Addresser routes nothing until Update
// is called at least once.
//
// Update swaps the routing table under an atomic pointer rather than a
// mutex, so Address/AddressToAll never block behind a concurrent Update:
// they either see the old table or the new one, never a partially built
// one.
type Addresser struct {
	table atomic.Pointer[addressing]
}

// NewAddresser returns an Addresser with no routing until Update is called.
func NewAddresser() *Addresser {
	a := &Addresser{}
	a.table.Store(&addressing{})
	return a
}

// Update replaces the routing table, built from sourceCompID's entry in
// the session's message-filters document against compMap.
func (a *Addresser) Update(sourceCompID id.UUID, compMap *ComputationMap, messageFilters map[string]any) {
	a.table.Store(newAddressing(sourceCompID, compMap, messageFilters))
}

// Address fills in env's From and To fields by looking up its routing name
// against the current message filters. If env already carries the
// AddressToAll broadcast sentinel, that takes priority over the filters.
func (a *Addresser) Address(env *message.Envelope) {
	t := a.table.Load()
	env.Metadata.From = t.sourceAddress
	if env.IsAddressedToAll() {
		env.To = t.allAddresses()
		return
	}
	env.To = t.addresses(env.Metadata.RoutingName)
}

// AddressToAll fills in env's From field and sets To to every computation
// in the session except the client, ignoring message filters entirely.
// Equivalent to calling env.AddressToAll() followed by Address, but
// resolves immediately rather than leaving the sentinel for later.
func (a *Addresser) AddressToAll(env *message.Envelope) {
	t := a.table.Load()
	env.Metadata.From = t.sourceAddress
	env.To = t.allAddresses()
}

// AddressTo sets env's From field from the current routing table and
// appends the given explicit destination(s) to To, ignoring message
// filters entirely. Used when a computation names its own recipients.
func (a *Addresser) AddressTo(env *message.Envelope, destinations ...address.Address) {
	t := a.table.Load()
	env.Metadata.From = t.sourceAddress
	env.To = append(env.To, destinations...)
}
