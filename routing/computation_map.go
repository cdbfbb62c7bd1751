// Package routing resolves message destinations for a session: it maps
// computation names to addresses and turns per-computation message filters
// into a fast lookup from routing name to destination address list,
// grounded on arras4_core_impl's ComputationMap, Addressing and Addresser.
package routing

import (
	"fmt"

	"github.com/pingcap/errors"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

// KeyError is returned by ComputationMap lookups that fail to find the
// requested name or id.
type KeyError struct {
	msg string
}

func (e *KeyError) Error() string { return e.msg }

func newKeyError(format string, args ...any) error {
	return errors.Trace(&KeyError{msg: fmt.Sprintf(format, args...)})
}

// clientName is the reserved computation name for the session client, which
// always has the nil computation id.
const clientName = "(client)"

// ComputationMap holds the name/id/address mapping for every computation in
// a session, built once from the coordinator's routing data and never
// mutated afterward, so it needs no locking.
type ComputationMap struct {
	nameToID map[string]id.UUID
	idToName map[id.UUID]string
	idToAddr map[id.UUID]address.Address
}

// NewComputationMap builds a ComputationMap from the "routing"/sessionId/
// "computations" document the coordinator sends to a node: a map from
// computation name to an object carrying "compId" and "nodeId" strings. A
// "(client)" entry with the nil computation id is always added.
func NewComputationMap(sessionID id.UUID, computations map[string]any) (*ComputationMap, error) {
	m := &ComputationMap{
		nameToID: make(map[string]id.UUID, len(computations)+1),
		idToName: make(map[id.UUID]string, len(computations)+1),
		idToAddr: make(map[id.UUID]address.Address, len(computations)+1),
	}
	for name, raw := range computations {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("routing: computation %q entry is not an object", name)
		}
		compIDStr, _ := entry["compId"].(string)
		compID, err := id.Parse(compIDStr)
		if err != nil {
			return nil, fmt.Errorf("routing: computation %q has invalid compId: %w", name, err)
		}
		nodeIDStr, _ := entry["nodeId"].(string)
		nodeID, err := id.Parse(nodeIDStr)
		if err != nil {
			return nil, fmt.Errorf("routing: computation %q has invalid nodeId: %w", name, err)
		}
		m.nameToID[name] = compID
		m.idToName[compID] = name
		m.idToAddr[compID] = address.New(sessionID, nodeID, compID)
	}

	m.nameToID[clientName] = id.Nil
	m.idToName[id.Nil] = clientName
	m.idToAddr[id.Nil] = address.New(sessionID, id.Nil, id.Nil)
	return m, nil
}

// ComputationID returns the id registered for name.
func (m *ComputationMap) ComputationID(name string) (id.UUID, error) {
	cid, ok := m.nameToID[name]
	if !ok {
		return id.Nil, newKeyError("computation %q not found", name)
	}
	return cid, nil
}

// ComputationName returns the name registered for cid.
func (m *ComputationMap) ComputationName(cid id.UUID) (string, error) {
	name, ok := m.idToName[cid]
	if !ok {
		return "", newKeyError("computation id %s not found", cid)
	}
	return name, nil
}

// ComputationAddress returns the address registered for cid.
func (m *ComputationMap) ComputationAddress(cid id.UUID) (address.Address, error) {
	addr, ok := m.idToAddr[cid]
	if !ok {
		return address.Address{}, newKeyError("computation id %s not found", cid)
	}
	return addr, nil
}

// ComputationAddressByName returns the address registered for name.
func (m *ComputationMap) ComputationAddressByName(name string) (address.Address, error) {
	cid, err := m.ComputationID(name)
	if err != nil {
		return address.Address{}, err
	}
	return m.ComputationAddress(cid)
}

// AllAddresses returns every computation's address, excluding the client
// unless includeClient is set.
func (m *ComputationMap) AllAddresses(includeClient bool) []address.Address {
	out := make([]address.Address, 0, len(m.idToAddr))
	for cid, addr := range m.idToAddr {
		if includeClient || !id.IsNil(cid) {
			out = append(out, addr)
		}
	}
	return out
}
