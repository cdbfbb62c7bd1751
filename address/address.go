// Package address implements the Address triple that records the source and
// destination of a message, grounded on arras4_message_api's Address.
package address

import (
	"fmt"

	"github.com/dreamworksanimation/arras4-core/id"
)

// Address is a (session, node, computation) triple of UUIDs.
type Address struct {
	Session     id.UUID
	Node        id.UUID
	Computation id.UUID
}

// Null is the address with all three components nil.
var Null = Address{}

// New builds an Address from its three components.
func New(session, node, computation id.UUID) Address {
	return Address{Session: session, Node: node, Computation: computation}
}

// IsNull reports whether every component of addr is the nil UUID.
func (addr Address) IsNull() bool {
	return id.IsNil(addr.Session) && id.IsNil(addr.Node) && id.IsNil(addr.Computation)
}

// String renders the address for logs, matching the donor's stream operator.
func (addr Address) String() string {
	return fmt.Sprintf("Session: %s Node: %s Comp: %s", addr.Session, addr.Node, addr.Computation)
}

// objectForm is the JSON-mapping shape FromObject decodes into.
type objectForm struct {
	Session     string `json:"session"`
	Node        string `json:"node"`
	Computation string `json:"computation"`
}

// ToObject renders addr into the string-keyed object form used by exec-config
// documents and control-message "update" payloads.
func (addr Address) ToObject() map[string]any {
	return map[string]any{
		"session":     addr.Session.String(),
		"node":        addr.Node.String(),
		"computation": addr.Computation.String(),
	}
}

// FromObject parses the string-keyed object form back into an Address.
func FromObject(obj map[string]any) (Address, error) {
	var form objectForm
	for key, dst := range map[string]*string{
		"session": &form.Session, "node": &form.Node, "computation": &form.Computation,
	} {
		v, ok := obj[key]
		if !ok {
			return Address{}, fmt.Errorf("address: missing field %q", key)
		}
		s, ok := v.(string)
		if !ok {
			return Address{}, fmt.Errorf("address: field %q is not a string", key)
		}
		*dst = s
	}
	session, err := id.Parse(form.Session)
	if err != nil {
		return Address{}, fmt.Errorf("address: session: %w", err)
	}
	node, err := id.Parse(form.Node)
	if err != nil {
		return Address{}, fmt.Errorf("address: node: %w", err)
	}
	comp, err := id.Parse(form.Computation)
	if err != nil {
		return Address{}, fmt.Errorf("address: computation: %w", err)
	}
	return New(session, node, comp), nil
}
