package routing

import (
	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/id"
)

// addressing stores one computation's message filters in the form the
// addresser actually needs at send time: a lookup from routing name to
// destination list, built once from the session's message-filter document.
//
// Construction order matters for correctness, following ComputationMap's
// original algorithm: every destination computation that has an "accept"
// list gets added to the routing names it accepts. A destination with no
// accept list instead receives every routing name except those in its
// "ignore" list (if any), and is added to mDefaultAddresses so that routing
// names with no entry yet in the map also reach it automatically. Entries
// already in the map get this destination appended directly; an "ignore"d
// name with no map entry yet gets an empty entry created so that later,
// newly-discovered default destinations don't leak into it.
type addressing struct {
	sourceAddress  address.Address
	messageAddrMap map[string][]address.Address
	defaultAddrs   []address.Address
	allAddrs       []address.Address
}

// destFilter is one destination computation's entry in a message-filters
// document: {"accept": [...]} or {"ignore": [...]} or neither (accept all).
type destFilter struct {
	Accept []string
	Ignore []string
}

func parseDestFilter(raw any) destFilter {
	obj, ok := raw.(map[string]any)
	if !ok {
		return destFilter{}
	}
	return destFilter{
		Accept: stringList(obj["accept"]),
		Ignore: stringList(obj["ignore"]),
	}
}

func stringList(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// newAddressing builds the routing table for messages sent by sourceCompID,
// from the session's full per-source message-filters document (keyed by
// source computation name, each value keyed by destination computation
// name). If sourceCompID has no entry in compMap, the result routes
// nothing.
func newAddressing(sourceCompID id.UUID, compMap *ComputationMap, messageFilters map[string]any) *addressing {
	a := &addressing{
		allAddrs: compMap.AllAddresses(false),
	}

	sourceAddr, err := compMap.ComputationAddress(sourceCompID)
	if err != nil {
		return a
	}
	a.sourceAddress = sourceAddr

	sourceName, err := compMap.ComputationName(sourceCompID)
	if err != nil {
		return a
	}
	a.messageAddrMap = make(map[string][]address.Address)

	filtersRaw, _ := messageFilters[sourceName].(map[string]any)
	for destName, rawFilter := range filtersRaw {
		destAddr, err := compMap.ComputationAddressByName(destName)
		if err != nil {
			continue
		}
		filter := parseDestFilter(rawFilter)

		if len(filter.Accept) > 0 {
			for _, msg := range filter.Accept {
				entry := a.messageAddrMap[msg]
				if entry == nil {
					entry = append([]address.Address{}, a.defaultAddrs...)
				}
				a.messageAddrMap[msg] = append(entry, destAddr)
			}
			continue
		}

		ignoreSet := make(map[string]struct{}, len(filter.Ignore))
		for _, msg := range filter.Ignore {
			ignoreSet[msg] = struct{}{}
		}

		for msg, addrs := range a.messageAddrMap {
			if _, ignored := ignoreSet[msg]; ignored {
				delete(ignoreSet, msg)
			} else {
				a.messageAddrMap[msg] = append(addrs, destAddr)
			}
		}

		for msg := range ignoreSet {
			a.messageAddrMap[msg] = append([]address.Address{}, a.defaultAddrs...)
		}

		a.defaultAddrs = append(a.defaultAddrs, destAddr)
	}

	return a
}

// addresses returns the destination list for routingName: its explicit
// entry in the message-address map, or the default addresses if it has
// none.
func (a *addressing) addresses(routingName string) []address.Address {
	if a.messageAddrMap != nil {
		if addrs, ok := a.messageAddrMap[routingName]; ok {
			return addrs
		}
	}
	return a.defaultAddrs
}

// allAddresses returns every computation's address in the session, except
// the client.
func (a *addressing) allAddresses() []address.Address {
	return a.allAddrs
}
