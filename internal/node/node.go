// Package node defines the value types carried around the cluster view:
// node identity and node state, plus the last-write-wins ordering used
// to resolve conflicting gossip about the same node.
package node

import "fmt"

// ID is an opaque node identifier, typically a UUID string. Equality is
// byte-exact; immutable once constructed.
type ID string

func (id ID) String() string { return string(id) }

// State is a node's descriptor as carried around the cluster view:
// identity, the address of its HTTP listener, and a freshness token
// used as the sole LWW tiebreaker. Load and Tags are optional and
// round-trip opaquely through JSON; neither participates in ordering.
type State struct {
	ID       ID                `json:"id"`
	Address  string            `json:"address"`
	LastSeen uint64            `json:"last_seen"`
	Load     float32           `json:"load,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// IsNewerThan implements lww.Value. Strict greater-than: equal
// LastSeen values never trigger an update (first write wins within a
// timestamp), per the Equal-timestamp Design Note.
func (s State) IsNewerThan(other State) bool {
	return s.LastSeen > other.LastSeen
}

func (s State) String() string {
	return fmt.Sprintf("%s@%s(seen=%d)", s.ID, s.Address, s.LastSeen)
}
