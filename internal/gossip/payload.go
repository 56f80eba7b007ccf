// Package gossip implements the wire payload, HTTP listener, and
// periodic whisperer that disseminate cluster-view updates between
// peers.
package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/mcastellin/whispers/internal/node"
)

// Diff is one (id, state) pair inside a Payload, matching the spec's
// GossipPayload.diffs entries. It marshals as a 2-element JSON array
// (["<NodeId>", {...}]) per the wire contract in spec §6, rather than
// as an object, so diffs stay a plain tuple sequence on the wire.
type Diff struct {
	ID    node.ID
	State node.State
}

// MarshalJSON renders a Diff as the ["id", state] tuple the wire
// format expects.
func (d Diff) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{d.ID, d.State})
}

// UnmarshalJSON parses the ["id", state] tuple back into a Diff.
func (d *Diff) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("gossip: diff is not a 2-element tuple: %w", err)
	}
	var id node.ID
	if err := json.Unmarshal(tuple[0], &id); err != nil {
		return fmt.Errorf("gossip: diff id: %w", err)
	}
	var state node.State
	if err := json.Unmarshal(tuple[1], &state); err != nil {
		return fmt.Errorf("gossip: diff state: %w", err)
	}
	d.ID, d.State = id, state
	return nil
}

// Payload is the gossip wire format: the sender's identity plus a
// sequence of diffs. Key uniqueness within diffs is not required; the
// receiver applies an LWW merge per entry regardless.
type Payload struct {
	From  node.ID `json:"from"`
	Diffs []Diff  `json:"diffs"`
}

// Empty reports whether the payload carries no diffs, the signal a
// whisperer tick uses to skip sending.
func (p Payload) Empty() bool {
	return len(p.Diffs) == 0
}
