package models

// NodeKind is the level of a node in the sitemap tree
type NodeKind string

const (
	NodeKindIndex    NodeKind = "INDEX"     // Root sitemap index
	NodeKindSubIndex NodeKind = "SUB_INDEX" // Intermediate index
	NodeKindFinal    NodeKind = "FINAL"     // Leaf producing <urlset> files
)

// IsValid returns true if the kind is known
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeKindIndex, NodeKindSubIndex, NodeKindFinal:
		return true
	}
	return false
}

// IsAggregate returns true for nodes that only list their children
func (k NodeKind) IsAggregate() bool {
	return k == NodeKindIndex || k == NodeKindSubIndex
}

// NodeState is the generation state of a node during one run
type NodeState string

const (
	NodeStatePending     NodeState = "pending"
	NodeStateFetching    NodeState = "fetching"
	NodeStateValidating  NodeState = "validating"
	NodeStateSerializing NodeState = "serializing"
	NodeStateDone        NodeState = "done"
	NodeStateFailed      NodeState = "failed"
)

// String implements fmt.Stringer for logging
func (s NodeState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal returns true once the node has finished, successfully or not
func (s NodeState) IsTerminal() bool {
	return s == NodeStateDone || s == NodeStateFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// Any non-terminal state may fail; aggregate nodes skip straight from pending to serializing.
func (s NodeState) CanTransition(next NodeState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == NodeStateFailed {
		return true
	}
	switch s {
	case NodeStatePending:
		return next == NodeStateFetching || next == NodeStateSerializing
	case NodeStateFetching:
		return next == NodeStateValidating
	case NodeStateValidating:
		return next == NodeStateSerializing
	case NodeStateSerializing:
		return next == NodeStateDone
	}
	return false
}

// ShardingStrategy names how a FINAL node splits its URL set into files
type ShardingStrategy string

const (
	ShardingNone       ShardingStrategy = ""
	ShardingAlphabetic ShardingStrategy = "alphabetic"
	ShardingNumeric    ShardingStrategy = "numeric"
	ShardingTemporal   ShardingStrategy = "temporal"
	ShardingOffset     ShardingStrategy = "offset"
	ShardingCustom     ShardingStrategy = "custom"
)

// IsValid returns true if the strategy is known (empty means unsharded)
func (s ShardingStrategy) IsValid() bool {
	switch s {
	case ShardingNone, ShardingAlphabetic, ShardingNumeric, ShardingTemporal, ShardingOffset, ShardingCustom:
		return true
	}
	return false
}
