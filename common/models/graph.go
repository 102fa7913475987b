package models

// Graph is the executable shape of a workflow: configured blocks wired by
// data/control edges
type Graph struct {
	Nodes    []Node                 `json:"nodes"`
	Edges    []Edge                 `json:"edges"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Node is one configured block inside a graph
type Node struct {
	ID      string `json:"id"`
	BlockID string `json:"blockId"`

	// Parsed, registry-validated config for the block
	Data map[string]interface{} `json:"data,omitempty"`

	// Alias exposes this node's output to later nodes under a short name
	Alias string `json:"alias,omitempty"`

	// Connector references a stored external-service configuration
	Connector string `json:"connector,omitempty"`
}

// Edge makes the target depend on the source. Handles select input/output
// ports on branching blocks.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// IsEmpty reports whether the graph has no nodes
func (g *Graph) IsEmpty() bool {
	return g == nil || len(g.Nodes) == 0
}

// NodeByID returns the node with the given id, if present
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// OutputKey is the memory key a node's output binds under: responseAlias
// wins for action blocks, then alias, then the node id
func (n *Node) OutputKey() string {
	if ra, ok := n.Data["responseAlias"].(string); ok && ra != "" {
		return ra
	}
	if n.Alias != "" {
		return n.Alias
	}
	return n.ID
}
