package engine

import (
	"sort"

	"github.com/veilflow/veilflow/common/models"
)

// ValidateGraph checks the structural invariants of a workflow graph:
// non-empty, every edge endpoint exists, aliases unique, acyclic. Run at
// publish time and again at run start; persisted graphs are never trusted.
func ValidateGraph(g *models.Graph) *Error {
	if g.IsEmpty() {
		return Errf(KindGraphMissing, "graph has no nodes")
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	aliases := make(map[string]string)
	for _, n := range g.Nodes {
		if n.ID == "" {
			return Errf(KindGraphInvalid, "node with empty id")
		}
		if nodeIDs[n.ID] {
			return Errf(KindGraphInvalid, "duplicate node id %q", n.ID)
		}
		nodeIDs[n.ID] = true

		if n.Alias != "" {
			if other, dup := aliases[n.Alias]; dup {
				return Errf(KindGraphInvalid, "alias %q used by nodes %q and %q", n.Alias, other, n.ID)
			}
			aliases[n.Alias] = n.ID
		}
	}

	for _, e := range g.Edges {
		if !nodeIDs[e.Source] {
			return Errf(KindGraphInvalid, "edge %q references unknown source %q", e.ID, e.Source)
		}
		if !nodeIDs[e.Target] {
			return Errf(KindGraphInvalid, "edge %q references unknown target %q", e.ID, e.Target)
		}
	}

	if _, err := TopologicalOrder(g); err != nil {
		return err
	}

	return nil
}

// TopologicalOrder computes a deterministic execution order: Kahn's
// algorithm with lexicographic node-id tie-breaking, so identical graphs
// always run the same way. Returns graph_invalid on a cycle.
func TopologicalOrder(g *models.Graph) ([]string, *Error) {
	indegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string)

	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		indegree[e.Target]++
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		inserted := false
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				inserted = true
			}
		}
		if inserted {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, Errf(KindGraphInvalid, "graph contains a cycle")
	}

	return order, nil
}
