package scenario

import (
	"fmt"
	"time"
)

// OpKind is the synthetic operation a task node performs.
type OpKind string

const (
	OpSleep      OpKind = "sleep"
	OpArithmetic OpKind = "arithmetic"
	OpFileIO     OpKind = "file-io"
)

// Workload declares the synthetic work of a single task node.
type Workload struct {
	Duration        time.Duration `yaml:"duration"`
	Op              OpKind        `yaml:"op"`
	CPUHint         float64       `yaml:"cpu_hint,omitempty"`
	MemoryHintBytes int64         `yaml:"memory_hint_bytes,omitempty"`
	Rows            int           `yaml:"rows,omitempty"`
}

// Node is a vertex in the task graph. Join nodes wait on all upstream
// predecessors before starting.
type Node struct {
	ID       string   `yaml:"id"`
	Workload Workload `yaml:"workload"`
	Join     bool     `yaml:"join,omitempty"`
}

// Edge is a directed dependency between two nodes.
type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Graph is an immutable, validated task DAG. Build it with NewGraph; a Graph
// obtained that way is safe for concurrent read access.
type Graph struct {
	Nodes []Node `yaml:"nodes"`
	Edges []Edge `yaml:"edges"`

	index    map[string]int
	outgoing map[string][]string
	incoming map[string][]string
}

// InvalidGraphError reports a structural problem in a task graph. For cycles,
// CycleFrom/CycleTo name the first detected back edge.
type InvalidGraphError struct {
	Reason    string
	CycleFrom string
	CycleTo   string
}

func (e *InvalidGraphError) Error() string {
	if e.CycleFrom != "" {
		return fmt.Sprintf("invalid graph: cycle via edge %s -> %s", e.CycleFrom, e.CycleTo)
	}
	return "invalid graph: " + e.Reason
}

func invalidf(format string, args ...any) error {
	return &InvalidGraphError{Reason: fmt.Sprintf(format, args...)}
}

// NewGraph validates nodes and edges and returns a Graph.
//
// Rejected: empty graphs, duplicate or empty node IDs, negative declared
// durations, edges referencing unknown nodes, self-loops, duplicate edges,
// cycles, and nodes unreachable from any root.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no nodes")
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, invalidf("node %d has empty id", i)
		}
		if _, exists := index[n.ID]; exists {
			return nil, invalidf("duplicate node id %q", n.ID)
		}
		if n.Workload.Duration < 0 {
			return nil, invalidf("node %q declares negative duration %s", n.ID, n.Workload.Duration)
		}
		index[n.ID] = i
	}

	outgoing := make(map[string][]string)
	incoming := make(map[string][]string)
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := index[e.From]; !ok {
			return nil, invalidf("edge references unknown node %q", e.From)
		}
		if _, ok := index[e.To]; !ok {
			return nil, invalidf("edge references unknown node %q", e.To)
		}
		if e.From == e.To {
			return nil, invalidf("self-loop on node %q", e.From)
		}
		if _, dup := seen[e]; dup {
			return nil, invalidf("duplicate edge %s -> %s", e.From, e.To)
		}
		seen[e] = struct{}{}
		outgoing[e.From] = append(outgoing[e.From], e.To)
		incoming[e.To] = append(incoming[e.To], e.From)
	}

	g := &Graph{Nodes: nodes, Edges: edges, index: index, outgoing: outgoing, incoming: incoming}
	if from, to, ok := g.findCycle(); ok {
		return nil, &InvalidGraphError{CycleFrom: from, CycleTo: to}
	}
	// Acyclic with every in-degree>0 node fed from some node means all nodes
	// are reachable from a root, so no separate reachability walk is needed.
	return g, nil
}

// findCycle runs a DFS over the graph in declaration order and returns the
// first back edge found.
func (g *Graph) findCycle() (from, to string, found bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range g.outgoing[id] {
			switch color[next] {
			case gray:
				from, to, found = id, next, true
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white && visit(n.ID) {
			return from, to, true
		}
	}
	return "", "", false
}

// Roots returns the IDs of nodes with no predecessors, in declaration order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.Nodes {
		if len(g.incoming[n.ID]) == 0 {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// Predecessors returns the upstream node IDs of id.
func (g *Graph) Predecessors(id string) []string {
	return g.incoming[id]
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// DeclaredTotal sums the declared workload durations of all nodes.
func (g *Graph) DeclaredTotal() time.Duration {
	var total time.Duration
	for _, n := range g.Nodes {
		total += n.Workload.Duration
	}
	return total
}

// TopoOrder returns node IDs in a deterministic topological order
// (Kahn's algorithm, declaration order as tie-breaker).
func (g *Graph) TopoOrder() []string {
	indeg := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n.ID] = len(g.incoming[n.ID])
	}
	order := make([]string, 0, len(g.Nodes))
	ready := g.Roots()
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range g.outgoing[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
