package graph

import (
	"fmt"
	"sort"

	"github.com/roach88/earshot/internal/param"
)

// OutputID is the fixed ID of every graph's terminal node.
const OutputID NodeID = "output"

// Connection is a directed edge from one node's output to another's input.
type Connection struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Graph is a named event definition.
type Graph struct {
	Name string

	// InstanceLimit caps concurrently playing instances; 0 means unlimited.
	InstanceLimit int
	// Group is the mutual-exclusion group; 0 means none.
	Group int

	// Default playback envelope, in seconds. Play options may override.
	FadeIn  float64
	FadeOut float64
	Delay   float64

	Parameters []param.EventParameter

	nodes []*Node
	index map[NodeID]*Node
	edges []Connection
}

// New creates a graph holding only its Output node with unit volume and
// pitch ranges.
func New(name string) *Graph {
	out := &Node{
		ID: OutputID,
		Body: &Output{
			VolumeMin: 1, VolumeMax: 1,
			PitchMin: 1, PitchMax: 1,
		},
	}
	return &Graph{
		Name:  name,
		nodes: []*Node{out},
		index: map[NodeID]*Node{OutputID: out},
	}
}

// Output returns the terminal node.
func (g *Graph) Output() *Node {
	return g.index[OutputID]
}

// OutputBody returns the terminal node's playback properties.
func (g *Graph) OutputBody() *Output {
	return g.Output().Body.(*Output)
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id NodeID) *Node {
	return g.index[id]
}

// Nodes returns all nodes in insertion order. The slice must not be modified.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Connections returns all edges in order. The slice must not be modified.
func (g *Graph) Connections() []Connection {
	return g.edges
}

// AddNode adds a node. IDs must be unique and non-empty, and a graph has
// exactly one Output.
func (g *Graph) AddNode(id NodeID, body Body) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if body == nil {
		return nil, fmt.Errorf("node %s: body is required", id)
	}
	if body.Kind() == KindOutput {
		return nil, fmt.Errorf("node %s: graph already has an output node", id)
	}
	if _, exists := g.index[id]; exists {
		return nil, fmt.Errorf("duplicate node ID: %s", id)
	}

	n := &Node{ID: id, Body: body}
	g.nodes = append(g.nodes, n)
	g.index[id] = n
	return n, nil
}

// RemoveNode deletes a node and every connection touching it.
// The Output node cannot be removed.
func (g *Graph) RemoveNode(id NodeID) error {
	if id == OutputID {
		return fmt.Errorf("cannot remove the output node")
	}
	if _, ok := g.index[id]; !ok {
		return fmt.Errorf("node not found: %s", id)
	}

	delete(g.index, id)
	for i, n := range g.nodes {
		if n.ID == id {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}

	kept := g.edges[:0]
	for _, c := range g.edges {
		if c.From != id && c.To != id {
			kept = append(kept, c)
		}
	}
	g.edges = kept
	return nil
}

// Connect adds the edge from → to.
func (g *Graph) Connect(from, to NodeID) error {
	src, ok := g.index[from]
	if !ok {
		return fmt.Errorf("connect: source node not found: %s", from)
	}
	dst, ok := g.index[to]
	if !ok {
		return fmt.Errorf("connect: target node not found: %s", to)
	}
	if src.Kind() == KindOutput {
		return fmt.Errorf("connect: output node has no output connector")
	}
	if dst.Kind().Leaf() {
		return fmt.Errorf("connect: %s node %s has no input connector", dst.Kind(), to)
	}
	for _, c := range g.edges {
		if c.From == from && c.To == to {
			return fmt.Errorf("connect: %s → %s already connected", from, to)
		}
	}

	g.edges = append(g.edges, Connection{From: from, To: to})
	return nil
}

// Disconnect removes the edge from → to and reports whether it existed.
func (g *Graph) Disconnect(from, to NodeID) bool {
	for i, c := range g.edges {
		if c.From == from && c.To == to {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return true
		}
	}
	return false
}

// SortInputs reorders the upstream connections of node to according to
// less, which compares the upstream nodes. The sort is stable and other
// connections keep their positions.
func (g *Graph) SortInputs(to NodeID, less func(a, b *Node) bool) {
	var positions []int
	var inputs []Connection
	for i, c := range g.edges {
		if c.To == to {
			positions = append(positions, i)
			inputs = append(inputs, c)
		}
	}

	sort.SliceStable(inputs, func(i, j int) bool {
		return less(g.index[inputs[i].From], g.index[inputs[j].From])
	})

	for k, pos := range positions {
		g.edges[pos] = inputs[k]
	}
}

// Upstream returns the nodes feeding id, in connection order.
func (g *Graph) Upstream(id NodeID) []*Node {
	var up []*Node
	for _, c := range g.edges {
		if c.To == id {
			up = append(up, g.index[c.From])
		}
	}
	return up
}

// Downstream returns the nodes fed by id, in connection order.
func (g *Graph) Downstream(id NodeID) []*Node {
	var down []*Node
	for _, c := range g.edges {
		if c.From == id {
			down = append(down, g.index[c.To])
		}
	}
	return down
}

// Parameter returns the event parameter binding with the given name.
func (g *Graph) Parameter(name string) (param.EventParameter, bool) {
	for _, p := range g.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return param.EventParameter{}, false
}

// Playable reports whether the graph can produce anything at all: at least
// one file-kind leaf carrying a clip, or a snapshot transition.
func (g *Graph) Playable() bool {
	for _, n := range g.nodes {
		if n.Kind() == KindSnapshot || n.Clip() != nil {
			return true
		}
	}
	return false
}

// ResetSequences rewinds every sequence cursor in the graph.
func (g *Graph) ResetSequences() {
	for _, n := range g.nodes {
		if s, ok := n.Body.(*Sequence); ok {
			s.Reset()
		}
	}
}
