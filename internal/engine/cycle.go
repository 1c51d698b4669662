package engine

import "github.com/roach88/earshot/internal/graph"

// cycleDetector tracks the nodes on the current evaluation path.
//
// Graphs may contain cycles because the model does not prevent them. The
// evaluator enters every node before processing it and leaves it afterwards;
// entering a node that is already on the path means the walk would never
// terminate, and the play request fails with a cycle error.
//
// Visiting the same node twice along different paths (a diamond under a
// blend container) is not a cycle.
type cycleDetector struct {
	onPath map[graph.NodeID]bool
	depth  int
}

func newCycleDetector() *cycleDetector {
	return &cycleDetector{onPath: make(map[graph.NodeID]bool)}
}

// WouldCycle reports whether entering id would re-enter the current path.
func (c *cycleDetector) WouldCycle(id graph.NodeID) bool {
	return c.onPath[id]
}

// Enter pushes id onto the path.
func (c *cycleDetector) Enter(id graph.NodeID) {
	c.onPath[id] = true
	c.depth++
}

// Leave pops id from the path.
func (c *cycleDetector) Leave(id graph.NodeID) {
	delete(c.onPath, id)
	c.depth--
}

// Depth returns the current path length.
func (c *cycleDetector) Depth() int {
	return c.depth
}
