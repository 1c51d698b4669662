package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/earshot/internal/graph"
)

// CycleWarning represents a cycle among an event graph's connections.
//
// Cycles are warnings, not errors: a cycle only aborts playback when the
// evaluator actually walks it, which may depend on switch or random choices.
type CycleWarning struct {
	Graph   string   `json:"graph"`
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on an event graph.
//
// The algorithm:
//  1. Build node → downstream node adjacency from the graph's connections
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// Nodes are visited in graph insertion order so the result is stable.
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(g *graph.Graph) []CycleWarning {
	adj, order := buildAdjacency(g)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(adj, order) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], adj)) {
			w := cycleSCCToWarning(scc, adj)
			w.Graph = g.Name
			warnings = append(warnings, w)
		}
	}
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// adjacency maps node ID → IDs of the nodes it feeds.
type adjacency map[string][]string

func buildAdjacency(g *graph.Graph) (adjacency, []string) {
	adj := make(adjacency)
	order := make([]string, 0, len(g.Nodes()))
	for _, n := range g.Nodes() {
		id := string(n.ID)
		adj[id] = []string{}
		order = append(order, id)
	}
	for _, c := range g.Connections() {
		adj[string(c.From)] = append(adj[string(c.From)], string(c.To))
	}
	return adj, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, adj adjacency) bool {
	for _, neighbor := range adj[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of node IDs.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(adj adjacency, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, adj adjacency) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("Node feeds itself: %s → %s", id, id),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, adj)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at the last node Tarjan popped (the SCC root), follow
// edges to other SCC members, continue until we return to start node.
func reconstructCyclePath(scc []string, adj adjacency) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[len(scc)-1]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range adj[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)

		if next == start {
			break
		}

		current = next
	}

	return path
}
