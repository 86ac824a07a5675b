// Package depgraph is the DependencyResolver of spec.md §4.7: a pure
// function over a set of nodes and their declared dependency edges that
// produces a topological order, all cycles (including self-loops), and any
// missing dependencies. The iterative, explicit-stack walk is grounded on
// pumped-go's graph.go FindDependents, generalized from "collect reachable
// downstream nodes" to "detect back-edges and emit a topological order."
package depgraph

import (
	"fmt"
	"strings"
)

// Node is one resolvable item: a resource, task, or middleware id, plus the
// ids of the items it depends on.
type Node struct {
	ID        string
	DependsOn []string
}

// Result is the outcome of resolving a graph.
type Result struct {
	Order   []string // topological, leaves first
	Cycles  []string // "a -> b -> c -> a" strings, one per cycle found
	Missing []MissingDependency
}

// MissingDependency records a declared dependency with no matching node.
type MissingDependency struct {
	Consumer string
	Key      string
}

type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// Resolve computes topological order and detects cycles/missing deps. Nodes
// must be supplied in a deterministic order (callers pass registration
// order) since iteration order affects which rotation of a cycle is
// reported, though not whether it is reported.
func Resolve(nodes []Node) Result {
	byID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	var result Result
	colors := make(map[string]color, len(nodes))
	onStack := make(map[string]int) // id -> index in the current path slice
	var path []string

	// frame tracks one node's DFS progress on the explicit stack: which
	// dependency index to resume from on the next pop, mirroring the
	// explicit-stack walk pumped-go's graph.go uses for FindDependents
	// instead of native recursion.
	type frame struct {
		id     string
		depIdx int
	}

	for _, root := range nodes {
		if colors[root.ID] != white {
			continue
		}

		stack := []frame{{id: root.ID}}
		colors[root.ID] = gray
		onStack[root.ID] = len(path)
		path = append(path, root.ID)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			node, ok := byID[top.id]
			if !ok || top.depIdx >= len(node.DependsOn) {
				// Fully explored: pop, finalize.
				colors[top.id] = black
				delete(onStack, top.id)
				path = path[:len(path)-1]
				result.Order = append(result.Order, top.id)
				stack = stack[:len(stack)-1]
				continue
			}

			dep := node.DependsOn[top.depIdx]
			top.depIdx++

			if _, exists := byID[dep]; !exists {
				result.Missing = append(result.Missing, MissingDependency{Consumer: top.id, Key: dep})
				continue
			}

			switch colors[dep] {
			case white:
				colors[dep] = gray
				onStack[dep] = len(path)
				path = append(path, dep)
				stack = append(stack, frame{id: dep})
			case gray:
				// Back-edge: dep is an ancestor of top.id (or top.id itself).
				// Emit the cycle as the path slice from dep's position through
				// top.id, then back to dep.
				start := onStack[dep]
				cycleNodes := append([]string{}, path[start:]...)
				cycleNodes = append(cycleNodes, dep)
				result.Cycles = append(result.Cycles, strings.Join(cycleNodes, " -> "))
			case black:
				// Already fully resolved via another path; not a back-edge.
			}
		}
	}

	return result
}

// FormatCycle renders a cycle chain the way kerrors.CircularDependencies
// expects, e.g. "a -> b -> a".
func FormatCycle(chain []string) string {
	return strings.Join(chain, " -> ")
}

// String renders a MissingDependency for debugging/logging contexts. The
// "<Kind> <id> not found" style message is built by the caller, who knows
// the kind.
func (m MissingDependency) String() string {
	return fmt.Sprintf("%s depends on missing %s", m.Consumer, m.Key)
}
