package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/cqnlower/internal/csn"
)

// CycleWarning represents a cycle of managed associations between entities.
//
// Cycles are warnings, not errors, because they are usually intentional:
//   - Hierarchies such as Genres.parent
//   - Mutual references such as Employees.manager and Departments.head
//
// They matter because a path following the cycle joins the same table
// again under a fresh alias for every step.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Genres", "Genres"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds cycles in the graph of managed associations.
//
// The algorithm:
//  1. Build entity → target graph from managed associations
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops
//
// Self-loops are reported at info level. A DAG returns an empty list.
func AnalyzeCycles(m *csn.Model) []CycleWarning {
	graph, order := buildAssociationGraph(m)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// associationGraph maps entity name → targets of its managed associations.
type associationGraph map[string][]string

// buildAssociationGraph returns the graph and its nodes in model order so
// results are stable.
func buildAssociationGraph(m *csn.Model) (associationGraph, []string) {
	graph := make(associationGraph)
	var order []string
	for _, d := range m.Entities() {
		order = append(order, d.Name)
		graph[d.Name] = appendTargets(graph[d.Name], d.Elements)
	}
	return graph, order
}

func appendTargets(targets []string, elements []*csn.Element) []string {
	if targets == nil {
		targets = []string{}
	}
	for _, el := range elements {
		switch {
		case el.IsStructure():
			targets = appendTargets(targets, el.Elements)
		case el.Association() == csn.Managed:
			targets = append(targets, el.Target)
		}
	}
	return targets
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph associationGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of entity names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph associationGraph, order []string) [][]string {
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

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is the root of an SCC
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
func cycleSCCToWarning(scc []string, graph associationGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-referencing association: %s → %s", name, name),
			Level:   "info",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Association cycle: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first node
// until it returns there.
func reconstructCyclePath(scc []string, graph associationGraph) []string {
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
		for _, neighbor := range graph[current] {
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
