// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dag

import (
	"fmt"
	"strings"
)

// New creates an empty graph.
func New() *Graph {
	return &Graph{byLabel: map[string]int{}, edges: map[string]map[string]bool{}}
}

// CycleError is returned when a graph that must be acyclic contains a cycle.
type CycleError struct {
	// Nodes lists the nodes that are on a cycle or downstream of one, in insertion order.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle through nodes [%s]", strings.Join(e.Nodes, ", "))
}

// Roots returns the roots of the DAG, i.e., the nodes without an incoming edge.
func (g *Graph) Roots() []string {
	indeg := g.inDegrees()
	roots := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if indeg[n] == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

func (g *Graph) inDegrees() map[string]int {
	indeg := make(map[string]int, len(g.Nodes))
	for _, from := range g.Nodes {
		for to := range g.edges[from] {
			indeg[to]++
		}
	}
	return indeg
}

// TopoLevels layers the graph so that every edge points from a lower to a higher level. The
// level of a node is the length of the longest path reaching it. Nodes on the same level do
// not depend on each other and are listed in insertion order.
func (g *Graph) TopoLevels() ([][]string, error) {
	indeg := g.inDegrees()
	current := g.Roots()
	done := 0
	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		done += len(current)
		var next []string
		for _, n := range current {
			for _, succ := range g.Edges(n) {
				indeg[succ]--
				if indeg[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		g.sortLabels(next)
		current = next
	}

	if done != len(g.Nodes) {
		var rest []string
		for _, n := range g.Nodes {
			if indeg[n] > 0 {
				rest = append(rest, n)
			}
		}
		return nil, &CycleError{Nodes: rest}
	}
	return levels, nil
}

// Sort returns the nodes in a topological order, breaking ties by insertion order.
func (g *Graph) Sort() ([]string, error) {
	levels, err := g.TopoLevels()
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(g.Nodes))
	for _, l := range levels {
		ret = append(ret, l...)
	}
	return ret, nil
}
