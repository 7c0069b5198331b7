// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graphutil

import (
	"sort"

	"github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"
)

// Digraph is a directed graph over the nodes 0..n-1, used to work with existing graph libraries. It implements
// the graph.Iterator interface of yourbasic/graph, and can be converted into a Gonum graph.
type Digraph struct {
	// The order of the graph
	order int

	// Edges is an adjacency list: Edges[x] holds the distinct successors of x, in insertion order
	Edges [][]int
}

// NewDigraph returns a graph with n nodes and no edges
func NewDigraph(n int) *Digraph {
	return &Digraph{order: n, Edges: make([][]int, n)}
}

// AddEdge adds the directed edge from -> to. Duplicate edges are ignored.
func (g *Digraph) AddEdge(from, to int) {
	for _, w := range g.Edges[from] {
		if w == to {
			return
		}
	}
	g.Edges[from] = append(g.Edges[from], to)
}

// HasEdge returns true if the edge from -> to is in the graph
func (g *Digraph) HasEdge(from, to int) bool {
	for _, w := range g.Edges[from] {
		if w == to {
			return true
		}
	}
	return false
}

// Order implements the order of the graph.Iterator interface for the Digraph
func (g *Digraph) Order() int {
	return g.order
}

// Visit implements the graph.Iterator interface for the Digraph
func (g *Digraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	for _, w := range g.Edges[v] {
		if do(w, 1) {
			return true
		}
	}
	return false
}

// StrongComponents returns the strongly connected components of the graph. Nodes of a component are sorted, and
// every node appears in exactly one component.
func (g *Digraph) StrongComponents() [][]int {
	components := graph.StrongComponents(g)
	for _, c := range components {
		sort.Ints(c)
	}
	return components
}

// IsCyclic returns true if the component c of g contains a cycle: it has more than one node, or its only node has
// an edge to itself.
func (g *Digraph) IsCyclic(c []int) bool {
	return len(c) > 1 || (len(c) == 1 && g.HasEdge(c[0], c[0]))
}

// ToGonum returns a Gonum directed graph with the same nodes and edges. Self-edges are dropped since Gonum's simple
// graphs do not support them.
func (g *Digraph) ToGonum() *simple.DirectedGraph {
	dg := simple.NewDirectedGraph()
	for i := 0; i < g.order; i++ {
		dg.AddNode(simple.Node(i))
	}
	for from, succs := range g.Edges {
		for _, to := range succs {
			if from != to {
				dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
			}
		}
	}
	return dg
}

// Dominators returns the immediate dominator of each node of g when control starts at root. The result maps root
// and the nodes unreachable from root to -1.
func (g *Digraph) Dominators(root int) []int {
	tree := flow.Dominators(simple.Node(root), g.ToGonum())
	reachable := g.Reachable(root)
	idom := make([]int, g.order)
	for i := range idom {
		idom[i] = -1
		if i == root || !reachable[i] {
			continue
		}
		if d := tree.DominatorOf(int64(i)); d != nil {
			idom[i] = int(d.ID())
		}
	}
	return idom
}

// Reachable returns the set of nodes reachable from root, root included
func (g *Digraph) Reachable(root int) []bool {
	seen := make([]bool, g.order)
	seen[root] = true
	graph.BFS(g, root, func(_, w int, _ int64) { seen[w] = true })
	return seen
}

// Components returns the connected components of g, which must be undirected: every edge has its reverse edge.
// Nodes of a component are sorted, and components are sorted by their first node.
func (g *Digraph) Components() [][]int {
	components := graph.Components(g)
	for _, c := range components {
		sort.Ints(c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}
