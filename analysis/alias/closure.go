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

package alias

import (
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
	"github.com/awslabs/ar-go-memsafety/internal/graphutil"
)

// Candidates returns the values of fn that can be members of an alias closure: the pointer parameters, the pointer
// results of instructions and the globals referenced by fn.
func Candidates(fn *ir.Function) []ir.Value {
	var candidates []ir.Value
	for _, p := range fn.Params {
		if ir.IsPointer(p.Type()) {
			candidates = append(candidates, p)
		}
	}
	lang.IterateInstructions(fn, func(instr ir.Instruction) {
		if v, ok := ir.AsValue(instr); ok && ir.IsPointer(v.Type()) {
			candidates = append(candidates, v)
		}
	})
	return append(candidates, lang.ReferencedGlobals(fn)...)
}

// Closure returns the alias closure of v in fn: v, followed by every candidate of fn that may alias v or, transitively,
// may alias a member of the closure. Two values that may alias always have the same closure.
//
// The closure is computed from scratch on every call; it is invalidated by any modification of fn.
func Closure(fn *ir.Function, v ir.Value, oracle Oracle) []ir.Value {
	return NewFinder(fn, oracle).Closure(v)
}

// A Finder computes alias closures in one function. The may-alias graph of the candidates is built on the first
// query and its connected components are shared by all the following ones. It must not be used after fn has been
// modified.
type Finder struct {
	fn          *ir.Function
	oracle      Oracle
	candidates  []ir.Value
	index       map[ir.Value]int
	components  [][]int
	componentOf []int
}

// NewFinder returns a closure finder for fn
func NewFinder(fn *ir.Function, oracle Oracle) *Finder {
	candidates := Candidates(fn)
	index := make(map[ir.Value]int, len(candidates))
	for i, c := range candidates {
		if _, ok := index[c]; !ok {
			index[c] = i
		}
	}
	return &Finder{fn: fn, oracle: oracle, candidates: candidates, index: index}
}

// mayAliasGraph returns the graph over vs with an edge in both directions between each pair of values that may alias
func mayAliasGraph(vs []ir.Value, oracle Oracle) *graphutil.Digraph {
	g := graphutil.NewDigraph(len(vs))
	for i := range vs {
		for j := i + 1; j < len(vs); j++ {
			if oracle.Alias(vs[i], vs[j]) != NoAlias {
				g.AddEdge(i, j)
				g.AddEdge(j, i)
			}
		}
	}
	return g
}

func (f *Finder) build() {
	if f.components != nil {
		return
	}
	f.components = mayAliasGraph(f.candidates, f.oracle).Components()
	f.componentOf = make([]int, len(f.candidates))
	for k, c := range f.components {
		for _, i := range c {
			f.componentOf[i] = k
		}
	}
}

// Closure returns the alias closure of v, see the Closure function
func (f *Finder) Closure(v ir.Value) []ir.Value {
	i, ok := f.index[v]
	if !ok {
		// v is not a candidate of the function (e.g. a value of another function): its closure is computed on its own
		return closureOutside(f.candidates, v, f.oracle)
	}
	f.build()
	members := []ir.Value{v}
	for _, j := range f.components[f.componentOf[i]] {
		if f.candidates[j] != v {
			members = append(members, f.candidates[j])
		}
	}
	return members
}

func closureOutside(candidates []ir.Value, v ir.Value, oracle Oracle) []ir.Value {
	vs := append([]ir.Value{v}, candidates...)
	for _, c := range mayAliasGraph(vs, oracle).Components() {
		if c[0] != 0 {
			continue
		}
		members := make([]ir.Value, 0, len(c))
		for _, j := range c {
			members = append(members, vs[j])
		}
		return members
	}
	return []ir.Value{v}
}
