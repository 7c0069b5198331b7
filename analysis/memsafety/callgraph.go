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

package memsafety

import (
	"sort"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
	"github.com/awslabs/ar-go-memsafety/internal/graphutil"
)

// CallGraph builds the graph of the direct calls of m. Node i of the graph is m.Functions[i].
func CallGraph(m *ir.Module) *graphutil.Digraph {
	index := make(map[*ir.Function]int, len(m.Functions))
	for i, fn := range m.Functions {
		index[fn] = i
	}
	g := graphutil.NewDigraph(len(m.Functions))
	for i, fn := range m.Functions {
		lang.IterateInstructions(fn, func(instr ir.Instruction) {
			if call, ok := instr.(*ir.Call); ok {
				if callee := call.StaticCallee(); callee != nil {
					if j, ok := index[callee]; ok {
						g.AddEdge(i, j)
					}
				}
			}
		})
	}
	return g
}

// RecursiveGroups returns the strongly connected components of the call graph of m that contain a cycle. Groups are
// sorted by the position of their first function in the module.
func RecursiveGroups(m *ir.Module) [][]*ir.Function {
	g := CallGraph(m)
	var groups [][]*ir.Function
	components := g.StrongComponents()
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	for _, c := range components {
		if !g.IsCyclic(c) {
			continue
		}
		group := make([]*ir.Function, len(c))
		for k, i := range c {
			group[k] = m.Functions[i]
		}
		groups = append(groups, group)
	}
	return groups
}
