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

package ir

import (
	"github.com/awslabs/ar-go-memsafety/internal/graphutil"
)

// DomTree is the dominator tree of the blocks of a function. It is a snapshot: adding or removing blocks or
// changing terminators invalidates it. Inserting non-terminator instructions does not.
type DomTree struct {
	fn        *Function
	idom      []int
	reachable []bool
}

// CFG returns the control flow graph of fn, where node i is fn.Blocks[i]
func CFG(fn *Function) *graphutil.Digraph {
	g := graphutil.NewDigraph(len(fn.Blocks))
	for i, b := range fn.Blocks {
		b.Index = i
	}
	for i, b := range fn.Blocks {
		for _, s := range b.Succs() {
			g.AddEdge(i, s.Index)
		}
	}
	return g
}

// Dominators computes the dominator tree of fn
func Dominators(fn *Function) *DomTree {
	if len(fn.Blocks) == 0 {
		return &DomTree{fn: fn}
	}
	g := CFG(fn)
	return &DomTree{fn: fn, idom: g.Dominators(0), reachable: g.Reachable(0)}
}

// Idom returns the immediate dominator of b, nil for the entry block and for unreachable blocks
func (d *DomTree) Idom(b *BasicBlock) *BasicBlock {
	if i := d.idom[b.Index]; i >= 0 {
		return d.fn.Blocks[i]
	}
	return nil
}

// Reachable returns true if b is reachable from the entry block
func (d *DomTree) Reachable(b *BasicBlock) bool {
	return d.reachable[b.Index]
}

// Dominates returns true if every path from the entry to b goes through a. A block dominates itself. Unreachable
// blocks are only dominated by themselves.
func (d *DomTree) Dominates(a, b *BasicBlock) bool {
	if a == b {
		return true
	}
	if !d.reachable[b.Index] {
		return false
	}
	for cur := d.idom[b.Index]; cur >= 0; cur = d.idom[cur] {
		if cur == a.Index {
			return true
		}
	}
	return false
}

// DominatedBlocks returns the blocks dominated by a, a included, in block order
func (d *DomTree) DominatedBlocks(a *BasicBlock) []*BasicBlock {
	var blocks []*BasicBlock
	for _, b := range d.fn.Blocks {
		if d.Dominates(a, b) {
			blocks = append(blocks, b)
		}
	}
	return blocks
}
