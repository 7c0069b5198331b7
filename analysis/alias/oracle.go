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

// Package alias implements a conservative alias oracle over the IR and the computation of alias closures.
//
// Every answer of the oracle over-approximates: when it cannot prove that two pointers refer to distinct memory,
// it answers MayAlias.
package alias

import (
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
)

// Result is the answer of an alias query
type Result int

const (
	// NoAlias means the two pointers never refer to the same memory
	NoAlias Result = iota
	// MayAlias means the two pointers may refer to the same memory
	MayAlias
	// MustAlias means the two pointers always refer to the same address
	MustAlias
)

func (r Result) String() string {
	switch r {
	case NoAlias:
		return "NoAlias"
	case MayAlias:
		return "MayAlias"
	case MustAlias:
		return "MustAlias"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Oracle answers alias queries between two values of the same function
type Oracle interface {
	Alias(a, b ir.Value) Result
}

// Basic is an oracle reasoning on the underlying objects of pointers: distinct stack slots, globals and functions
// never alias each other, and a stack slot whose address is never captured does not alias pointers obtained by
// other means (parameters, loads, call results).
//
// Basic memoizes capture information per stack slot: it must not be reused after the IR has been modified.
type Basic struct {
	captured map[*ir.Alloca]bool
}

// NewBasic returns a new basic oracle
func NewBasic() *Basic {
	return &Basic{captured: map[*ir.Alloca]bool{}}
}

// Alias implements the Oracle interface
func (o *Basic) Alias(a, b ir.Value) Result {
	if !ir.IsPointer(a.Type()) || !ir.IsPointer(b.Type()) {
		return NoAlias
	}
	if a == b {
		return MustAlias
	}
	if isNull(a) || isNull(b) {
		return NoAlias
	}
	for _, x := range UnderlyingObjects(a) {
		for _, y := range UnderlyingObjects(b) {
			if o.objectsMayAlias(x, y) {
				return MayAlias
			}
		}
	}
	return NoAlias
}

func isNull(v ir.Value) bool {
	_, ok := v.(*ir.ConstNull)
	return ok
}

// isIdentifiedObject returns true for values that denote a distinct memory object
func isIdentifiedObject(v ir.Value) bool {
	switch v.(type) {
	case *ir.Alloca, *ir.Global, *ir.Function:
		return true
	}
	return false
}

func (o *Basic) objectsMayAlias(x, y ir.Value) bool {
	if x == y {
		return true
	}
	if isNull(x) || isNull(y) {
		return false
	}
	xid, yid := isIdentifiedObject(x), isIdentifiedObject(y)
	if xid && yid {
		return false
	}
	if a, ok := x.(*ir.Alloca); ok && !yid {
		return o.IsCaptured(a)
	}
	if a, ok := y.(*ir.Alloca); ok && !xid {
		return o.IsCaptured(a)
	}
	return true
}

// UnderlyingObjects returns the values a pointer may be derived from by address computations, pointer casts,
// selects and phi nodes.
func UnderlyingObjects(v ir.Value) []ir.Value {
	var objects []ir.Value
	visited := map[ir.Value]bool{v: true}
	worklist := []ir.Value{v}
	push := func(x ir.Value) {
		if x != nil && !visited[x] {
			visited[x] = true
			worklist = append(worklist, x)
		}
	}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		switch cur := cur.(type) {
		case *ir.ElemAddr:
			push(cur.Base)
		case *ir.Cast:
			if cur.IsPointerToPointer() {
				push(cur.X)
			} else {
				objects = append(objects, cur)
			}
		case *ir.Select:
			push(cur.True)
			push(cur.False)
		case *ir.Phi:
			for _, e := range cur.Edges {
				push(e)
			}
		default:
			objects = append(objects, cur)
		}
	}
	return objects
}

// IsCaptured returns true if the address of the stack slot, or of any pointer derived from it, may be observed
// outside of loads and stores through it: stored in memory, passed to a call, converted to an integer, returned, or
// used in any way the oracle does not model.
func (o *Basic) IsCaptured(a *ir.Alloca) bool {
	if c, ok := o.captured[a]; ok {
		return c
	}
	c := isCaptured(a)
	o.captured[a] = c
	return c
}

//gocyclo:ignore
func isCaptured(a *ir.Alloca) bool {
	visited := map[ir.Value]bool{a: true}
	worklist := []ir.Value{a}
	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, user := range v.Referrers() {
			derived := ir.Value(nil)
			switch user := user.(type) {
			case *ir.Load:
				// reading through the pointer does not capture it
			case *ir.Store:
				if user.Val == v {
					return true
				}
			case *ir.ElemAddr:
				if user.Base != v {
					return true
				}
				derived = user
			case *ir.Cast:
				if !user.IsPointerToPointer() {
					return true
				}
				derived = user
			case *ir.Select:
				if user.Cond == v {
					return true
				}
				derived = user
			case *ir.Phi:
				derived = user
			case *ir.AtomicRMW:
				if user.Val == v {
					return true
				}
			case *ir.CmpXchg:
				if user.Old == v || user.New == v {
					return true
				}
			case *ir.Intrinsic:
				switch user.ID {
				case ir.LifetimeStart, ir.LifetimeEnd, ir.MemCpy, ir.MemSet:
				default:
					return true
				}
			case *ir.DebugValue, *ir.Fence:
			case *ir.Call, *ir.Ret, *ir.Extract, *ir.BinOp, *ir.Alloca, *ir.CondBr:
				return true
			case *ir.Br, *ir.Unreachable:
			default:
				panic(fmt.Sprintf("unexpected instruction %T", user))
			}
			if derived != nil && !visited[derived] {
				visited[derived] = true
				worklist = append(worklist, derived)
			}
		}
	}
	return false
}
