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

// Package stacksafety classifies the stack allocations of a function as safe or unsafe.
//
// An allocation is safe when all the consumers reachable in its use graph are individually safe: loads, stores,
// atomics, phi nodes, pointer-to-pointer casts, selects, fences and debug markers.
// Everything else (passing the address to a call, indexing into the slot, converting it to an integer, branching or
// returning it) makes the allocation unsafe, and the first unsafe consumer stops the traversal.
package stacksafety

import (
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
)

// Verdict is the classification of a stack allocation
type Verdict int

const (
	// Safe allocations can stay in the untagged stack frame
	Safe Verdict = iota
	// Unsafe allocations must be moved to a tagged segment
	Unsafe
)

func (v Verdict) String() string {
	if v == Safe {
		return "safe"
	}
	return "unsafe"
}

// Reason explains an unsafe verdict: the consumer that was classified unsafe and the rule that applied
type Reason struct {
	Consumer ir.Instruction
	Rule     string
}

func (r Reason) String() string {
	if r.Consumer == nil {
		return r.Rule
	}
	return fmt.Sprintf("%s: %s", r.Rule, lang.FmtInstr(r.Consumer))
}

// Result holds the verdicts of all the stack allocations of a function
type Result struct {
	// Allocas lists the stack allocations of the function in program order
	Allocas  []*ir.Alloca
	Verdicts map[*ir.Alloca]Verdict
	Reasons  map[*ir.Alloca]Reason
}

// IsUnsafe returns true if the allocation was classified unsafe
func (r *Result) IsUnsafe(a *ir.Alloca) bool {
	return r.Verdicts[a] == Unsafe
}

// Unsafe returns the unsafe allocations in program order
func (r *Result) Unsafe() []*ir.Alloca {
	var unsafe []*ir.Alloca
	for _, a := range r.Allocas {
		if r.IsUnsafe(a) {
			unsafe = append(unsafe, a)
		}
	}
	return unsafe
}

// NumSafe returns the number of safe allocations
func (r *Result) NumSafe() int {
	return len(r.Allocas) - len(r.Unsafe())
}

// AnalyzeFunction classifies every stack allocation of fn. The IR is not modified.
func AnalyzeFunction(fn *ir.Function, logger *config.LogGroup) *Result {
	res := &Result{
		Allocas:  fn.Allocas(),
		Verdicts: map[*ir.Alloca]Verdict{},
		Reasons:  map[*ir.Alloca]Reason{},
	}
	for _, a := range res.Allocas {
		verdict, reason := Analyze(a)
		res.Verdicts[a] = verdict
		if verdict == Unsafe {
			res.Reasons[a] = reason
			logger.Debugf("%s: %s is unsafe (%s)\n", fn.Name(), a.Ref(), reason)
		} else {
			logger.Tracef("%s: %s is safe\n", fn.Name(), a.Ref())
		}
	}
	return res
}

type use struct {
	value    ir.Value
	consumer ir.Instruction
}

// Analyze classifies a single stack allocation by traversing its use graph. The reason is only meaningful for unsafe
// verdicts.
func Analyze(a *ir.Alloca) (Verdict, Reason) {
	visited := map[ir.Instruction]bool{}
	var worklist []use
	push := func(v ir.Value) {
		for _, user := range v.Referrers() {
			worklist = append(worklist, use{v, user})
		}
	}
	push(a)
	for len(worklist) > 0 {
		u := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[u.consumer] {
			continue
		}
		visited[u.consumer] = true
		safe, propagate, rule := classify(u.value, u.consumer)
		if !safe {
			return Unsafe, Reason{Consumer: u.consumer, Rule: rule}
		}
		if propagate {
			push(u.consumer.(ir.Value))
		}
	}
	return Safe, Reason{}
}

// classify returns whether the consumer is safe for the tracked pointer v, and whether the consumer's own result must
// be tracked.
//
//gocyclo:ignore
func classify(v ir.Value, consumer ir.Instruction) (safe bool, propagate bool, rule string) {
	switch c := consumer.(type) {
	case *ir.Cast:
		if c.IsPointerToPointer() {
			return true, true, ""
		}
		return false, false, "cast to or from a non-pointer type"
	case *ir.Select:
		if c.Cond == v {
			return false, false, "used as a condition"
		}
		return true, true, ""
	case *ir.Phi:
		return true, true, ""
	case *ir.Load, *ir.Store, *ir.AtomicRMW, *ir.CmpXchg:
		// storing the address itself is left to the capture tracking of the alias oracle
		return true, false, ""
	case *ir.Fence, *ir.DebugValue:
		return true, false, ""
	case *ir.Intrinsic:
		if ir.IsVoid(c.Type()) && !c.ID.IsMemIntrinsic() {
			return true, false, ""
		}
		return false, false, "passed to intrinsic " + c.ID.String()
	case *ir.Call:
		if c.Callee == v {
			return false, false, "used as call target"
		}
		return false, false, "passed to call"
	case *ir.ElemAddr:
		return false, false, "indexed address computation"
	case *ir.Extract, *ir.BinOp, *ir.Alloca:
		return false, false, "unsupported consumer"
	case *ir.Br, *ir.CondBr, *ir.Ret, *ir.Unreachable:
		return false, false, "used by terminator"
	default:
		panic(fmt.Sprintf("unexpected instruction %T", consumer))
	}
}
