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

// Package instrument contains the IR transformations inserting the operations of the tagging primitive: stack
// segments for unsafe stack allocations, and pointer signing and authentication.
//
// The transformations only consume the results of the analyses; they never run an analysis on a function they have
// started to modify.
package instrument

import (
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
	"github.com/awslabs/ar-go-memsafety/analysis/stacksafety"
)

// GuardSlotSize is the size in bytes of the untagged slot inserted at the entry of functions whose first stack
// allocation is not tagged
const GuardSlotSize = 16

// StackReport summarizes the stack instrumentation of a function
type StackReport struct {
	// Segments are the segment creations, one per unsafe stack allocation
	Segments []*ir.Intrinsic
	// Frees counts the segment releases inserted
	Frees int
	// Guard is the guard slot, nil if none was needed
	Guard *ir.Alloca
	// Unterminated lists the blocks for which no segment release could be placed
	Unterminated []*ir.BasicBlock
}

// InstrumentStack moves the allocations classified unsafe by verdicts into tagged segments. Each segment is created
// right after its allocation and released before every return or tail call dominated by the allocation.
func InstrumentStack(fn *ir.Function, verdicts *stacksafety.Result, granule uint64,
	logger *config.LogGroup) (*StackReport, error) {
	if granule == 0 || granule&(granule-1) != 0 {
		return nil, fmt.Errorf("granule size %d is not a power of two", granule)
	}
	report := &StackReport{}
	unsafe := verdicts.Unsafe()
	if len(unsafe) == 0 {
		return report, nil
	}
	dom := ir.Dominators(fn)

	if first := verdicts.Allocas[0]; !verdicts.IsUnsafe(first) {
		report.Guard = ir.NewBuilderAtFront(fn.Entry()).Alloca("guard", ir.I8,
			ir.NewConstInt(ir.I64, GuardSlotSize), GuardSlotSize)
		logger.Debugf("%s: inserted guard slot before %s\n", fn.Name(), first.Ref())
	}

	for _, a := range unsafe {
		if a.Block() == nil || a.Parent() != fn {
			return nil, fmt.Errorf("%s is not in function %s", a.Ref(), fn.Name())
		}
		if a.Align < int64(granule) {
			a.Align = int64(granule)
		}
		size := segmentSize(a, int64(granule))
		seg := ir.NewBuilderAfter(a).Intrinsic(a.Name()+".tagged", ir.SegmentNew, a, size)
		ir.ReplaceAllUsesWith(a, seg, seg)
		report.Segments = append(report.Segments, seg)
		logger.Debugf("%s: %s\n", fn.Name(), seg)

		for _, b := range dom.DominatedBlocks(a.Block()) {
			term := lang.RealTerminator(b)
			if term == nil {
				logger.Warnf("%s: block %s has no terminator, segment %s is not released on this path\n",
					fn.Name(), b.Name, seg.Ref())
				report.Unterminated = append(report.Unterminated, b)
				continue
			}
			if !lang.IsReturnOrTailCall(term) {
				continue
			}
			ir.NewBuilderBefore(term).Intrinsic("", ir.SegmentFree, seg, a, size)
			report.Frees++
		}
	}
	return report, nil
}

// segmentSize returns the size of the allocation rounded up to the granule. For allocations with a dynamic count,
// the computation is emitted before the allocation.
func segmentSize(a *ir.Alloca, granule int64) ir.Value {
	elemSize := ir.SizeOf(a.Elem)
	if a.Count == nil {
		return ir.NewConstInt(ir.I64, roundUp(elemSize, granule))
	}
	if n, ok := ir.ConstValue(a.Count); ok {
		return ir.NewConstInt(ir.I64, roundUp(elemSize*n, granule))
	}
	b := ir.NewBuilderBefore(a)
	count := a.Count
	if t, ok := count.Type().(*ir.IntType); ok && t.Bits < 64 {
		count = b.Cast("", ir.ZExt, count, ir.I64)
	}
	bytes := b.BinOp("", "mul", count, ir.NewConstInt(ir.I64, elemSize))
	padded := b.BinOp("", "add", bytes, ir.NewConstInt(ir.I64, granule-1))
	return b.BinOp(a.Name()+".size", "and", padded, ir.NewConstInt(ir.I64, ^(granule-1)))
}

func roundUp(n, granule int64) int64 {
	return (n + granule - 1) &^ (granule - 1)
}
