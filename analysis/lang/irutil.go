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

// Package lang provides functions to operate on the IR of a program: iteration over instructions, terminators,
// call arguments and formatting.
package lang

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/internal/formatutil"
)

// LastInstr returns the last instruction in a block. There is always a last instruction for a reachable block.
// Returns nil for an empty block (a block can be empty if it is non-reachable)
func LastInstr(block *ir.BasicBlock) ir.Instruction {
	if len(block.Instrs) == 0 {
		return nil
	}
	return block.Instrs[len(block.Instrs)-1]
}

// FirstInstr returns the first instruction in a block. There is always a first instruction for a reachable block.
// Returns nil for an empty block (a block can be empty if it is non-reachable)
func FirstInstr(block *ir.BasicBlock) ir.Instruction {
	if len(block.Instrs) == 0 {
		return nil
	}
	return block.Instrs[0]
}

// RealTerminator returns the instruction ending the block once trailing unreachable markers are stripped: for each
// unreachable marker at the end of the block, the previous instruction that is not a debug marker is considered
// instead. Returns nil if nothing is left.
func RealTerminator(block *ir.BasicBlock) ir.Instruction {
	i := len(block.Instrs) - 1
	for i >= 0 {
		if _, ok := block.Instrs[i].(*ir.Unreachable); !ok {
			return block.Instrs[i]
		}
		i--
		for i >= 0 {
			if _, isDbg := block.Instrs[i].(*ir.DebugValue); !isDbg {
				break
			}
			i--
		}
	}
	return nil
}

// IsReturnOrTailCall returns true if instr leaves the function: a return or a tail call
func IsReturnOrTailCall(instr ir.Instruction) bool {
	switch instr := instr.(type) {
	case *ir.Ret:
		return true
	case *ir.Call:
		return instr.Tail
	}
	return false
}

// IterateInstructions calls f on every instruction of the function, in block order
func IterateInstructions(function *ir.Function, f func(instruction ir.Instruction)) {
	for _, block := range function.Blocks {
		for _, instr := range block.Instrs {
			f(instr)
		}
	}
}

// ArgIndices returns the positions at which v is passed as an argument of the call
func ArgIndices(call *ir.Call, v ir.Value) []int {
	var indices []int
	for i, arg := range call.Args {
		if arg == v {
			indices = append(indices, i)
		}
	}
	return indices
}

// PointerAccess returns the address operand of a load or store transferring a pointer, and true. It returns false
// for any other instruction.
func PointerAccess(instr ir.Instruction) (ir.Value, bool) {
	switch instr := instr.(type) {
	case *ir.Load:
		return instr.Addr, ir.IsPointer(instr.Type())
	case *ir.Store:
		return instr.Addr, ir.IsPointer(instr.Val.Type())
	}
	return nil, false
}

// ReferencedGlobals returns the globals and functions used as operands in the function, in order of first use
func ReferencedGlobals(function *ir.Function) []ir.Value {
	seen := map[ir.Value]bool{}
	var globals []ir.Value
	IterateInstructions(function, func(instr ir.Instruction) {
		for _, op := range instr.Operands() {
			switch v := (*op).(type) {
			case *ir.Global, *ir.Function:
				if !seen[v] {
					seen[v] = true
					globals = append(globals, v)
				}
			}
		}
	})
	return globals
}

// FmtInstr formats an instruction with its function and block, e.g. "f:entry: store ptr %p, ptr %x", coloring the
// location when the output is a terminal.
func FmtInstr(instr ir.Instruction) string {
	if instr == nil {
		return "<nil>"
	}
	b := instr.Block()
	if b == nil {
		return instr.String()
	}
	return fmt.Sprintf("%s %s", formatutil.Faint(fmt.Sprintf("%s:%s:", b.Parent().Name(), b.Name)), instr)
}

// FmtValue formats a value with its type, e.g. "ptr %x"
func FmtValue(v ir.Value) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s", v.Type(), v.Ref())
}

// IsRuntimeFunction returns true if the function belongs to the runtime library of the tagged allocator
func IsRuntimeFunction(function *ir.Function) bool {
	return strings.HasPrefix(function.Name(), config.RuntimePrefix)
}
