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
	"fmt"

	"golang.org/x/exp/slices"
)

// IndexOf returns the position of instr in its block, or -1 if it is detached
func IndexOf(instr Instruction) int {
	b := instr.Block()
	if b == nil {
		return -1
	}
	return slices.Index(b.Instrs, instr)
}

// insertAt inserts the detached instruction instr at position i of block b, naming it if it produces a value and
// registering it as a referrer of its operands.
func insertAt(b *BasicBlock, i int, instr Instruction) {
	if instr.Block() != nil {
		panic(fmt.Sprintf("instruction %q is already in block %s", instr, instr.Block().Name))
	}
	if r, ok := instr.(interface{ setName(string) }); ok {
		if v := instr.(Value); !IsVoid(v.Type()) {
			r.setName(b.parent.uniqueName(v.Name()))
		}
	}
	b.Instrs = slices.Insert(b.Instrs, i, instr)
	instr.setBlock(b)
	for _, op := range instr.Operands() {
		if *op != nil {
			(*op).addReferrer(instr)
		}
	}
}

func (r *register) setName(name string) { r.name = name }

// Append adds the detached instruction instr at the end of the block
func (b *BasicBlock) Append(instr Instruction) {
	insertAt(b, len(b.Instrs), instr)
}

// InsertBefore inserts the detached instruction instr immediately before pos
func InsertBefore(pos Instruction, instr Instruction) {
	i := IndexOf(pos)
	if i < 0 {
		panic(fmt.Sprintf("cannot insert before detached instruction %q", pos))
	}
	insertAt(pos.Block(), i, instr)
}

// InsertAfter inserts the detached instruction instr immediately after pos
func InsertAfter(pos Instruction, instr Instruction) {
	i := IndexOf(pos)
	if i < 0 {
		panic(fmt.Sprintf("cannot insert after detached instruction %q", pos))
	}
	insertAt(pos.Block(), i+1, instr)
}

// Erase removes instr from its block. The result of instr must not have referrers anymore.
func Erase(instr Instruction) {
	if v, ok := instr.(Value); ok && len(v.Referrers()) > 0 {
		panic(fmt.Sprintf("cannot erase %q: its result is still used by %q", instr, v.Referrers()[0]))
	}
	i := IndexOf(instr)
	if i < 0 {
		panic(fmt.Sprintf("cannot erase detached instruction %q", instr))
	}
	b := instr.Block()
	b.Instrs = slices.Delete(b.Instrs, i, i+1)
	instr.setBlock(nil)
	for _, op := range instr.Operands() {
		if *op != nil {
			(*op).removeReferrer(instr)
		}
	}
}

// SetOperand replaces the value in operand slot k of instr by v, maintaining the referrers of the old and new
// operand.
func SetOperand(instr Instruction, k int, v Value) {
	ops := instr.Operands()
	old := *ops[k]
	*ops[k] = v
	if instr.Block() == nil {
		return
	}
	if old != nil && !usesValue(instr, old) {
		old.removeReferrer(instr)
	}
	if v != nil {
		v.addReferrer(instr)
	}
}

// ReplaceAllUsesWith redirects every use of old to repl, except the uses by the instructions in except
func ReplaceAllUsesWith(old Value, repl Value, except ...Instruction) {
	users := append([]Instruction(nil), old.Referrers()...)
	for _, u := range users {
		if slices.Contains(except, u) {
			continue
		}
		for k, op := range u.Operands() {
			if *op == old {
				SetOperand(u, k, repl)
			}
		}
	}
}

// OperandIndex returns the index of the first operand slot of instr holding v, or -1
func OperandIndex(instr Instruction, v Value) int {
	for k, op := range instr.Operands() {
		if *op == v {
			return k
		}
	}
	return -1
}

func usesValue(instr Instruction, v Value) bool {
	return OperandIndex(instr, v) >= 0
}
