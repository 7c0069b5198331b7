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

// A Builder creates instructions at an insertion point. After each insertion, the insertion point moves after the
// new instruction, so that consecutive calls emit instructions in order.
type Builder struct {
	block *BasicBlock
	index int
}

// NewBuilderAtEnd returns a builder appending instructions to b
func NewBuilderAtEnd(b *BasicBlock) *Builder {
	return &Builder{block: b, index: len(b.Instrs)}
}

// NewBuilderAtFront returns a builder inserting instructions at the beginning of b
func NewBuilderAtFront(b *BasicBlock) *Builder {
	return &Builder{block: b, index: 0}
}

// NewBuilderBefore returns a builder inserting instructions immediately before instr
func NewBuilderBefore(instr Instruction) *Builder {
	return &Builder{block: instr.Block(), index: IndexOf(instr)}
}

// NewBuilderAfter returns a builder inserting instructions immediately after instr
func NewBuilderAfter(instr Instruction) *Builder {
	return &Builder{block: instr.Block(), index: IndexOf(instr) + 1}
}

// Block returns the block of the insertion point
func (b *Builder) Block() *BasicBlock { return b.block }

func (b *Builder) insert(instr Instruction) {
	insertAt(b.block, b.index, instr)
	b.index++
}

func reg(name string, t Type) register {
	return register{node: node{name: name, typ: t}}
}

// Alloca emits a stack allocation of count elements of type elem. count may be nil for a single element.
func (b *Builder) Alloca(name string, elem Type, count Value, align int64) *Alloca {
	if align == 0 {
		align = AlignOf(elem)
	}
	i := &Alloca{register: reg(name, Ptr), Elem: elem, Count: count, Align: align}
	b.insert(i)
	return i
}

// Load emits a load of a value of type t at addr
func (b *Builder) Load(name string, t Type, addr Value) *Load {
	i := &Load{register: reg(name, t), Addr: addr}
	b.insert(i)
	return i
}

// Store emits a store of val at addr
func (b *Builder) Store(val Value, addr Value) *Store {
	i := &Store{Val: val, Addr: addr}
	b.insert(i)
	return i
}

// Cast emits a conversion of x to type t
func (b *Builder) Cast(name string, op CastOp, x Value, t Type) *Cast {
	i := &Cast{register: reg(name, t), Op: op, X: x}
	b.insert(i)
	return i
}

// Select emits a select between t and f
func (b *Builder) Select(name string, cond, t, f Value) *Select {
	i := &Select{register: reg(name, t.Type()), Cond: cond, True: t, False: f}
	b.insert(i)
	return i
}

// Phi emits a phi node of type t. Edges are added with AddIncoming.
func (b *Builder) Phi(name string, t Type) *Phi {
	i := &Phi{register: reg(name, t)}
	b.insert(i)
	return i
}

// AddIncoming adds the incoming value v from block pred to the phi
func (i *Phi) AddIncoming(v Value, pred *BasicBlock) {
	i.Edges = append(i.Edges, v)
	i.Preds = append(i.Preds, pred)
	if i.block != nil && v != nil {
		v.addReferrer(i)
	}
}

// ElemAddr emits an address computation into an aggregate of type source located at base
func (b *Builder) ElemAddr(name string, source Type, base Value, indices ...Value) *ElemAddr {
	i := &ElemAddr{register: reg(name, Ptr), Base: base, Source: source, Indices: indices}
	b.insert(i)
	return i
}

// Extract emits a read of field index of the aggregate x
func (b *Builder) Extract(name string, t Type, x Value, index int) *Extract {
	i := &Extract{register: reg(name, t), X: x, Index: index}
	b.insert(i)
	return i
}

// BinOp emits the integer operation op
func (b *Builder) BinOp(name string, op string, x, y Value) *BinOp {
	i := &BinOp{register: reg(name, x.Type()), Op: op, X: x, Y: y}
	b.insert(i)
	return i
}

// Call emits a direct call to fn
func (b *Builder) Call(name string, fn *Function, args ...Value) *Call {
	return b.CallValue(name, fn.Sig.Result, fn, args...)
}

// TailCall emits a direct call to fn marked as a tail call
func (b *Builder) TailCall(name string, fn *Function, args ...Value) *Call {
	c := b.Call(name, fn, args...)
	c.Tail = true
	return c
}

// CallValue emits a call to callee returning a value of type result. The call is indirect unless callee is a
// *Function.
func (b *Builder) CallValue(name string, result Type, callee Value, args ...Value) *Call {
	i := &Call{register: reg(name, result), Callee: callee, Args: args}
	b.insert(i)
	return i
}

// Intrinsic emits a call to the intrinsic id
func (b *Builder) Intrinsic(name string, id IntrinsicID, args ...Value) *Intrinsic {
	i := &Intrinsic{register: reg(name, id.ResultType()), ID: id, Args: args}
	b.insert(i)
	return i
}

// AtomicRMW emits an atomic read-modify-write
func (b *Builder) AtomicRMW(name string, op string, addr, val Value) *AtomicRMW {
	i := &AtomicRMW{register: reg(name, val.Type()), Op: op, Addr: addr, Val: val}
	b.insert(i)
	return i
}

// CmpXchg emits an atomic compare-and-exchange
func (b *Builder) CmpXchg(name string, addr, old, repl Value) *CmpXchg {
	i := &CmpXchg{register: reg(name, old.Type()), Addr: addr, Old: old, New: repl}
	b.insert(i)
	return i
}

// Fence emits a memory barrier
func (b *Builder) Fence() *Fence {
	i := &Fence{}
	b.insert(i)
	return i
}

// DebugValue emits a debug marker for x
func (b *Builder) DebugValue(x Value, variable string) *DebugValue {
	i := &DebugValue{X: x, Var: variable}
	b.insert(i)
	return i
}

// Br emits an unconditional branch
func (b *Builder) Br(target *BasicBlock) *Br {
	i := &Br{Target: target}
	b.insert(i)
	return i
}

// CondBr emits a conditional branch
func (b *Builder) CondBr(cond Value, then, els *BasicBlock) *CondBr {
	i := &CondBr{Cond: cond, Then: then, Else: els}
	b.insert(i)
	return i
}

// Ret emits a return of the results
func (b *Builder) Ret(results ...Value) *Ret {
	i := &Ret{Results: results}
	b.insert(i)
	return i
}

// Unreachable emits an unreachable marker
func (b *Builder) Unreachable() *Unreachable {
	i := &Unreachable{}
	b.insert(i)
	return i
}
