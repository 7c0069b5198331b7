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

// An Instruction is an element of a basic block.
//
// The set of instructions is closed. Code that needs to distinguish instructions does so with a type switch over
// the concrete types of this file, and panics on unexpected types:
//
//	*Alloca *Load *Store *Cast *Select *Phi *ElemAddr *Extract *BinOp *Call *Intrinsic
//	*AtomicRMW *CmpXchg *Fence *DebugValue *Br *CondBr *Ret *Unreachable
//
// Instructions producing a result also implement Value.
type Instruction interface {
	// String returns the textual form of the instruction
	String() string

	// Block returns the basic block containing the instruction, nil if the instruction is detached
	Block() *BasicBlock

	// Parent returns the function containing the instruction, nil if the instruction is detached
	Parent() *Function

	// Operands returns pointers to the operand slots of the instruction. Slots must only be modified through
	// SetOperand, which maintains the referrers of the values.
	Operands() []*Value

	setBlock(*BasicBlock)
}

type anInstruction struct {
	block *BasicBlock
}

func (a *anInstruction) Block() *BasicBlock { return a.block }

func (a *anInstruction) Parent() *Function {
	if a.block == nil {
		return nil
	}
	return a.block.parent
}

func (a *anInstruction) setBlock(b *BasicBlock) { a.block = b }

// register is embedded by the instructions producing a value
type register struct {
	anInstruction
	node
}

func (r *register) Ref() string { return "%" + r.name }

// Alloca allocates a stack slot of Count elements of type Elem. The result is the address of the slot.
type Alloca struct {
	register
	Elem  Type
	Count Value // nil for a single element
	Align int64
}

// Load reads a value of the instruction's type at Addr
type Load struct {
	register
	Addr     Value
	Volatile bool
}

// Store writes Val at Addr
type Store struct {
	anInstruction
	Val  Value
	Addr Value
}

// CastOp is the conversion performed by a Cast
type CastOp int

const (
	// Bitcast reinterprets a value without changing its bits
	Bitcast CastOp = iota
	// AddrSpaceCast converts a pointer between address spaces
	AddrSpaceCast
	// PtrToInt converts a pointer into an integer
	PtrToInt
	// IntToPtr converts an integer into a pointer
	IntToPtr
	// ZExt zero-extends an integer
	ZExt
	// SExt sign-extends an integer
	SExt
	// Trunc truncates an integer
	Trunc
)

var castOpNames = [...]string{"bitcast", "addrspacecast", "ptrtoint", "inttoptr", "zext", "sext", "trunc"}

func (op CastOp) String() string { return castOpNames[op] }

// ParseCastOp returns the cast operation with the given name
func ParseCastOp(s string) (CastOp, bool) {
	for i, n := range castOpNames {
		if n == s {
			return CastOp(i), true
		}
	}
	return 0, false
}

// Cast converts X to the type of the instruction
type Cast struct {
	register
	Op CastOp
	X  Value
}

// IsPointerToPointer returns true if the cast converts a pointer into another pointer
func (c *Cast) IsPointerToPointer() bool {
	return IsPointer(c.X.Type()) && IsPointer(c.Type())
}

// Select evaluates to True if Cond holds, False otherwise
type Select struct {
	register
	Cond  Value
	True  Value
	False Value
}

// Phi merges Edges[i] when control comes from Preds[i]
type Phi struct {
	register
	Edges []Value
	Preds []*BasicBlock
}

// ElemAddr computes the address of an element of an aggregate of type Source located at Base
type ElemAddr struct {
	register
	Base    Value
	Source  Type
	Indices []Value
}

// Extract reads the field Index of the aggregate value X
type Extract struct {
	register
	X     Value
	Index int
}

// BinOp is an arithmetic or logic operation on integers
type BinOp struct {
	register
	Op string
	X  Value
	Y  Value
}

// Call calls Callee with Args. The callee is a *Function for direct calls, any other pointer value for indirect
// calls. A tail call is marked with Tail.
type Call struct {
	register
	Callee Value
	Args   []Value
	Tail   bool
}

// StaticCallee returns the called function for direct calls, nil for indirect calls
func (c *Call) StaticCallee() *Function {
	f, _ := c.Callee.(*Function)
	return f
}

// IsIndirect returns true if the callee is not statically known
func (c *Call) IsIndirect() bool {
	return c.StaticCallee() == nil
}

// IntrinsicID identifies an intrinsic operation
type IntrinsicID int

const (
	// LifetimeStart marks the beginning of the live range of a stack slot
	LifetimeStart IntrinsicID = iota
	// LifetimeEnd marks the end of the live range of a stack slot
	LifetimeEnd
	// MemCpy copies memory: (dst, src, len)
	MemCpy
	// MemSet fills memory: (dst, byte, len)
	MemSet
	// SegmentNew tags a memory region: (ptr, size) -> tagged ptr
	SegmentNew
	// SegmentFree untags a memory region: (tagged ptr, ptr, size)
	SegmentFree
	// PointerSign signs a pointer: (ptr, key) -> signed ptr
	PointerSign
	// PointerAuth authenticates a signed pointer: (signed ptr, key) -> ptr
	PointerAuth
)

var intrinsicNames = [...]string{
	"lifetime.start",
	"lifetime.end",
	"memcpy",
	"memset",
	"memsafety.segment.new",
	"memsafety.segment.free",
	"memsafety.pointer.sign",
	"memsafety.pointer.auth",
}

func (id IntrinsicID) String() string { return intrinsicNames[id] }

// ParseIntrinsicID returns the intrinsic with the given name
func ParseIntrinsicID(s string) (IntrinsicID, bool) {
	for i, n := range intrinsicNames {
		if n == s {
			return IntrinsicID(i), true
		}
	}
	return 0, false
}

// IsMemIntrinsic returns true for the intrinsics reading or writing memory ranges
func (id IntrinsicID) IsMemIntrinsic() bool {
	return id == MemCpy || id == MemSet
}

// ResultType returns the type of the value produced by the intrinsic
func (id IntrinsicID) ResultType() Type {
	switch id {
	case SegmentNew, PointerSign, PointerAuth:
		return Ptr
	default:
		return Void
	}
}

// Keys of the pointer signing intrinsics
const (
	// KeyCode signs code pointers
	KeyCode = 0
	// KeyData signs data pointers
	KeyData = 1
)

// Intrinsic is a call to an operation of the tagging primitive or to a compiler builtin
type Intrinsic struct {
	register
	ID   IntrinsicID
	Args []Value
}

// AtomicRMW atomically applies Op to the value at Addr with Val, producing the old value
type AtomicRMW struct {
	register
	Op   string
	Addr Value
	Val  Value
}

// CmpXchg atomically replaces the value at Addr by New if it equals Old, producing the old value
type CmpXchg struct {
	register
	Addr Value
	Old  Value
	New  Value
}

// Fence is a memory barrier
type Fence struct {
	anInstruction
}

// DebugValue associates the source variable Var with X. It has no effect on execution.
type DebugValue struct {
	anInstruction
	X   Value
	Var string
}

// Br jumps to Target
type Br struct {
	anInstruction
	Target *BasicBlock
}

// CondBr jumps to Then if Cond holds, Else otherwise
type CondBr struct {
	anInstruction
	Cond Value
	Then *BasicBlock
	Else *BasicBlock
}

// Ret returns from the function
type Ret struct {
	anInstruction
	Results []Value
}

// Unreachable marks a point that execution never reaches
type Unreachable struct {
	anInstruction
}

func (i *Alloca) Operands() []*Value {
	if i.Count == nil {
		return nil
	}
	return []*Value{&i.Count}
}

func (i *Load) Operands() []*Value   { return []*Value{&i.Addr} }
func (i *Store) Operands() []*Value  { return []*Value{&i.Val, &i.Addr} }
func (i *Cast) Operands() []*Value   { return []*Value{&i.X} }
func (i *Select) Operands() []*Value { return []*Value{&i.Cond, &i.True, &i.False} }
func (i *Phi) Operands() []*Value    { return slots(i.Edges) }

func (i *ElemAddr) Operands() []*Value {
	return append([]*Value{&i.Base}, slots(i.Indices)...)
}

func (i *Extract) Operands() []*Value { return []*Value{&i.X} }
func (i *BinOp) Operands() []*Value   { return []*Value{&i.X, &i.Y} }

func (i *Call) Operands() []*Value {
	return append([]*Value{&i.Callee}, slots(i.Args)...)
}

func (i *Intrinsic) Operands() []*Value   { return slots(i.Args) }
func (i *AtomicRMW) Operands() []*Value   { return []*Value{&i.Addr, &i.Val} }
func (i *CmpXchg) Operands() []*Value     { return []*Value{&i.Addr, &i.Old, &i.New} }
func (i *Fence) Operands() []*Value       { return nil }
func (i *DebugValue) Operands() []*Value  { return []*Value{&i.X} }
func (i *Br) Operands() []*Value          { return nil }
func (i *CondBr) Operands() []*Value      { return []*Value{&i.Cond} }
func (i *Ret) Operands() []*Value         { return slots(i.Results) }
func (i *Unreachable) Operands() []*Value { return nil }

func slots(vs []Value) []*Value {
	s := make([]*Value, len(vs))
	for i := range vs {
		s[i] = &vs[i]
	}
	return s
}

// IsTerminator returns true if the instruction ends a basic block
func IsTerminator(i Instruction) bool {
	switch i.(type) {
	case *Br, *CondBr, *Ret, *Unreachable:
		return true
	}
	return false
}

// Successors returns the blocks control may flow to after the terminator i
func Successors(i Instruction) []*BasicBlock {
	switch i := i.(type) {
	case *Br:
		return []*BasicBlock{i.Target}
	case *CondBr:
		if i.Then == i.Else {
			return []*BasicBlock{i.Then}
		}
		return []*BasicBlock{i.Then, i.Else}
	}
	return nil
}

// AsValue returns the instruction as a value, if it produces one
func AsValue(i Instruction) (Value, bool) {
	v, ok := i.(Value)
	if !ok || IsVoid(v.Type()) {
		return nil, false
	}
	return v, true
}
