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
	"strconv"
	"strings"
)

// A Value is a typed entity of the IR: an argument, a global, a function, a constant or the result of an
// instruction.
//
// The set of implementations is closed: only the types of this package implement Value.
type Value interface {
	// Name returns the name of the value, without sigil
	Name() string

	// Type returns the type of the value. Globals and functions have pointer type.
	Type() Type

	// Ref returns the textual form of the value when used as an operand, e.g. %x, @g or 42
	Ref() string

	// Referrers returns the instructions that use the value as an operand, in order of insertion. An instruction
	// using a value several times appears once.
	Referrers() []Instruction

	addReferrer(Instruction)
	removeReferrer(Instruction)
}

// node is the shared state of all values
type node struct {
	name      string
	typ       Type
	referrers []Instruction
}

func (n *node) Name() string             { return n.name }
func (n *node) Type() Type               { return n.typ }
func (n *node) Referrers() []Instruction { return n.referrers }

func (n *node) addReferrer(i Instruction) {
	for _, r := range n.referrers {
		if r == i {
			return
		}
	}
	n.referrers = append(n.referrers, i)
}

func (n *node) removeReferrer(i Instruction) {
	for k, r := range n.referrers {
		if r == i {
			n.referrers = append(n.referrers[:k], n.referrers[k+1:]...)
			return
		}
	}
}

// An Argument is a formal parameter of a function
type Argument struct {
	node
	parent *Function
	index  int
}

// Parent returns the function of the argument
func (a *Argument) Parent() *Function { return a.parent }

// Index returns the position of the argument in the parameter list
func (a *Argument) Index() int { return a.index }

func (a *Argument) Ref() string { return "%" + a.name }

// A Global is a module level variable. As a value, it is the address of the variable.
type Global struct {
	node
	// ValueType is the type of the variable
	ValueType Type
	// Init is the initializer of the variable, nil if the global is external
	Init Value
	// Constant indicates that the variable is read-only
	Constant bool
}

func (g *Global) Ref() string { return "@" + g.name }

// A Constant is a value that does not depend on execution
type Constant interface {
	Value
	isConstant()
}

// ConstInt is an integer constant
type ConstInt struct {
	node
	Value int64
}

// ConstNull is the null pointer
type ConstNull struct {
	node
}

// Undef is an undefined value of some type
type Undef struct {
	node
}

// ConstAggregate is a constant array or struct. Elements may be constants, functions or globals.
type ConstAggregate struct {
	node
	Elems []Value
}

func (*ConstInt) isConstant()       {}
func (*ConstNull) isConstant()      {}
func (*Undef) isConstant()          {}
func (*ConstAggregate) isConstant() {}

// NewConstInt returns an integer constant of type t
func NewConstInt(t *IntType, v int64) *ConstInt {
	return &ConstInt{node: node{typ: t}, Value: v}
}

// NewConstNull returns the null pointer constant
func NewConstNull() *ConstNull {
	return &ConstNull{node: node{typ: Ptr}}
}

// NewUndef returns an undefined value of type t
func NewUndef(t Type) *Undef {
	return &Undef{node: node{typ: t}}
}

// NewConstAggregate returns an aggregate of type t (an array or a struct type) with the elements provided
func NewConstAggregate(t Type, elems ...Value) *ConstAggregate {
	return &ConstAggregate{node: node{typ: t}, Elems: elems}
}

func (c *ConstInt) Ref() string  { return strconv.FormatInt(c.Value, 10) }
func (c *ConstNull) Ref() string { return "null" }
func (c *Undef) Ref() string     { return "undef" }

func (c *ConstAggregate) Ref() string {
	s := make([]string, len(c.Elems))
	for i, e := range c.Elems {
		s[i] = typedRef(e)
	}
	if _, ok := c.typ.(*StructType); ok {
		return "{" + strings.Join(s, ", ") + "}"
	}
	return "[" + strings.Join(s, ", ") + "]"
}

// ConstValue returns the value of v and true if v is an integer constant
func ConstValue(v Value) (int64, bool) {
	if c, ok := v.(*ConstInt); ok {
		return c.Value, true
	}
	return 0, false
}

// IsConstant returns true if v is a constant
func IsConstant(v Value) bool {
	_, ok := v.(Constant)
	return ok
}

// typedRef returns the operand form of v prefixed with its type, e.g. "ptr %x"
func typedRef(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s", v.Type(), v.Ref())
}

// AllocKind is the set of allocation-kind attributes attached to a function declaration by the front end
type AllocKind uint8

const (
	// AllocKindAlloc marks a function returning newly allocated memory
	AllocKindAlloc AllocKind = 1 << iota
	// AllocKindRealloc marks a function resizing an allocation
	AllocKindRealloc
	// AllocKindFree marks a function releasing an allocation
	AllocKindFree
	// AllocKindUninitialized marks an allocation whose content is uninitialized
	AllocKindUninitialized
	// AllocKindZeroed marks an allocation whose content is zeroed
	AllocKindZeroed
	// AllocKindAligned marks an allocation taking an alignment argument
	AllocKindAligned
)

var allocKindNames = []struct {
	kind AllocKind
	name string
}{
	{AllocKindAlloc, "alloc"},
	{AllocKindRealloc, "realloc"},
	{AllocKindFree, "free"},
	{AllocKindUninitialized, "uninitialized"},
	{AllocKindZeroed, "zeroed"},
	{AllocKindAligned, "aligned"},
}

func (k AllocKind) String() string {
	var s []string
	for _, x := range allocKindNames {
		if k&x.kind != 0 {
			s = append(s, x.name)
		}
	}
	return strings.Join(s, ",")
}

// Has returns true if all the bits of x are set in k
func (k AllocKind) Has(x AllocKind) bool {
	return k&x == x
}

// ParseAllocKind parses a list of allocation-kind names
func ParseAllocKind(names []string) (AllocKind, error) {
	var k AllocKind
	for _, n := range names {
		found := false
		for _, x := range allocKindNames {
			if x.name == strings.TrimSpace(n) {
				k |= x.kind
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown allocation kind %q", n)
		}
	}
	return k, nil
}
