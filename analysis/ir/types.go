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

// A Type is the type of an IR value. Pointers are opaque: the type of the memory they point to is carried by the
// instructions accessing it.
type Type interface {
	String() string
	isType()
}

// VoidType is the type of instructions that do not produce a value
type VoidType struct{}

// IntType is a fixed width integer type
type IntType struct {
	Bits int
}

// PointerType is the opaque pointer type
type PointerType struct{}

// ArrayType is a fixed length array of Elem
type ArrayType struct {
	Elem Type
	Len  int64
}

// StructType is a sequence of fields laid out with natural alignment
type StructType struct {
	Fields []Type
}

// FuncType is the signature of a function
type FuncType struct {
	Params   []Type
	Result   Type
	Variadic bool
}

func (*VoidType) isType()    {}
func (*IntType) isType()     {}
func (*PointerType) isType() {}
func (*ArrayType) isType()   {}
func (*StructType) isType()  {}
func (*FuncType) isType()    {}

// Commonly used types
var (
	Void = &VoidType{}
	Ptr  = &PointerType{}
	I1   = &IntType{Bits: 1}
	I8   = &IntType{Bits: 8}
	I16  = &IntType{Bits: 16}
	I32  = &IntType{Bits: 32}
	I64  = &IntType{Bits: 64}
)

func (*VoidType) String() string    { return "void" }
func (t *IntType) String() string   { return "i" + strconv.Itoa(t.Bits) }
func (*PointerType) String() string { return "ptr" }
func (t *ArrayType) String() string { return fmt.Sprintf("[%d x %s]", t.Len, t.Elem) }

func (t *StructType) String() string {
	s := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		s[i] = f.String()
	}
	return "{" + strings.Join(s, ", ") + "}"
}

func (t *FuncType) String() string {
	s := make([]string, 0, len(t.Params)+1)
	for _, p := range t.Params {
		s = append(s, p.String())
	}
	if t.Variadic {
		s = append(s, "...")
	}
	return fmt.Sprintf("%s (%s)", t.Result, strings.Join(s, ", "))
}

// Int returns the integer type of the given width
func Int(bits int) *IntType {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	}
	return &IntType{Bits: bits}
}

// IsPointer returns true if t is the pointer type
func IsPointer(t Type) bool {
	_, ok := t.(*PointerType)
	return ok
}

// IsVoid returns true if t is the void type
func IsVoid(t Type) bool {
	_, ok := t.(*VoidType)
	return ok
}

// TypesEqual returns true if both types are structurally equal
func TypesEqual(a, b Type) bool {
	return a.String() == b.String()
}

// PointerSize is the size in bytes of a pointer in the supported data layout
const PointerSize = 8

// SizeOf returns the allocation size in bytes of a value of type t, including tail padding
func SizeOf(t Type) int64 {
	switch t := t.(type) {
	case *VoidType, *FuncType:
		return 0
	case *IntType:
		return intStorage(t.Bits)
	case *PointerType:
		return PointerSize
	case *ArrayType:
		return SizeOf(t.Elem) * t.Len
	case *StructType:
		var size, align int64 = 0, 1
		for _, f := range t.Fields {
			a := AlignOf(f)
			size = alignTo(size, a) + SizeOf(f)
			if a > align {
				align = a
			}
		}
		return alignTo(size, align)
	default:
		panic(fmt.Sprintf("unexpected type %T", t))
	}
}

// AlignOf returns the natural alignment of type t
func AlignOf(t Type) int64 {
	switch t := t.(type) {
	case *VoidType, *FuncType:
		return 1
	case *IntType:
		return intStorage(t.Bits)
	case *PointerType:
		return PointerSize
	case *ArrayType:
		return AlignOf(t.Elem)
	case *StructType:
		var align int64 = 1
		for _, f := range t.Fields {
			if a := AlignOf(f); a > align {
				align = a
			}
		}
		return align
	default:
		panic(fmt.Sprintf("unexpected type %T", t))
	}
}

func intStorage(bits int) int64 {
	n := int64(1)
	for n*8 < int64(bits) {
		n *= 2
	}
	return n
}

func alignTo(x, a int64) int64 {
	return (x + a - 1) / a * a
}

// ParseType parses the textual form of a type: void, ptr, iN, [N x T] or {T, ...}
func ParseType(s string) (Type, error) {
	p := &typeParser{s: s}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected %q after type in %q", p.s[p.pos:], s)
	}
	return t, nil
}

type typeParser struct {
	s   string
	pos int
}

func (p *typeParser) skipSpaces() {
	for p.pos < len(p.s) && p.s[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) word() string {
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte(" ,[]{}", p.s[p.pos]) < 0 {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *typeParser) expect(c byte) error {
	p.skipSpaces()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d in %q", c, p.pos, p.s)
	}
	p.pos++
	return nil
}

func (p *typeParser) parse() (Type, error) {
	p.skipSpaces()
	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("missing type in %q", p.s)
	}
	switch p.s[p.pos] {
	case '[':
		p.pos++
		p.skipSpaces()
		n, err := strconv.ParseInt(p.word(), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid array length in %q", p.s)
		}
		p.skipSpaces()
		if p.word() != "x" {
			return nil, fmt.Errorf("expected x in array type %q", p.s)
		}
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return &ArrayType{Elem: elem, Len: n}, nil
	case '{':
		p.pos++
		st := &StructType{}
		p.skipSpaces()
		if p.pos < len(p.s) && p.s[p.pos] == '}' {
			p.pos++
			return st, nil
		}
		for {
			f, err := p.parse()
			if err != nil {
				return nil, err
			}
			st.Fields = append(st.Fields, f)
			p.skipSpaces()
			if p.pos < len(p.s) && p.s[p.pos] == ',' {
				p.pos++
				continue
			}
			if err := p.expect('}'); err != nil {
				return nil, err
			}
			return st, nil
		}
	}
	w := p.word()
	switch {
	case w == "void":
		return Void, nil
	case w == "ptr":
		return Ptr, nil
	case strings.HasPrefix(w, "i"):
		bits, err := strconv.Atoi(w[1:])
		if err != nil || bits <= 0 {
			return nil, fmt.Errorf("invalid integer type %q", w)
		}
		return Int(bits), nil
	}
	return nil, fmt.Errorf("unknown type %q", w)
}
