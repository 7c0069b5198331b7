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
	"sort"
	"strings"
)

// A Module is a set of functions and globals, with an ordered list of initializers run at program startup.
type Module struct {
	Name         string
	Functions    []*Function
	Globals      []*Global
	Initializers []Initializer

	funcs   map[string]*Function
	globals map[string]*Global
}

// An Initializer is a function run at startup. Initializers run in increasing priority; initializers with the
// same priority run in registration order.
type Initializer struct {
	Fn       *Function
	Priority int
}

// NewModule returns an empty module
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		funcs:   map[string]*Function{},
		globals: map[string]*Global{},
	}
}

// Func returns the function with the given name, or nil
func (m *Module) Func(name string) *Function { return m.funcs[name] }

// Global returns the global with the given name, or nil
func (m *Module) Global(name string) *Global { return m.globals[name] }

// NewFunction adds a new function declaration to the module. The parameters are named after paramNames when
// provided, otherwise arg0, arg1, ... Add blocks to the function to turn it into a definition.
func (m *Module) NewFunction(name string, sig *FuncType, paramNames ...string) (*Function, error) {
	if m.funcs[name] != nil || m.globals[name] != nil {
		return nil, fmt.Errorf("symbol %q already defined in module %s", name, m.Name)
	}
	fn := &Function{
		node:   node{name: name, typ: Ptr},
		Sig:    sig,
		module: m,
		names:  map[string]bool{},
	}
	for i, t := range sig.Params {
		pname := fmt.Sprintf("arg%d", i)
		if i < len(paramNames) && paramNames[i] != "" {
			pname = paramNames[i]
		}
		fn.names[pname] = true
		fn.Params = append(fn.Params, &Argument{node: node{name: pname, typ: t}, parent: fn, index: i})
	}
	m.funcs[name] = fn
	m.Functions = append(m.Functions, fn)
	return fn, nil
}

// DeclareFunction returns the function with the given name, declaring it if it does not exist yet. It returns an
// error if a function with the same name and a different signature exists.
func (m *Module) DeclareFunction(name string, sig *FuncType) (*Function, error) {
	if fn := m.funcs[name]; fn != nil {
		if !TypesEqual(fn.Sig, sig) {
			return nil, fmt.Errorf("function %s declared with signature %s, expected %s", name, fn.Sig, sig)
		}
		return fn, nil
	}
	return m.NewFunction(name, sig)
}

// NewGlobal adds a new global variable to the module
func (m *Module) NewGlobal(name string, valueType Type, init Value, constant bool) (*Global, error) {
	if m.funcs[name] != nil || m.globals[name] != nil {
		return nil, fmt.Errorf("symbol %q already defined in module %s", name, m.Name)
	}
	g := &Global{node: node{name: name, typ: Ptr}, ValueType: valueType, Init: init, Constant: constant}
	m.globals[name] = g
	m.Globals = append(m.Globals, g)
	return g, nil
}

// AddInitializer registers fn to be run at startup with the given priority
func (m *Module) AddInitializer(fn *Function, priority int) {
	m.Initializers = append(m.Initializers, Initializer{Fn: fn, Priority: priority})
	sort.SliceStable(m.Initializers, func(i, j int) bool {
		return m.Initializers[i].Priority < m.Initializers[j].Priority
	})
}

// RemoveFunction removes a function without referrers from the module
func (m *Module) RemoveFunction(fn *Function) error {
	if len(fn.referrers) > 0 {
		return fmt.Errorf("cannot remove %s: still used by %d instructions", fn.name, len(fn.referrers))
	}
	delete(m.funcs, fn.name)
	for i, f := range m.Functions {
		if f == fn {
			m.Functions = append(m.Functions[:i], m.Functions[i+1:]...)
			break
		}
	}
	kept := m.Initializers[:0]
	for _, init := range m.Initializers {
		if init.Fn != fn {
			kept = append(kept, init)
		}
	}
	m.Initializers = kept
	return nil
}

// A Function is a function of a module. As a value, it is the address of the function's code.
type Function struct {
	node
	Sig    *FuncType
	Params []*Argument
	Blocks []*BasicBlock

	// AllocKind is the allocation-kind metadata of the function, 0 if the function is not an allocator
	AllocKind AllocKind

	// Sanitize indicates that the function requested memory-safety instrumentation
	Sanitize bool

	module *Module
	names  map[string]bool
	nextID int
}

func (f *Function) Ref() string { return "@" + f.name }

// Module returns the module containing the function
func (f *Function) Module() *Module { return f.module }

// IsDeclaration returns true if the function has no body
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block of the function, nil for declarations
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewBlock appends a new empty block to the function
func (f *Function) NewBlock(name string) *BasicBlock {
	if name == "" {
		name = fmt.Sprintf("bb%d", len(f.Blocks))
	}
	b := &BasicBlock{Name: f.uniqueName(name), Index: len(f.Blocks), parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Instructions returns all the instructions of the function, in block order
func (f *Function) Instructions() []Instruction {
	var instrs []Instruction
	for _, b := range f.Blocks {
		instrs = append(instrs, b.Instrs...)
	}
	return instrs
}

// Allocas returns the stack allocations of the function in program order
func (f *Function) Allocas() []*Alloca {
	var allocas []*Alloca
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if a, ok := i.(*Alloca); ok {
				allocas = append(allocas, a)
			}
		}
	}
	return allocas
}

// ValueNamed returns the argument or the instruction result with the given name, or nil
func (f *Function) ValueNamed(name string) Value {
	for _, p := range f.Params {
		if p.name == name {
			return p
		}
	}
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if v, ok := i.(Value); ok && v.Name() == name {
				return v
			}
		}
	}
	return nil
}

// uniqueName returns name if it is not used in the function yet, otherwise name.N for the first free N
func (f *Function) uniqueName(name string) string {
	if name == "" {
		for {
			name = fmt.Sprintf("t%d", f.nextID)
			f.nextID++
			if !f.names[name] {
				break
			}
		}
	} else if f.names[name] {
		base := name
		for k := 1; f.names[name]; k++ {
			name = fmt.Sprintf("%s.%d", base, k)
		}
	}
	f.names[name] = true
	return name
}

// A BasicBlock is a sequence of instructions ending with a terminator
type BasicBlock struct {
	Name   string
	Index  int
	Instrs []Instruction

	parent *Function
}

// Parent returns the function of the block
func (b *BasicBlock) Parent() *Function { return b.parent }

// Terminator returns the last instruction of the block if it is a terminator, nil otherwise
func (b *BasicBlock) Terminator() Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if IsTerminator(last) {
		return last
	}
	return nil
}

// Succs returns the successors of the block
func (b *BasicBlock) Succs() []*BasicBlock {
	if t := b.Terminator(); t != nil {
		return Successors(t)
	}
	return nil
}

func (b *BasicBlock) String() string {
	var sb strings.Builder
	sb.WriteString(b.Name + ":\n")
	for _, i := range b.Instrs {
		sb.WriteString("  " + i.String() + "\n")
	}
	return sb.String()
}
