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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// A module file is a yaml description of a module. For example:
//
//	name: example
//	globals:
//	  - name: table
//	    type: "[2 x ptr]"
//	    constant: true
//	    init: ["@f", "null"]
//	functions:
//	  - name: malloc
//	    params: [{name: size, type: i64}]
//	    result: ptr
//	    alloc-kind: [alloc, uninitialized]
//	  - name: f
//	    params: [{name: p, type: ptr}]
//	    result: void
//	    sanitize: true
//	    blocks:
//	      - name: entry
//	        instrs:
//	          - {op: alloca, name: x, type: ptr}
//	          - {op: store, args: ["%p", "%x"]}
//	          - {op: ret}
//
// Operands are written %local, @global, null, undef, or as typed constants such as "i64 16". Untyped integer
// operands take the type expected by the instruction when it is known, i64 otherwise. Values must be defined before
// they are used, except in phi nodes.

type moduleSpec struct {
	Name         string         `yaml:"name"`
	Globals      []globalSpec   `yaml:"globals"`
	Functions    []functionSpec `yaml:"functions"`
	Initializers []initSpec     `yaml:"initializers"`
}

type globalSpec struct {
	Name     string    `yaml:"name"`
	Type     string    `yaml:"type"`
	Constant bool      `yaml:"constant"`
	Init     yaml.Node `yaml:"init"`
}

type initSpec struct {
	Function string `yaml:"function"`
	Priority int    `yaml:"priority"`
}

type paramSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type functionSpec struct {
	Name      string      `yaml:"name"`
	Params    []paramSpec `yaml:"params"`
	Result    string      `yaml:"result"`
	Variadic  bool        `yaml:"variadic"`
	Sanitize  bool        `yaml:"sanitize"`
	AllocKind []string    `yaml:"alloc-kind"`
	Blocks    []blockSpec `yaml:"blocks"`
}

type blockSpec struct {
	Name   string      `yaml:"name"`
	Instrs []instrSpec `yaml:"instrs"`
}

type instrSpec struct {
	Op        string   `yaml:"op"`
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Args      []string `yaml:"args"`
	Count     string   `yaml:"count"`
	Align     int64    `yaml:"align"`
	Volatile  bool     `yaml:"volatile"`
	Tail      bool     `yaml:"tail"`
	Callee    string   `yaml:"callee"`
	Intrinsic string   `yaml:"intrinsic"`
	Operator  string   `yaml:"operator"`
	Source    string   `yaml:"source"`
	Index     int      `yaml:"index"`
	Var       string   `yaml:"var"`
	Targets   []string `yaml:"targets"`
	Preds     []string `yaml:"preds"`
}

// LoadError is returned when a module file is invalid. Function, Block and Index locate the error when it is
// inside a function body.
type LoadError struct {
	Function string
	Block    string
	Index    int
	Err      error
}

func (e *LoadError) Error() string {
	switch {
	case e.Block != "":
		return fmt.Sprintf("in function %s, block %s, instruction %d: %v", e.Function, e.Block, e.Index, e.Err)
	case e.Function != "":
		return fmt.Sprintf("in function %s: %v", e.Function, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadModule reads the module file at path
func LoadModule(path string) (*Module, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read module file: %w", err)
	}
	m, err := ParseModule(b)
	if err != nil {
		return nil, fmt.Errorf("could not load module %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// ParseModule decodes a module from its yaml description
func ParseModule(data []byte) (*Module, error) {
	var spec moduleSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &LoadError{Err: err}
	}
	m := NewModule(spec.Name)
	// declarations first, so that bodies and initializers can refer to any symbol
	for _, fs := range spec.Functions {
		if err := declare(m, fs); err != nil {
			return nil, &LoadError{Function: fs.Name, Err: err}
		}
	}
	globalTypes := make([]Type, len(spec.Globals))
	for i, gs := range spec.Globals {
		t, err := ParseType(gs.Type)
		if err != nil {
			return nil, &LoadError{Err: fmt.Errorf("global %s: %w", gs.Name, err)}
		}
		globalTypes[i] = t
		if _, err := m.NewGlobal(gs.Name, t, nil, gs.Constant); err != nil {
			return nil, &LoadError{Err: err}
		}
	}
	for i, gs := range spec.Globals {
		if gs.Init.Kind == 0 {
			continue
		}
		init, err := parseInitializer(m, &gs.Init, globalTypes[i])
		if err != nil {
			return nil, &LoadError{Err: fmt.Errorf("initializer of global %s: %w", gs.Name, err)}
		}
		m.Global(gs.Name).Init = init
	}
	for _, fs := range spec.Functions {
		if len(fs.Blocks) == 0 {
			continue
		}
		if err := defineBody(m.Func(fs.Name), fs); err != nil {
			return nil, err
		}
	}
	for _, is := range spec.Initializers {
		fn := m.Func(is.Function)
		if fn == nil {
			return nil, &LoadError{Err: fmt.Errorf("unknown initializer function %s", is.Function)}
		}
		m.AddInitializer(fn, is.Priority)
	}
	return m, nil
}

func declare(m *Module, fs functionSpec) error {
	sig := &FuncType{Variadic: fs.Variadic, Result: Void}
	if fs.Result != "" {
		t, err := ParseType(fs.Result)
		if err != nil {
			return err
		}
		sig.Result = t
	}
	names := make([]string, len(fs.Params))
	for i, p := range fs.Params {
		t, err := ParseType(p.Type)
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		sig.Params = append(sig.Params, t)
		names[i] = p.Name
	}
	fn, err := m.NewFunction(fs.Name, sig, names...)
	if err != nil {
		return err
	}
	fn.Sanitize = fs.Sanitize
	kind, err := ParseAllocKind(fs.AllocKind)
	if err != nil {
		return err
	}
	fn.AllocKind = kind
	return nil
}

func parseInitializer(m *Module, n *yaml.Node, t Type) (Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return parseOperand(m, nil, n.Value, t)
	case yaml.SequenceNode:
		var elems []Value
		for i, c := range n.Content {
			var et Type
			switch t := t.(type) {
			case *ArrayType:
				et = t.Elem
			case *StructType:
				if i >= len(t.Fields) {
					return nil, fmt.Errorf("too many fields for %s", t)
				}
				et = t.Fields[i]
			default:
				return nil, fmt.Errorf("aggregate initializer for non-aggregate type %s", t)
			}
			e, err := parseInitializer(m, c, et)
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		return NewConstAggregate(t, elems...), nil
	}
	return nil, fmt.Errorf("unexpected yaml node at line %d", n.Line)
}

// parseOperand resolves the textual operand s. hint is the expected type, or nil if unknown.
func parseOperand(m *Module, locals map[string]Value, s string, hint Type) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, fmt.Errorf("empty operand")
	case strings.HasPrefix(s, "%"):
		if v, ok := locals[s[1:]]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("undefined value %s", s)
	case strings.HasPrefix(s, "@"):
		if f := m.Func(s[1:]); f != nil {
			return f, nil
		}
		if g := m.Global(s[1:]); g != nil {
			return g, nil
		}
		return nil, fmt.Errorf("undefined symbol %s", s)
	case s == "null":
		return NewConstNull(), nil
	case s == "undef":
		if hint == nil {
			hint = Ptr
		}
		return NewUndef(hint), nil
	}
	if k := strings.LastIndexByte(s, ' '); k > 0 {
		t, err := ParseType(s[:k])
		if err != nil {
			return nil, fmt.Errorf("invalid operand %q: %w", s, err)
		}
		return parseOperand(m, locals, s[k+1:], t)
	}
	x, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid operand %q", s)
	}
	it, ok := hint.(*IntType)
	if hint == nil {
		it, ok = I64, true
	}
	if !ok {
		return nil, fmt.Errorf("integer operand %q where %s is expected", s, hint)
	}
	return NewConstInt(it, x), nil
}

type pendingPhi struct {
	phi   *Phi
	spec  instrSpec
	block string
	index int
}

type bodyLoader struct {
	fn     *Function
	locals map[string]Value
	blocks map[string]*BasicBlock
}

func defineBody(fn *Function, fs functionSpec) error {
	l := &bodyLoader{fn: fn, locals: map[string]Value{}, blocks: map[string]*BasicBlock{}}
	for _, p := range fn.Params {
		l.locals[p.Name()] = p
	}
	for _, bs := range fs.Blocks {
		if _, dup := l.blocks[bs.Name]; dup || bs.Name == "" {
			return &LoadError{Function: fn.Name(), Err: fmt.Errorf("missing or duplicate block name %q", bs.Name)}
		}
		l.blocks[bs.Name] = fn.NewBlock(bs.Name)
	}
	var phis []pendingPhi
	for _, bs := range fs.Blocks {
		b := NewBuilderAtEnd(l.blocks[bs.Name])
		for k, is := range bs.Instrs {
			instr, err := l.build(b, is)
			if err != nil {
				return &LoadError{Function: fn.Name(), Block: bs.Name, Index: k, Err: err}
			}
			if phi, ok := instr.(*Phi); ok {
				phis = append(phis, pendingPhi{phi: phi, spec: is, block: bs.Name, index: k})
			}
			if v, ok := AsValue(instr); ok && is.Name != "" {
				if _, dup := l.locals[is.Name]; dup {
					return &LoadError{Function: fn.Name(), Block: bs.Name, Index: k,
						Err: fmt.Errorf("value %%%s defined twice", is.Name)}
				}
				l.locals[is.Name] = v
			}
		}
	}
	for _, p := range phis {
		if err := l.resolvePhi(p); err != nil {
			return &LoadError{Function: fn.Name(), Block: p.block, Index: p.index, Err: err}
		}
	}
	return nil
}

func (l *bodyLoader) operand(s string, hint Type) (Value, error) {
	return parseOperand(l.fn.Module(), l.locals, s, hint)
}

func (l *bodyLoader) operands(ss []string) ([]Value, error) {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		v, err := l.operand(s, nil)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func (l *bodyLoader) block(name string) (*BasicBlock, error) {
	if b, ok := l.blocks[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("unknown block %s", name)
}

func (l *bodyLoader) typ(is instrSpec) (Type, error) {
	if is.Type == "" {
		return nil, fmt.Errorf("%s requires a type", is.Op)
	}
	return ParseType(is.Type)
}

func wantArgs(is instrSpec, n int) error {
	if len(is.Args) != n {
		return fmt.Errorf("%s expects %d operands, got %d", is.Op, n, len(is.Args))
	}
	return nil
}

//gocyclo:ignore
func (l *bodyLoader) build(b *Builder, is instrSpec) (Instruction, error) {
	if op, ok := ParseCastOp(is.Op); ok {
		t, err := l.typ(is)
		if err != nil {
			return nil, err
		}
		if err := wantArgs(is, 1); err != nil {
			return nil, err
		}
		x, err := l.operand(is.Args[0], nil)
		if err != nil {
			return nil, err
		}
		return b.Cast(is.Name, op, x, t), nil
	}
	switch is.Op {
	case "alloca":
		t, err := l.typ(is)
		if err != nil {
			return nil, err
		}
		var count Value
		if is.Count != "" {
			if count, err = l.operand(is.Count, I64); err != nil {
				return nil, err
			}
		}
		return b.Alloca(is.Name, t, count, is.Align), nil
	case "load":
		t, err := l.typ(is)
		if err != nil {
			return nil, err
		}
		if err := wantArgs(is, 1); err != nil {
			return nil, err
		}
		addr, err := l.operand(is.Args[0], Ptr)
		if err != nil {
			return nil, err
		}
		ld := b.Load(is.Name, t, addr)
		ld.Volatile = is.Volatile
		return ld, nil
	case "store":
		if err := wantArgs(is, 2); err != nil {
			return nil, err
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.Store(args[0], args[1]), nil
	case "select":
		if err := wantArgs(is, 3); err != nil {
			return nil, err
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.Select(is.Name, args[0], args[1], args[2]), nil
	case "phi":
		t, err := l.typ(is)
		if err != nil {
			return nil, err
		}
		if len(is.Args) != len(is.Preds) {
			return nil, fmt.Errorf("phi has %d values and %d predecessors", len(is.Args), len(is.Preds))
		}
		return b.Phi(is.Name, t), nil
	case "getelementptr":
		if is.Source == "" {
			return nil, fmt.Errorf("getelementptr requires a source type")
		}
		src, err := ParseType(is.Source)
		if err != nil {
			return nil, err
		}
		if len(is.Args) < 1 {
			return nil, fmt.Errorf("getelementptr requires a base")
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.ElemAddr(is.Name, src, args[0], args[1:]...), nil
	case "extractvalue":
		t, err := l.typ(is)
		if err != nil {
			return nil, err
		}
		if err := wantArgs(is, 1); err != nil {
			return nil, err
		}
		x, err := l.operand(is.Args[0], nil)
		if err != nil {
			return nil, err
		}
		return b.Extract(is.Name, t, x, is.Index), nil
	case "binop":
		if err := wantArgs(is, 2); err != nil {
			return nil, err
		}
		x, err := l.operand(is.Args[0], nil)
		if err != nil {
			return nil, err
		}
		y, err := l.operand(is.Args[1], x.Type())
		if err != nil {
			return nil, err
		}
		return b.BinOp(is.Name, is.Operator, x, y), nil
	case "call":
		callee, err := l.operand(is.Callee, Ptr)
		if err != nil {
			return nil, err
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		var c *Call
		if fn, ok := callee.(*Function); ok {
			c = b.Call(is.Name, fn, args...)
		} else {
			rt := Type(Void)
			if is.Type != "" {
				if rt, err = ParseType(is.Type); err != nil {
					return nil, err
				}
			}
			c = b.CallValue(is.Name, rt, callee, args...)
		}
		c.Tail = is.Tail
		return c, nil
	case "intrinsic":
		id, ok := ParseIntrinsicID(is.Intrinsic)
		if !ok {
			return nil, fmt.Errorf("unknown intrinsic %q", is.Intrinsic)
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.Intrinsic(is.Name, id, args...), nil
	case "atomicrmw":
		if err := wantArgs(is, 2); err != nil {
			return nil, err
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.AtomicRMW(is.Name, is.Operator, args[0], args[1]), nil
	case "cmpxchg":
		if err := wantArgs(is, 3); err != nil {
			return nil, err
		}
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.CmpXchg(is.Name, args[0], args[1], args[2]), nil
	case "fence":
		return b.Fence(), nil
	case "dbg":
		if err := wantArgs(is, 1); err != nil {
			return nil, err
		}
		x, err := l.operand(is.Args[0], nil)
		if err != nil {
			return nil, err
		}
		return b.DebugValue(x, is.Var), nil
	case "br":
		switch len(is.Targets) {
		case 1:
			t, err := l.block(is.Targets[0])
			if err != nil {
				return nil, err
			}
			return b.Br(t), nil
		case 2:
			if err := wantArgs(is, 1); err != nil {
				return nil, err
			}
			cond, err := l.operand(is.Args[0], I1)
			if err != nil {
				return nil, err
			}
			then, err := l.block(is.Targets[0])
			if err != nil {
				return nil, err
			}
			els, err := l.block(is.Targets[1])
			if err != nil {
				return nil, err
			}
			return b.CondBr(cond, then, els), nil
		}
		return nil, fmt.Errorf("br expects 1 or 2 targets, got %d", len(is.Targets))
	case "ret":
		args, err := l.operands(is.Args)
		if err != nil {
			return nil, err
		}
		return b.Ret(args...), nil
	case "unreachable":
		return b.Unreachable(), nil
	}
	return nil, fmt.Errorf("unknown operation %q", is.Op)
}

func (l *bodyLoader) resolvePhi(p pendingPhi) error {
	for k, s := range p.spec.Args {
		v, err := l.operand(s, p.phi.Type())
		if err != nil {
			return err
		}
		pred, err := l.block(p.spec.Preds[k])
		if err != nil {
			return err
		}
		p.phi.AddIncoming(v, pred)
	}
	return nil
}
