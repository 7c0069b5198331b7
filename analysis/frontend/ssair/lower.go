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

// Package ssair lowers Go programs in SSA form (golang.org/x/tools/go/ssa) into the IR of the hardening passes.
//
// The lowering is conservative: every Go operation that has no direct counterpart in the IR becomes a call to an
// external function named after the operation, which the analyses treat as an escape of its operands.
package ssair

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"golang.org/x/tools/go/ssa"
)

// SanitizeDirective marks a function as requesting the instrumentation when it appears in the function's doc comment
// as //memsafety:sanitize
const SanitizeDirective = "memsafety:sanitize"

// Lowerer converts Go SSA functions into the functions of one IR module
type Lowerer struct {
	module  *ir.Module
	logger  *config.LogGroup
	funcs   map[*ssa.Function]*ir.Function
	globals map[*ssa.Global]*ir.Global
}

// NewLowerer returns a lowerer filling a new module called name
func NewLowerer(name string, logger *config.LogGroup) *Lowerer {
	return &Lowerer{
		module:  ir.NewModule(name),
		logger:  logger,
		funcs:   map[*ssa.Function]*ir.Function{},
		globals: map[*ssa.Global]*ir.Global{},
	}
}

// Module returns the module being filled
func (l *Lowerer) Module() *ir.Module { return l.module }

// LowerProgram lowers the functions fns into a new module. Functions without a body, and the functions called by
// fns that are not in fns, become declarations. Functions are lowered in the order of their names.
func LowerProgram(name string, fns []*ssa.Function, logger *config.LogGroup) (*ir.Module, error) {
	sorted := append([]*ssa.Function(nil), fns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	l := NewLowerer(name, logger)
	var errs []error
	for _, fn := range sorted {
		if _, err := l.declare(fn); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range sorted {
		if err := l.LowerFunction(fn); err != nil {
			errs = append(errs, err)
		}
	}
	return l.module, errors.Join(errs...)
}

// HasDirective returns true if the doc comment of fn contains the directive //d
func HasDirective(fn *ssa.Function, d string) bool {
	decl, ok := fn.Syntax().(*ast.FuncDecl)
	if !ok || decl.Doc == nil {
		return false
	}
	for _, c := range decl.Doc.List {
		if strings.TrimSpace(strings.TrimPrefix(c.Text, "//")) == d {
			return true
		}
	}
	return false
}

// declare returns the IR function of fn, declaring it in the module on first use
func (l *Lowerer) declare(fn *ssa.Function) (*ir.Function, error) {
	if f, ok := l.funcs[fn]; ok {
		return f, nil
	}
	var freeVars []types.Type
	for _, fv := range fn.FreeVars {
		freeVars = append(freeVars, fv.Type())
	}
	sig := signature(fn.Signature, freeVars)

	var names []string
	used := map[string]bool{}
	addName := func(n string) {
		if n == "_" || used[n] {
			n = ""
		}
		used[n] = true
		names = append(names, n)
	}
	for _, p := range fn.Params {
		addName(p.Name())
	}
	for _, fv := range fn.FreeVars {
		addName(fv.Name())
	}
	if len(names) != len(sig.Params) {
		names = nil
	}

	name := fn.String()
	f, err := l.module.NewFunction(name, sig, names...)
	for k := 1; err != nil && k < 10; k++ {
		f, err = l.module.NewFunction(fmt.Sprintf("%s#%d", name, k), sig, names...)
	}
	if err != nil {
		return nil, err
	}
	f.Sanitize = HasDirective(fn, SanitizeDirective)
	l.funcs[fn] = f
	return f, nil
}

func (l *Lowerer) global(g *ssa.Global) (*ir.Global, error) {
	if ig, ok := l.globals[g]; ok {
		return ig, nil
	}
	ig, err := l.module.NewGlobal(g.String(), LowerType(deref(g.Type())), nil, false)
	if err != nil {
		return nil, err
	}
	l.globals[g] = ig
	return ig, nil
}

// external returns the declaration standing for the Go operation op of the given family
func (l *Lowerer) external(family, op string, result ir.Type) (*ir.Function, error) {
	name := family + "." + op
	if !ir.IsVoid(result) {
		name += "." + mangle(result)
	}
	return l.module.DeclareFunction(name, &ir.FuncType{Result: result, Variadic: true})
}

// mangle returns a symbol-friendly rendition of t, e.g. "ptr_i64" for {ptr, i64}
func mangle(t ir.Type) string {
	name := strings.Map(func(r rune) rune {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			return r
		}
		return '_'
	}, t.String())
	return strings.Trim(strings.ReplaceAll(name, "__", "_"), "_")
}

// LowerFunction lowers the body of fn. Lowering a function twice, or a function without a body, does nothing.
func (l *Lowerer) LowerFunction(fn *ssa.Function) error {
	f, err := l.declare(fn)
	if err != nil {
		return err
	}
	if len(fn.Blocks) == 0 || !f.IsDeclaration() {
		return nil
	}
	if len(f.Params) != len(fn.Params)+len(fn.FreeVars) {
		return fmt.Errorf("%s: %d parameters for signature %s", fn, len(fn.Params)+len(fn.FreeVars), f.Sig)
	}
	s := &lowering{
		Lowerer: l,
		fn:      fn,
		f:       f,
		values:  map[ssa.Value]ir.Value{},
		blocks:  map[*ssa.BasicBlock]*ir.BasicBlock{},
	}
	for i, p := range fn.Params {
		s.values[p] = f.Params[i]
	}
	for i, fv := range fn.FreeVars {
		s.values[fv] = f.Params[len(fn.Params)+i]
	}
	for _, b := range fn.Blocks {
		s.blocks[b] = f.NewBlock(blockName(b))
	}

	// Definitions dominate their uses, except for phi edges which are resolved once every block is lowered.
	order := fn.DomPreorder()
	seen := map[*ssa.BasicBlock]bool{}
	for _, b := range order {
		seen[b] = true
	}
	for _, b := range fn.Blocks {
		if !seen[b] {
			order = append(order, b)
		}
	}
	for _, b := range order {
		builder := ir.NewBuilderAtEnd(s.blocks[b])
		for _, instr := range b.Instrs {
			if err := s.lower(builder, instr); err != nil {
				return fmt.Errorf("%s: block %d: %w", fn, b.Index, err)
			}
		}
	}
	for _, p := range s.phis {
		preds := p.phi.Block().Preds
		for k, e := range p.phi.Edges {
			v, err := s.value(e)
			if err != nil {
				return fmt.Errorf("%s: %w", fn, err)
			}
			p.ir.AddIncoming(v, s.blocks[preds[k]])
		}
	}
	l.logger.Tracef("lowered %s\n", fn)
	return nil
}

func blockName(b *ssa.BasicBlock) string {
	if b.Index == 0 {
		return "entry"
	}
	if b.Comment != "" {
		return fmt.Sprintf("%s.%d", b.Comment, b.Index)
	}
	return fmt.Sprintf("b%d", b.Index)
}

type pendingPhi struct {
	phi *ssa.Phi
	ir  *ir.Phi
}

// lowering is the state of the lowering of one function
type lowering struct {
	*Lowerer
	fn     *ssa.Function
	f      *ir.Function
	values map[ssa.Value]ir.Value
	blocks map[*ssa.BasicBlock]*ir.BasicBlock
	phis   []pendingPhi
}

func (s *lowering) value(v ssa.Value) (ir.Value, error) {
	switch v := v.(type) {
	case *ssa.Const:
		return lowerConst(v), nil
	case *ssa.Function:
		return s.declare(v)
	case *ssa.Global:
		return s.global(v)
	case *ssa.Builtin:
		return s.external("builtin", v.Name(), ir.Void)
	}
	if x, ok := s.values[v]; ok {
		return x, nil
	}
	return nil, fmt.Errorf("%s is used before its definition", v.Name())
}

func (s *lowering) operands(vs []ssa.Value) ([]ir.Value, error) {
	res := make([]ir.Value, 0, len(vs))
	for _, v := range vs {
		x, err := s.value(v)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, nil
}

func lowerConst(c *ssa.Const) ir.Value {
	t := LowerType(c.Type())
	if ir.IsPointer(t) {
		return ir.NewConstNull()
	}
	it, ok := t.(*ir.IntType)
	if !ok {
		return ir.NewUndef(t)
	}
	if c.Value == nil {
		return ir.NewConstInt(it, 0)
	}
	switch c.Value.Kind() {
	case constant.Bool:
		if constant.BoolVal(c.Value) {
			return ir.NewConstInt(it, 1)
		}
		return ir.NewConstInt(it, 0)
	case constant.Int:
		if x, exact := constant.Int64Val(c.Value); exact {
			return ir.NewConstInt(it, x)
		}
		u, _ := constant.Uint64Val(c.Value)
		return ir.NewConstInt(it, int64(u))
	}
	return ir.NewUndef(t)
}

var binOps = map[token.Token]string{
	token.ADD:     "add",
	token.SUB:     "sub",
	token.MUL:     "mul",
	token.QUO:     "sdiv",
	token.REM:     "srem",
	token.AND:     "and",
	token.OR:      "or",
	token.XOR:     "xor",
	token.SHL:     "shl",
	token.SHR:     "ashr",
	token.AND_NOT: "andnot",
}

func (s *lowering) define(v ssa.Value, x ir.Value) {
	s.values[v] = x
}

// lower appends the lowering of instr to the block of b
//
//gocyclo:ignore
func (s *lowering) lower(b *ir.Builder, instr ssa.Instruction) error {
	switch i := instr.(type) {
	case *ssa.DebugRef:
		return nil

	case *ssa.Alloc:
		elem := LowerType(deref(i.Type()))
		if i.Heap {
			newobject, err := s.external("runtime", "newobject", ir.Ptr)
			if err != nil {
				return err
			}
			s.define(i, b.Call(i.Name(), newobject, ir.NewConstInt(ir.I64, ir.SizeOf(elem))))
			return nil
		}
		name := i.Comment
		if name == "" {
			name = i.Name()
		}
		s.define(i, b.Alloca(name, elem, nil, 0))
		return nil

	case *ssa.UnOp:
		if i.Op != token.MUL {
			break
		}
		x, err := s.value(i.X)
		if err != nil {
			return err
		}
		s.define(i, b.Load(i.Name(), LowerType(i.Type()), x))
		return nil

	case *ssa.BinOp:
		op, ok := binOps[i.Op]
		if !ok {
			break
		}
		x, err := s.value(i.X)
		if err != nil {
			return err
		}
		y, err := s.value(i.Y)
		if err != nil {
			return err
		}
		if _, isInt := x.Type().(*ir.IntType); !isInt || !ir.TypesEqual(x.Type(), y.Type()) ||
			!ir.TypesEqual(x.Type(), LowerType(i.Type())) {
			break
		}
		s.define(i, b.BinOp(i.Name(), op, x, y))
		return nil

	case *ssa.FieldAddr:
		x, err := s.value(i.X)
		if err != nil {
			return err
		}
		s.define(i, b.ElemAddr(i.Name(), LowerType(deref(i.X.Type())), x,
			ir.NewConstInt(ir.I64, 0), ir.NewConstInt(ir.I32, int64(i.Field))))
		return nil

	case *ssa.IndexAddr:
		x, err := s.value(i.X)
		if err != nil {
			return err
		}
		idx, err := s.value(i.Index)
		if err != nil {
			return err
		}
		switch t := i.X.Type().Underlying().(type) {
		case *types.Pointer:
			s.define(i, b.ElemAddr(i.Name(), LowerType(t.Elem()), x, ir.NewConstInt(ir.I64, 0), idx))
			return nil
		case *types.Slice:
			data := b.Extract("", ir.Ptr, x, 0)
			s.define(i, b.ElemAddr(i.Name(), LowerType(t.Elem()), data, idx))
			return nil
		}

	case *ssa.Store:
		addr, err := s.value(i.Addr)
		if err != nil {
			return err
		}
		val, err := s.value(i.Val)
		if err != nil {
			return err
		}
		b.Store(val, addr)
		return nil

	case *ssa.Phi:
		p := b.Phi(i.Name(), LowerType(i.Type()))
		s.phis = append(s.phis, pendingPhi{i, p})
		s.define(i, p)
		return nil

	case *ssa.If:
		cond, err := s.value(i.Cond)
		if err != nil {
			return err
		}
		succs := i.Block().Succs
		b.CondBr(cond, s.blocks[succs[0]], s.blocks[succs[1]])
		return nil

	case *ssa.Jump:
		b.Br(s.blocks[i.Block().Succs[0]])
		return nil

	case *ssa.Return:
		results, err := s.operands(i.Results)
		if err != nil {
			return err
		}
		b.Ret(results...)
		return nil

	case *ssa.Panic:
		x, err := s.value(i.X)
		if err != nil {
			return err
		}
		gopanic, err := s.external("runtime", "gopanic", ir.Void)
		if err != nil {
			return err
		}
		b.Call("", gopanic, x)
		b.Unreachable()
		return nil

	case *ssa.Call:
		result := LowerType(i.Type())
		name := ""
		if !ir.IsVoid(result) {
			name = i.Name()
		}
		call, err := s.call(b, i.Common(), name, result)
		if err != nil {
			return err
		}
		if !ir.IsVoid(result) {
			s.define(i, call)
		}
		return nil

	case *ssa.Extract:
		tuple, err := s.value(i.Tuple)
		if err != nil {
			return err
		}
		s.define(i, b.Extract(i.Name(), LowerType(i.Type()), tuple, i.Index))
		return nil

	case *ssa.ChangeType:
		if ok, err := s.convert(b, i, i.X); ok || err != nil {
			return err
		}

	case *ssa.Convert:
		if ok, err := s.convert(b, i, i.X); ok || err != nil {
			return err
		}
	}
	return s.conservative(b, instr)
}

// convert lowers the conversion v of x when the IR has a cast for it
func (s *lowering) convert(b *ir.Builder, v ssa.Value, x ssa.Value) (bool, error) {
	from, err := s.value(x)
	if err != nil {
		return false, err
	}
	to := LowerType(v.Type())
	fromInt, fromIsInt := from.Type().(*ir.IntType)
	toInt, toIsInt := to.(*ir.IntType)
	switch {
	case ir.IsPointer(from.Type()) && ir.IsPointer(to):
		s.define(v, b.Cast(v.Name(), ir.Bitcast, from, to))
	case ir.IsPointer(from.Type()) && toIsInt:
		s.define(v, b.Cast(v.Name(), ir.PtrToInt, from, to))
	case fromIsInt && ir.IsPointer(to):
		s.define(v, b.Cast(v.Name(), ir.IntToPtr, from, to))
	case fromIsInt && toIsInt:
		op := ir.Bitcast
		if toInt.Bits < fromInt.Bits {
			op = ir.Trunc
		} else if toInt.Bits > fromInt.Bits {
			op = ir.SExt
			if basic, ok := x.Type().Underlying().(*types.Basic); ok && basic.Info()&types.IsUnsigned != 0 {
				op = ir.ZExt
			}
		}
		s.define(v, b.Cast(v.Name(), op, from, to))
	case ir.TypesEqual(from.Type(), to):
		s.define(v, from)
	default:
		return false, nil
	}
	return true, nil
}

func (s *lowering) call(b *ir.Builder, c *ssa.CallCommon, name string, result ir.Type) (*ir.Call, error) {
	args, err := s.operands(c.Args)
	if err != nil {
		return nil, err
	}
	if c.IsInvoke() {
		recv, err := s.value(c.Value)
		if err != nil {
			return nil, err
		}
		method, err := s.external("invoke", c.Method.Name(), result)
		if err != nil {
			return nil, err
		}
		return b.CallValue(name, result, method, append([]ir.Value{recv}, args...)...), nil
	}
	switch callee := c.Value.(type) {
	case *ssa.Builtin:
		fn, err := s.external("builtin", callee.Name(), result)
		if err != nil {
			return nil, err
		}
		return b.CallValue(name, result, fn, args...), nil
	case *ssa.Function:
		fn, err := s.declare(callee)
		if err != nil {
			return nil, err
		}
		return b.CallValue(name, result, fn, args...), nil
	case *ssa.MakeClosure:
		if target, ok := callee.Fn.(*ssa.Function); ok {
			fn, err := s.declare(target)
			if err != nil {
				return nil, err
			}
			bindings, err := s.operands(callee.Bindings)
			if err != nil {
				return nil, err
			}
			return b.CallValue(name, result, fn, append(args, bindings...)...), nil
		}
	}
	callee, err := s.value(c.Value)
	if err != nil {
		return nil, err
	}
	return b.CallValue(name, result, callee, args...), nil
}

// conservative lowers instr into a call to an external function receiving all its operands
func (s *lowering) conservative(b *ir.Builder, instr ssa.Instruction) error {
	var args []ir.Value
	for _, op := range instr.Operands(nil) {
		if *op == nil {
			continue
		}
		x, err := s.value(*op)
		if err != nil {
			return err
		}
		args = append(args, x)
	}
	result, name := ir.Type(ir.Void), ""
	v, isValue := instr.(ssa.Value)
	if isValue {
		result = LowerType(v.Type())
		if !ir.IsVoid(result) {
			name = v.Name()
		}
	}
	fn, err := s.external("runtime", opName(instr), result)
	if err != nil {
		return err
	}
	call := b.CallValue(name, result, fn, args...)
	if isValue && !ir.IsVoid(result) {
		s.define(v, call)
	}
	return nil
}

// opName returns the name of the Go operation of instr, e.g. "makeinterface"
func opName(instr ssa.Instruction) string {
	name := fmt.Sprintf("%T", instr)
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.ToLower(name)
}
