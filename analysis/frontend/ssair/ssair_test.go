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

package ssair

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/analysis/stacksafety"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const source = `package p

type pair struct{ a, b int }

func ext(x *int)

//memsafety:sanitize
func local(i int) int {
	var a [4]int
	a[i] = 1
	return a[0]
}

func copyPair(p pair) pair {
	var s pair
	s = p
	return s
}

func escapes() {
	x := 0
	ext(&x)
}
`

func buildModule(t *testing.T) *ir.Module {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", source, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pkg, _, err := ssautil.BuildPackage(&types.Config{Importer: importer.Default()}, fset,
		types.NewPackage("p", "p"), []*ast.File{f}, ssa.NaiveForm|ssa.SanityCheckFunctions)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(pkg.Prog) {
		if fn.Pkg == pkg {
			fns = append(fns, fn)
		}
	}
	m, err := LowerProgram("p", fns, config.Discard())
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return m
}

func function(t *testing.T, m *ir.Module, name string) *ir.Function {
	t.Helper()
	fn := m.Func(name)
	if fn == nil {
		t.Fatalf("no function %s in module:\n%s", name, m)
	}
	return fn
}

func TestLowerType(t *testing.T) {
	pairType := types.NewStruct([]*types.Var{
		types.NewField(token.NoPos, nil, "a", types.Typ[types.Int], false),
		types.NewField(token.NoPos, nil, "b", types.Typ[types.Uint8], false),
	}, nil)
	tests := []struct {
		t        types.Type
		expected string
	}{
		{types.Typ[types.Int], "i64"},
		{types.Typ[types.Bool], "i1"},
		{types.Typ[types.Float32], "i32"},
		{types.Typ[types.String], "{ptr, i64}"},
		{types.NewPointer(types.Typ[types.Int]), "ptr"},
		{types.NewSlice(types.Typ[types.Int]), "{ptr, i64, i64}"},
		{types.NewArray(types.Typ[types.Int16], 3), "[3 x i16]"},
		{pairType, "{i64, i8}"},
		{types.NewMap(types.Typ[types.Int], types.Typ[types.Int]), "ptr"},
		{types.NewTuple(), "void"},
	}
	for _, test := range tests {
		if got := LowerType(test.t).String(); got != test.expected {
			t.Errorf("LowerType(%s) = %s, expected %s", test.t, got, test.expected)
		}
	}
}

func TestMangle(t *testing.T) {
	for typ, expected := range map[ir.Type]string{
		ir.Ptr: "ptr",
		&ir.StructType{Fields: []ir.Type{ir.Ptr, ir.I64}}: "ptr_i64",
		&ir.ArrayType{Elem: ir.I8, Len: 4}:                "4_x_i8",
	} {
		if got := mangle(typ); got != expected {
			t.Errorf("mangle(%s) = %q, expected %q", typ, got, expected)
		}
	}
}

func TestLowerProgram(t *testing.T) {
	m := buildModule(t)

	if !function(t, m, "p.ext").IsDeclaration() {
		t.Errorf("p.ext has no body and should be a declaration")
	}
	if !function(t, m, "p.local").Sanitize {
		t.Errorf("p.local should be marked by its directive")
	}
	if function(t, m, "p.copyPair").Sanitize {
		t.Errorf("p.copyPair has no directive")
	}

	local := stacksafety.AnalyzeFunction(function(t, m, "p.local"), config.Discard())
	var unsafe []string
	for _, a := range local.Unsafe() {
		unsafe = append(unsafe, a.Elem.String())
	}
	if diff := cmp.Diff([]string{"[4 x i64]"}, unsafe); diff != "" {
		t.Errorf("unexpected unsafe allocations in p.local (-want +got):\n%s", diff)
	}

	pair := stacksafety.AnalyzeFunction(function(t, m, "p.copyPair"), config.Discard())
	if len(pair.Allocas) == 0 || len(pair.Unsafe()) != 0 {
		t.Errorf("p.copyPair should only have safe allocations, got %d unsafe of %d",
			len(pair.Unsafe()), len(pair.Allocas))
	}

	escapes := function(t, m, "p.escapes").String()
	if !strings.Contains(escapes, "@runtime.newobject.ptr(i64 8)") {
		t.Errorf("escaping variable should be allocated on the heap:\n%s", escapes)
	}
	if !strings.Contains(escapes, "@p.ext(") {
		t.Errorf("p.escapes should call p.ext directly:\n%s", escapes)
	}
}

func TestHardenLoweredProgram(t *testing.T) {
	m := buildModule(t)
	cfg := config.NewDefault()
	res, err := memsafety.Run(cfg, config.Discard(), m)
	if err != nil {
		t.Fatalf("hardening failed: %v", err)
	}
	if res.Stats.UnsafeAllocas != 1 {
		t.Errorf("expected one unsafe allocation, got %d", res.Stats.UnsafeAllocas)
	}
	if local := function(t, m, "p.local").String(); !strings.Contains(local, "@memsafety.segment.new") {
		t.Errorf("array of p.local should be tagged:\n%s", local)
	}
	if pair := function(t, m, "p.copyPair").String(); strings.Contains(pair, "@memsafety.segment.new") {
		t.Errorf("p.copyPair should not be tagged:\n%s", pair)
	}
}
