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

package instrument

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/alias"
	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/provenance"
	"github.com/awslabs/ar-go-memsafety/analysis/stacksafety"
	"github.com/google/go-cmp/cmp"
)

func load(t *testing.T, name string) *ir.Module {
	t.Helper()
	m, err := ir.LoadModule(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("could not load %s: %v", name, err)
	}
	return m
}

func text(instrs []ir.Instruction) []string {
	var s []string
	for _, i := range instrs {
		s = append(s, i.String())
	}
	return s
}

func instrumentStack(t *testing.T, fn *ir.Function) *StackReport {
	t.Helper()
	verdicts := stacksafety.AnalyzeFunction(fn, config.Discard())
	report, err := InstrumentStack(fn, verdicts, config.DefaultGranuleSize, config.Discard())
	if err != nil {
		t.Fatalf("%s: %v", fn.Name(), err)
	}
	return report
}

func TestGuardSlotBeforeFirstAllocation(t *testing.T) {
	m := load(t, "stack.yaml")
	fn := m.Func("two_arrays")
	report := instrumentStack(t, fn)
	expected := []string{
		"%guard = alloca i8, i64 16, align 16",
		"%first = alloca [8 x i32], align 4",
		"%second = alloca [10 x i8], align 16",
		"%second.tagged = call ptr @memsafety.segment.new(ptr %second, i64 16)",
		"store i32 1, ptr %first",
		"call void @sink(ptr %second.tagged)",
		"call void @memsafety.segment.free(ptr %second.tagged, ptr %second, i64 16)",
		"ret void",
	}
	if diff := cmp.Diff(expected, text(fn.Entry().Instrs)); diff != "" {
		t.Errorf("unexpected instrumentation (-want +got):\n%s", diff)
	}
	if report.Guard == nil || len(report.Segments) != 1 || report.Frees != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	guards := 0
	for _, a := range fn.Allocas() {
		if strings.HasPrefix(a.Name(), "guard") {
			guards++
		}
	}
	if guards != 1 {
		t.Errorf("expected exactly one guard slot, got %d", guards)
	}
}

func TestNoGuardSlot(t *testing.T) {
	m := load(t, "stack.yaml")

	fn := m.Func("first_unsafe")
	report := instrumentStack(t, fn)
	if report.Guard != nil {
		t.Errorf("no guard is needed when the first allocation is tagged")
	}
	if len(report.Segments) != 1 || report.Segments[0].Args[0] != fn.ValueNamed("a") {
		t.Errorf("only a should be tagged")
	}

	fn = m.Func("all_safe")
	before := fn.String()
	report = instrumentStack(t, fn)
	if report.Guard != nil || len(report.Segments) != 0 || fn.String() != before {
		t.Errorf("a function without unsafe allocations should not be modified")
	}
}

func TestDynamicSizeAndFrees(t *testing.T) {
	m := load(t, "stack.yaml")
	fn := m.Func("branches")
	report := instrumentStack(t, fn)

	expectedEntry := []string{
		"%t0 = zext i32 %n to i64",
		"%t1 = mul i64 %t0, 1",
		"%t2 = add i64 %t1, 15",
		"%buf.size = and i64 %t2, -16",
		"%buf = alloca i8, i32 %n, align 16",
		"%buf.tagged = call ptr @memsafety.segment.new(ptr %buf, i64 %buf.size)",
		"call void @sink(ptr %buf.tagged)",
	}
	entry := text(fn.Entry().Instrs)
	if diff := cmp.Diff(expectedEntry, entry[:len(entry)-1]); diff != "" {
		t.Errorf("unexpected entry block (-want +got):\n%s", diff)
	}
	blocks := map[string]*ir.BasicBlock{}
	for _, b := range fn.Blocks {
		blocks[b.Name] = b
	}
	free := "call void @memsafety.segment.free(ptr %buf.tagged, ptr %buf, i64 %buf.size)"
	if diff := cmp.Diff([]string{free, "tail call void @sink(ptr null)", "unreachable"},
		text(blocks["left"].Instrs)); diff != "" {
		t.Errorf("the segment should be freed before the tail call (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{free, "ret void"}, text(blocks["exit"].Instrs)); diff != "" {
		t.Errorf("the segment should be freed before the return (-want +got):\n%s", diff)
	}
	if len(blocks["right"].Instrs) != 2 {
		t.Errorf("no free should be placed before a branch")
	}
	if report.Frees != 2 {
		t.Errorf("expected 2 frees, got %d", report.Frees)
	}
	if len(report.Unterminated) != 1 || report.Unterminated[0] != blocks["trap"] {
		t.Errorf("trap should be reported as unterminated")
	}
	dbg := blocks["right"].Instrs[0].(*ir.DebugValue)
	if dbg.X != report.Segments[0] {
		t.Errorf("uses of the allocation should be redirected to the segment")
	}
}

func TestInvalidGranule(t *testing.T) {
	m := load(t, "stack.yaml")
	fn := m.Func("two_arrays")
	if _, err := InstrumentStack(fn, stacksafety.AnalyzeFunction(fn, config.Discard()), 24,
		config.Discard()); err == nil {
		t.Errorf("a granule that is not a power of two should be rejected")
	}
}

func TestInstrumentPointers(t *testing.T) {
	m := load(t, "pointers.yaml")
	fn := m.Func("local_slot")
	sites := provenance.Analyze(fn, alias.NewBasic(), provenance.AliasAware, config.Discard())
	report, err := InstrumentPointers(fn, sites, config.Discard())
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"%buf = call ptr @make()",
		"%slot = alloca ptr, align 8",
		"%t0 = call ptr @memsafety.pointer.sign(ptr %buf, i64 1)",
		"store ptr %t0, ptr %slot",
		"%r = load ptr, ptr %slot",
		"%r.auth = call ptr @memsafety.pointer.auth(ptr %r, i64 1)",
		"ret ptr %r.auth",
	}
	if diff := cmp.Diff(expected, text(fn.Entry().Instrs)); diff != "" {
		t.Errorf("unexpected instrumentation (-want +got):\n%s", diff)
	}
	if report.Signed != 1 || report.Authenticated != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	r := fn.ValueNamed("r")
	if len(r.Referrers()) != 1 {
		t.Errorf("the load should only be used by its authentication")
	}

	if _, err := InstrumentPointers(m.Func("dispatch"), sites, config.Discard()); err == nil {
		t.Errorf("sites of another function should be rejected")
	}
}

func TestFunctionPointers(t *testing.T) {
	m := load(t, "pointers.yaml")
	fn := m.Func("dispatch")
	if n := SignFunctionOperands(fn); n != 3 {
		t.Errorf("expected 3 function operands to be signed, got %d", n)
	}
	if n := AuthenticateIndirectCalls(fn); n != 2 {
		t.Errorf("expected 2 indirect calls, got %d", n)
	}
	if n := AuthenticateIndirectCalls(fn); n != 0 {
		t.Errorf("authenticated calls should not be instrumented twice, got %d", n)
	}

	blocks := map[string]*ir.BasicBlock{}
	for _, b := range fn.Blocks {
		blocks[b.Name] = b
	}
	phi := blocks["join"].Instrs[0].(*ir.Phi)
	for k, e := range phi.Edges {
		sign, ok := e.(*ir.Intrinsic)
		if !ok || sign.ID != ir.PointerSign || sign.Block() != phi.Preds[k] {
			t.Errorf("edge %d of the phi should be signed in its incoming block, got %s", k, e.Ref())
		}
	}
	for _, instr := range fn.Instructions() {
		call, ok := instr.(*ir.Call)
		if !ok {
			continue
		}
		if call.IsIndirect() {
			if auth, ok := call.Callee.(*ir.Intrinsic); !ok || auth.ID != ir.PointerAuth {
				t.Errorf("indirect call %s should authenticate its callee", call)
			}
		} else if call.StaticCallee() != m.Func("on_open") {
			t.Errorf("direct call %s should be kept", call)
		}
	}
	store := blocks["entry"].Instrs[2].(*ir.Store)
	if sign, ok := store.Val.(*ir.Intrinsic); !ok || sign.Args[0] != m.Func("on_open") {
		t.Errorf("the stored function pointer should be signed, got %s", store)
	}
}

func TestSignGlobalTables(t *testing.T) {
	m := load(t, "pointers.yaml")
	fn, slots, err := SignGlobalTables(m, config.Discard())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range slots {
		got = append(got, s.String())
	}
	expected := []string{
		"@handlers[0] = @on_open",
		"@handlers[1] = @on_close",
		"@ops[1][0] = @on_open",
		"@ops[2] = @on_close",
		"@single = @on_close",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("unexpected slots (-want +got):\n%s", diff)
	}
	if fn == nil || fn.Name() != SignGlobalsFunction {
		t.Fatalf("the signing function should be created")
	}
	if m.Initializers[0].Fn != fn || m.Initializers[0].Priority != SignGlobalsPriority {
		t.Errorf("the signing function should run first")
	}
	if len(m.Initializers) != 2 || m.Initializers[1].Fn != m.Func("on_open") {
		t.Errorf("the existing initializers should be kept")
	}
	body := fn.String()
	for _, line := range []string{
		"getelementptr {i64, [2 x ptr], ptr}, ptr @ops, i64 0, i32 1, i64 0",
		"getelementptr [2 x ptr], ptr @handlers, i64 0, i64 1",
		"load ptr, ptr @single",
		"call ptr @memsafety.pointer.sign(",
	} {
		if !strings.Contains(body, line) {
			t.Errorf("signing function should contain %q:\n%s", line, body)
		}
	}
	if m.Global("handlers").Constant {
		t.Errorf("handlers should become writable")
	}
	if _, _, err := SignGlobalTables(m, config.Discard()); err == nil {
		t.Errorf("signing twice should fail")
	}
}

func TestSignGlobalTablesWithoutFunctionPointers(t *testing.T) {
	m := ir.NewModule("empty")
	if _, err := m.NewGlobal("counter", ir.I64, ir.NewConstInt(ir.I64, 0), false); err != nil {
		t.Fatal(err)
	}
	fn, slots, err := SignGlobalTables(m, config.Discard())
	if err != nil || fn != nil || len(slots) != 0 {
		t.Errorf("nothing should be created, got %v %v %v", fn, slots, err)
	}
	if m.Func(SignGlobalsFunction) != nil || len(m.Initializers) != 0 {
		t.Errorf("the module should not be modified")
	}
}

func TestDataAuthenticatedCalleeGetsCodeKey(t *testing.T) {
	m := ir.NewModule("m")
	fn, err := m.NewFunction("f", &ir.FuncType{Params: []ir.Type{ir.Ptr}, Result: ir.Void}, "slot")
	if err != nil {
		t.Fatal(err)
	}
	b := ir.NewBuilderAtEnd(fn.NewBlock("entry"))
	fp := b.Load("fp", ir.Ptr, fn.Params[0])
	dataAuth := b.Intrinsic("fp.auth", ir.PointerAuth, fp, key(ir.KeyData))
	call := b.CallValue("", ir.Void, dataAuth)
	b.Ret()

	if n := AuthenticateIndirectCalls(fn); n != 1 {
		t.Fatalf("expected the call to be instrumented, got %d", n)
	}
	codeAuth, ok := call.Callee.(*ir.Intrinsic)
	if !ok || !isAuth(codeAuth, ir.KeyCode) || codeAuth.Args[0] != dataAuth {
		t.Errorf("the callee should be authenticated with the code key after the data key, got %s",
			call.Callee.Ref())
	}
	if n := AuthenticateIndirectCalls(fn); n != 0 {
		t.Errorf("the call should not be instrumented twice, got %d", n)
	}
}
