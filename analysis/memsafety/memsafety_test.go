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

package memsafety

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/allocsite"
	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/instrument"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

func loadProgram(t *testing.T) *ir.Module {
	t.Helper()
	m, err := ir.LoadModule(filepath.Join("testdata", "program.yaml"))
	if err != nil {
		t.Fatalf("could not load program: %v", err)
	}
	return m
}

func names(fns []*ir.Function) []string {
	var s []string
	for _, fn := range fns {
		s = append(s, fn.Name())
	}
	return s
}

func TestSelectFunctions(t *testing.T) {
	m := loadProgram(t)
	cfg := config.NewDefault()
	expected := []string{"handler", "main", "helper", "rec_a", "rec_b", "self"}
	if diff := cmp.Diff(expected, names(SelectFunctions(cfg, m))); diff != "" {
		t.Errorf("unexpected selection (-want +got):\n%s", diff)
	}
	cfg.OnlySanitized = true
	if diff := cmp.Diff([]string{"handler", "main"}, names(SelectFunctions(cfg, m))); diff != "" {
		t.Errorf("unexpected selection of sanitized functions (-want +got):\n%s", diff)
	}
}

func TestRecursiveGroups(t *testing.T) {
	m := loadProgram(t)
	var groups [][]string
	for _, g := range RecursiveGroups(m) {
		groups = append(groups, names(g))
	}
	if diff := cmp.Diff([][]string{{"rec_a", "rec_b"}, {"self"}}, groups); diff != "" {
		t.Errorf("unexpected recursive groups (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	m := loadProgram(t)
	runtimeHelper := m.Func("__memsafety_runtime_helper").String()
	res, err := Run(config.NewDefault(), config.Discard(), m)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var entry []string
	for _, instr := range m.Func("main").Entry().Instrs {
		entry = append(entry, instr.String())
	}
	expected := []string{
		"%guard = alloca i8, i64 16, align 16",
		"%slot = alloca ptr, align 8",
		"%buf = alloca [16 x i8], align 16",
		"%buf.tagged = call ptr @memsafety.segment.new(ptr %buf, i64 16)",
		"call void @sink(ptr %buf.tagged)",
		"%t1 = call ptr @memsafety.pointer.sign(ptr @handler, i64 0)",
		"call void @sink(ptr %t1)",
		"%p.1 = call ptr @__memsafety_malloc(i64 32)",
		"%t0 = call ptr @memsafety.pointer.sign(ptr %p.1, i64 1)",
		"store ptr %t0, ptr %slot",
		"%q = load ptr, ptr %slot",
		"%q.auth = call ptr @memsafety.pointer.auth(ptr %q, i64 1)",
		"call void @__memsafety_free(ptr %p.1)",
		"call void @memsafety.segment.free(ptr %buf.tagged, ptr %buf, i64 16)",
		"ret ptr %q.auth",
	}
	if diff := cmp.Diff(expected, entry); diff != "" {
		t.Errorf("unexpected instrumentation of main (-want +got):\n%s", diff)
	}

	expectedStats := Stats{
		Functions:          6,
		SafeAllocas:        1,
		UnsafeAllocas:      1,
		GuardSlots:         1,
		SegmentFrees:       1,
		EligibleSites:      2,
		IneligibleSites:    0,
		RewrittenCalls:     2,
		SignedFunctions:    1,
		AuthenticatedCalls: 1,
		SignedGlobalSlots:  1,
	}
	if diff := cmp.Diff(expectedStats, res.Stats); diff != "" {
		t.Errorf("unexpected statistics (-want +got):\n%s", diff)
	}

	if res.SignGlobals == nil || m.Initializers[0].Fn != res.SignGlobals {
		t.Errorf("global tables should be signed at initialization")
	}
	if res.Report(m.Func("xmalloc")) != nil {
		t.Errorf("declarations should not be selected")
	}
	if m.Func("__memsafety_runtime_helper").String() != runtimeHelper {
		t.Errorf("runtime functions should not be instrumented")
	}
	if len(m.Func("xmalloc").Referrers()) != 0 || len(m.Func("xfree").Referrers()) != 0 {
		t.Errorf("allocation calls should be rewritten")
	}
}

func TestRunWithDisabledPasses(t *testing.T) {
	m := loadProgram(t)
	cfg := config.NewDefault()
	cfg.InstrumentPointers = false
	cfg.SignFunctionPointers = false
	cfg.RewriteAllocations = false
	cfg.OnlySanitized = true
	res, err := Run(cfg, config.Discard(), m)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	main := res.Report(m.Func("main"))
	if main == nil || main.Sites != nil || main.PointerReport != nil || main.StackReport == nil {
		t.Fatalf("only the stack instrumentation should run, got %+v", main)
	}
	if res.SignGlobals != nil || m.Func(instrument.SignGlobalsFunction) != nil {
		t.Errorf("global tables should not be signed")
	}
	if len(m.Func("xmalloc").Referrers()) != 1 {
		t.Errorf("allocation calls should be kept")
	}
	if res.Stats.Functions != 2 || res.Stats.UnsafeAllocas != 1 || res.Stats.RewrittenCalls != 0 {
		t.Errorf("unexpected statistics %s", res.Stats)
	}
}

const unsupported = `
functions:
  - name: strange
    params: [{name: p, type: ptr}]
    result: ptr
    alloc-kind: [free, zeroed]
  - name: sink
    params: [{name: p, type: ptr}]
    result: void
  - name: f
    result: void
    blocks:
      - name: entry
        instrs:
          - {op: alloca, name: a, type: i64}
          - {op: call, callee: "@sink", args: ["%a"]}
          - {op: ret}
  - name: g
    result: ptr
    blocks:
      - name: entry
        instrs:
          - {op: call, name: x, callee: "@strange", args: ["null"]}
          - {op: ret, args: ["%x"]}
`

func TestUnsupportedKindAbortsBeforeMutation(t *testing.T) {
	m, err := ir.ParseModule([]byte(unsupported))
	if err != nil {
		t.Fatal(err)
	}
	before := m.String()
	res, err := Run(config.NewDefault(), config.Discard(), m)
	if err == nil {
		t.Fatalf("an unsupported allocation kind should abort the run")
	}
	var kindErr *allocsite.UnsupportedKindError
	if !errors.As(err, &kindErr) || kindErr.Function != "strange" {
		t.Errorf("expected an unsupported kind error for strange, got %v", err)
	}
	if res != nil {
		t.Errorf("no result should be returned")
	}
	if m.String() != before {
		t.Errorf("the module should not be modified")
	}
}

func TestAnalyzeDoesNotMutate(t *testing.T) {
	m := loadProgram(t)
	before := m.String()
	res, err := Analyze(config.NewDefault(), config.Discard(), m)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if m.String() != before {
		t.Errorf("the analysis phase should not modify the module")
	}
	main := res.Report(m.Func("main"))
	if main == nil || main.StackReport != nil || main.PointerReport != nil {
		t.Fatalf("expected analysis results only for main, got %+v", main)
	}
	if res.Stats.UnsafeAllocas != 1 || res.Stats.EligibleSites != 2 || res.Stats.GuardSlots != 0 {
		t.Errorf("unexpected statistics %s", res.Stats)
	}
}
