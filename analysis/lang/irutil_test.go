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

package lang

import (
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

const module = `
globals:
  - {name: g, type: ptr}
functions:
  - name: __memsafety_malloc
    params: [{name: n, type: i64}]
    result: ptr
  - name: use
    params: [{name: a, type: ptr}, {name: b, type: ptr}]
    result: void
  - name: f
    params: [{name: p, type: ptr}]
    result: void
    blocks:
      - name: entry
        instrs:
          - {op: load, name: x, type: ptr, args: ["%p"]}
          - {op: store, args: ["%x", "@g"]}
          - {op: load, name: y, type: i64, args: ["@g"]}
          - {op: call, callee: "@use", args: ["%p", "%p"]}
          - {op: br, targets: [exit]}
      - name: exit
        instrs:
          - {op: call, callee: "@use", args: ["%x", "@g"], tail: true}
          - {op: dbg, args: ["%x"], var: x}
          - {op: unreachable}
          - {op: unreachable}
`

func loadModule(t *testing.T) *ir.Module {
	t.Helper()
	m, err := ir.ParseModule([]byte(module))
	if err != nil {
		t.Fatalf("could not parse module: %v", err)
	}
	return m
}

func TestTerminators(t *testing.T) {
	f := loadModule(t).Func("f")
	exit := f.Blocks[1]
	term := RealTerminator(exit)
	if term != exit.Instrs[0] {
		t.Fatalf("expected the tail call to be the real terminator, got %s", FmtInstr(term))
	}
	if !IsReturnOrTailCall(term) || IsReturnOrTailCall(f.Blocks[0].Instrs[3]) {
		t.Errorf("only the tail call leaves the function")
	}
	if FirstInstr(exit) != term || LastInstr(exit) != exit.Instrs[3] {
		t.Errorf("unexpected first or last instruction")
	}
	if RealTerminator(f.Blocks[0]) != LastInstr(f.Blocks[0]) {
		t.Errorf("a block ending with a branch is its own real terminator")
	}
}

func TestPointerAccess(t *testing.T) {
	f := loadModule(t).Func("f")
	var accesses []string
	IterateInstructions(f, func(instr ir.Instruction) {
		if addr, ok := PointerAccess(instr); ok {
			accesses = append(accesses, FmtValue(addr))
		}
	})
	if diff := cmp.Diff([]string{"ptr %p", "ptr @g"}, accesses); diff != "" {
		t.Errorf("unexpected pointer accesses (-want +got):\n%s", diff)
	}
}

func TestOperands(t *testing.T) {
	m := loadModule(t)
	f := m.Func("f")
	var globals []string
	for _, g := range ReferencedGlobals(f) {
		globals = append(globals, g.Name())
	}
	if diff := cmp.Diff([]string{"g", "use"}, globals); diff != "" {
		t.Errorf("unexpected globals (-want +got):\n%s", diff)
	}
	call := f.Blocks[0].Instrs[3].(*ir.Call)
	if diff := cmp.Diff([]int{0, 1}, ArgIndices(call, f.Params[0])); diff != "" {
		t.Errorf("unexpected argument indices (-want +got):\n%s", diff)
	}
	if !IsRuntimeFunction(m.Func("__memsafety_malloc")) || IsRuntimeFunction(f) {
		t.Errorf("unexpected runtime function classification")
	}
}
