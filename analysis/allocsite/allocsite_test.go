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

package allocsite

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/google/go-cmp/cmp"
)

func TestFlatten(t *testing.T) {
	const (
		alloc   = ir.AllocKindAlloc
		realloc = ir.AllocKindRealloc
		free    = ir.AllocKindFree
		uninit  = ir.AllocKindUninitialized
		zeroed  = ir.AllocKindZeroed
		aligned = ir.AllocKindAligned
	)
	supported := map[ir.AllocKind]Kind{
		alloc | aligned:          AlignedAlloc,
		alloc | aligned | uninit: AlignedAlloc,
		alloc | zeroed:           Calloc,
		alloc:                    Malloc,
		alloc | uninit:           Malloc,
		realloc:                  Realloc,
		realloc | uninit:         Realloc,
		free:                     Free,
	}
	for k, expected := range supported {
		got, err := Flatten(k)
		if err != nil {
			t.Errorf("Flatten(%s) returned error %v", k, err)
		} else if got != expected {
			t.Errorf("Flatten(%s) = %s, expected %s", k, got, expected)
		}
	}
	for _, k := range []ir.AllocKind{uninit, zeroed, alloc | free, alloc | zeroed | aligned, free | uninit,
		realloc | zeroed, alloc | zeroed | uninit} {
		_, err := Flatten(k)
		var kerr *UnsupportedKindError
		if !errors.As(err, &kerr) {
			t.Errorf("Flatten(%s) should fail with an UnsupportedKindError, got %v", k, err)
		}
	}
}

func TestCollectAndRewrite(t *testing.T) {
	m, err := ir.LoadModule(filepath.Join("testdata", "allocators.yaml"))
	if err != nil {
		t.Fatalf("could not load module: %v", err)
	}
	fn := m.Func("allocate")
	sites, err := Collect(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var kinds []Kind
	for _, s := range sites {
		kinds = append(kinds, s.Kind)
	}
	if diff := cmp.Diff([]Kind{Malloc, Calloc, AlignedAlloc, Realloc, Free, Free}, kinds); diff != "" {
		t.Errorf("unexpected sites (-want +got):\n%s", diff)
	}
	if v, ok := ir.ConstValue(sites[2].Align); !ok || v != 64 {
		t.Errorf("the aligned allocation should have alignment 64")
	}

	if err := Rewrite(m, sites, config.Discard()); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	var got []string
	for _, instr := range fn.Entry().Instrs {
		got = append(got, instr.String())
	}
	expected := []string{
		"%a.1 = call ptr @__memsafety_malloc(i64 40)",
		"%b.1 = call ptr @__memsafety_calloc(i64 %n, i64 8)",
		"%c.1 = call ptr @__memsafety_aligned_alloc(i64 64, i64 %n)",
		"%d.1 = call ptr @__memsafety_realloc(ptr %a.1, i64 80)",
		"call void @use(ptr %b.1)",
		"call void @__memsafety_free(ptr %b.1)",
		"call void @__memsafety_free(ptr %c.1)",
		"ret ptr %d.1",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("unexpected rewritten function (-want +got):\n%s", diff)
	}
	// only the call in the runtime helper remains
	if n := len(m.Func("xmalloc").Referrers()); n != 1 {
		t.Errorf("xmalloc should have one referrer, got %d", n)
	}
	for _, name := range []string{"xcalloc", "xaligned", "xrealloc", "xfree"} {
		if n := len(m.Func(name).Referrers()); n != 0 {
			t.Errorf("%s should not be called anymore, got %d referrers", name, n)
		}
	}

	helper, err := Collect(m.Func("__memsafety_helper"))
	if err != nil || len(helper) != 0 {
		t.Errorf("calls in runtime functions should not be collected")
	}
}

func TestCollectUnsupportedKind(t *testing.T) {
	src := `
functions:
  - name: weird
    params: [{name: p, type: ptr}]
    result: ptr
    alloc-kind: [alloc, free]
  - name: f
    params: [{name: p, type: ptr}]
    result: ptr
    blocks:
      - name: entry
        instrs:
          - {op: call, name: r, callee: "@weird", args: ["%p"]}
          - {op: ret, args: ["%r"]}
`
	m, err := ir.ParseModule([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Collect(m.Func("f"))
	var kerr *UnsupportedKindError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected an UnsupportedKindError, got %v", err)
	}
	if kerr.Function != "weird" || kerr.Kind != ir.AllocKindAlloc|ir.AllocKindFree {
		t.Errorf("unexpected error %v", kerr)
	}
}
