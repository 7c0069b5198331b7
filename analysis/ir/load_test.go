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
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadModule(t *testing.T) {
	m, err := LoadModule(filepath.Join("testdata", "module.yaml"))
	if err != nil {
		t.Fatalf("could not load module: %v", err)
	}
	if m.Name != "example" {
		t.Errorf("unexpected module name %q", m.Name)
	}
	malloc := m.Func("malloc")
	if malloc == nil || !malloc.IsDeclaration() {
		t.Fatalf("malloc should be a declaration")
	}
	if malloc.AllocKind != AllocKindAlloc|AllocKindUninitialized {
		t.Errorf("unexpected alloc kind %v", malloc.AllocKind)
	}

	handlers := m.Global("handlers")
	agg, ok := handlers.Init.(*ConstAggregate)
	if !ok || len(agg.Elems) != 2 || agg.Elems[0] != m.Func("on_open") {
		t.Errorf("unexpected initializer of handlers: %v", handlers.Init)
	}
	if !handlers.Constant {
		t.Errorf("handlers should be constant")
	}
	cfg := m.Global("config").Init.(*ConstAggregate)
	if v, _ := ConstValue(cfg.Elems[0]); v != 3 {
		t.Errorf("first field of config should be 3")
	}
	if _, ok := cfg.Elems[1].(*ConstNull); !ok {
		t.Errorf("second field of config should be null")
	}

	loop := m.Func("loop")
	if !loop.Sanitize || len(loop.Blocks) != 4 {
		t.Fatalf("unexpected function loop:\n%s", loop)
	}
	phi, ok := loop.ValueNamed("i").(*Phi)
	if !ok {
		t.Fatalf("i should be a phi")
	}
	if len(phi.Edges) != 2 || phi.Edges[1] != loop.ValueNamed("next") || phi.Preds[1].Name != "body" {
		t.Errorf("unexpected phi %s", phi)
	}
	if len(loop.ValueNamed("next").Referrers()) != 2 {
		t.Errorf("next should be used by the phi and the call")
	}
	slot := loop.ValueNamed("slot")
	if len(slot.Referrers()) != 3 {
		t.Errorf("slot should have 3 referrers, got %d", len(slot.Referrers()))
	}
	if len(m.Initializers) != 1 || m.Initializers[0].Priority != 10 {
		t.Errorf("unexpected initializers %v", m.Initializers)
	}
	if !strings.Contains(m.String(), "@handlers = constant [2 x ptr] [ptr @on_open, ptr @on_close]") {
		t.Errorf("unexpected module text:\n%s", m)
	}
}

func TestLoadModuleErrors(t *testing.T) {
	_, err := LoadModule(filepath.Join("testdata", "bad_operand.yaml"))
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected a LoadError, got %v", err)
	}
	if lerr.Function != "f" || lerr.Block != "entry" || lerr.Index != 0 {
		t.Errorf("unexpected error location %v", lerr)
	}

	bad := []string{
		"functions: [{name: f, blocks: [{name: entry, instrs: [{op: frobnicate}]}]}]",
		"functions: [{name: f, params: [{name: p, type: float}]}]",
		"functions: [{name: f}, {name: f}]",
		"globals: [{name: g, type: ptr, init: \"@nothing\"}]",
		"functions: [{name: f, blocks: [{name: entry, instrs: [{op: br, targets: [nowhere]}]}]}]",
		"functions: [{name: f, alloc-kind: [alloc, shared]}]",
		"initializers: [{function: missing}]",
	}
	for _, src := range bad {
		if _, err := ParseModule([]byte(src)); err == nil {
			t.Errorf("expected error loading %q", src)
		}
	}
}
