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

// Package allocsite redirects the calls to allocation functions into the tagged allocator runtime.
//
// Allocation functions are recognized by the allocation kind attached to their declaration. Each kind is flattened
// into one of the entry points of the runtime; a kind that cannot be flattened is a fatal error, since the allocator
// would otherwise return untagged memory.
package allocsite

import (
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
)

// Kind is the flattened kind of an allocation function
type Kind int

const (
	// AlignedAlloc allocates memory with an alignment: aligned_alloc(align, size)
	AlignedAlloc Kind = iota
	// Malloc allocates uninitialized memory: malloc(size)
	Malloc
	// Calloc allocates zeroed memory: calloc(count, size)
	Calloc
	// Realloc resizes an allocation: realloc(ptr, size)
	Realloc
	// Free releases an allocation: free(ptr)
	Free
)

type runtimeEntry struct {
	name string
	sig  *ir.FuncType
}

var runtimeEntries = [...]runtimeEntry{
	AlignedAlloc: {"aligned_alloc", &ir.FuncType{Params: []ir.Type{ir.I64, ir.I64}, Result: ir.Ptr}},
	Malloc:       {"malloc", &ir.FuncType{Params: []ir.Type{ir.I64}, Result: ir.Ptr}},
	Calloc:       {"calloc", &ir.FuncType{Params: []ir.Type{ir.I64, ir.I64}, Result: ir.Ptr}},
	Realloc:      {"realloc", &ir.FuncType{Params: []ir.Type{ir.Ptr, ir.I64}, Result: ir.Ptr}},
	Free:         {"free", &ir.FuncType{Params: []ir.Type{ir.Ptr}, Result: ir.Void}},
}

func (k Kind) String() string {
	return runtimeEntries[k].name
}

// RuntimeFunction returns the name of the runtime entry point replacing the allocation functions of kind k
func (k Kind) RuntimeFunction() string {
	return config.RuntimePrefix + runtimeEntries[k].name
}

// UnsupportedKindError is returned when the allocation kind of a function does not correspond to any entry point of
// the tagged allocator
type UnsupportedKindError struct {
	Function string
	Kind     ir.AllocKind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported allocation kind %q for function %s", e.Kind, e.Function)
}

// Flatten returns the runtime kind corresponding to an allocation kind bit set
func Flatten(k ir.AllocKind) (Kind, error) {
	switch k &^ ir.AllocKindUninitialized {
	case ir.AllocKindAlloc | ir.AllocKindAligned:
		return AlignedAlloc, nil
	case ir.AllocKindAlloc:
		return Malloc, nil
	case ir.AllocKindRealloc:
		return Realloc, nil
	}
	switch k {
	case ir.AllocKindAlloc | ir.AllocKindZeroed:
		return Calloc, nil
	case ir.AllocKindFree:
		return Free, nil
	}
	return 0, &UnsupportedKindError{Kind: k}
}

// A Site is a call to an allocation function
type Site struct {
	Call *ir.Call
	Kind Kind
	// Align is the alignment operand of AlignedAlloc sites, nil otherwise
	Align ir.Value
}

func (s Site) String() string {
	return fmt.Sprintf("%s site %s", s.Kind, lang.FmtInstr(s.Call))
}

// Collect returns the calls of fn to functions carrying an allocation kind. It returns an *UnsupportedKindError if the
// kind of one of the callees cannot be flattened. Calls in the runtime functions are never collected.
func Collect(fn *ir.Function) ([]Site, error) {
	if lang.IsRuntimeFunction(fn) {
		return nil, nil
	}
	var sites []Site
	var err error
	lang.IterateInstructions(fn, func(instr ir.Instruction) {
		call, ok := instr.(*ir.Call)
		if !ok || err != nil {
			return
		}
		callee := call.StaticCallee()
		if callee == nil || callee.AllocKind == 0 {
			return
		}
		kind, kerr := Flatten(callee.AllocKind)
		if kerr != nil {
			err = &UnsupportedKindError{Function: callee.Name(), Kind: callee.AllocKind}
			return
		}
		if n := len(runtimeEntries[kind].sig.Params); len(call.Args) != n {
			err = fmt.Errorf("%s: %s expects %d arguments, got %d", lang.FmtInstr(call), kind, n, len(call.Args))
			return
		}
		site := Site{Call: call, Kind: kind}
		if kind == AlignedAlloc {
			site.Align = call.Args[0]
		}
		sites = append(sites, site)
	})
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// Rewrite replaces every site by a call to the runtime entry point of its kind with the same arguments. The entry
// points are declared in m when needed.
func Rewrite(m *ir.Module, sites []Site, logger *config.LogGroup) error {
	for _, site := range sites {
		entry := runtimeEntries[site.Kind]
		rt, err := m.DeclareFunction(site.Kind.RuntimeFunction(), entry.sig)
		if err != nil {
			return fmt.Errorf("could not declare runtime function: %w", err)
		}
		old := site.Call
		if ir.IsVoid(entry.sig.Result) && len(old.Referrers()) > 0 {
			return fmt.Errorf("%s: result of %s is used", lang.FmtInstr(old), site.Kind)
		}
		name := ""
		if !ir.IsVoid(old.Type()) {
			name = old.Name()
		}
		repl := ir.NewBuilderBefore(old).Call(name, rt, old.Args...)
		repl.Tail = old.Tail
		if len(old.Referrers()) > 0 {
			ir.ReplaceAllUsesWith(old, repl)
		}
		logger.Debugf("%s: rewrote %s into %s\n", old.Parent().Name(), old, repl)
		ir.Erase(old)
	}
	return nil
}
