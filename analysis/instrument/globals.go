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
	"fmt"
	"strings"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
)

// SignGlobalsFunction is the name of the initializer signing the function pointers stored in globals
const SignGlobalsFunction = config.RuntimePrefix + "sign_globals"

// SignGlobalsPriority is the priority of the signing initializer: it runs before the initializers of the program
const SignGlobalsPriority = 0

// special globals whose content must stay unsigned
var skippedGlobals = map[string]bool{
	"llvm.used":         true,
	"llvm.global_ctors": true,
	"llvm.global_dtors": true,
}

// A TableSlot is a function pointer embedded in the initializer of a global
type TableSlot struct {
	Global *ir.Global
	// Path is the sequence of element indices leading to the slot in nested aggregates. Empty if the global itself
	// holds the function pointer.
	Path []int
	Fn   *ir.Function
}

func (s TableSlot) String() string {
	var b strings.Builder
	b.WriteString(s.Global.Ref())
	for _, i := range s.Path {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String() + " = " + s.Fn.Ref()
}

// TableSlots returns the function pointers embedded in the initializers of the globals of m, in module order
func TableSlots(m *ir.Module) []TableSlot {
	var slots []TableSlot
	for _, g := range m.Globals {
		if g.Init == nil || skippedGlobals[g.Name()] {
			continue
		}
		var walk func(v ir.Value, path []int)
		walk = func(v ir.Value, path []int) {
			switch v := v.(type) {
			case *ir.Function:
				slots = append(slots, TableSlot{Global: g, Path: append([]int(nil), path...), Fn: v})
			case *ir.ConstAggregate:
				for i, e := range v.Elems {
					walk(e, append(path, i))
				}
			}
		}
		walk(g.Init, nil)
	}
	return slots
}

// SignGlobalTables synthesizes an initializer signing, with the code key, every function pointer embedded in the
// initializer of a global, and registers it in m with priority SignGlobalsPriority. It returns nil and creates no
// function when there is nothing to sign. Globals holding function pointers become writable.
func SignGlobalTables(m *ir.Module, logger *config.LogGroup) (*ir.Function, []TableSlot, error) {
	slots := TableSlots(m)
	if len(slots) == 0 {
		return nil, nil, nil
	}
	fn, err := m.NewFunction(SignGlobalsFunction, &ir.FuncType{Result: ir.Void})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create global signing function: %w", err)
	}
	b := ir.NewBuilderAtEnd(fn.NewBlock("entry"))
	for _, slot := range slots {
		addr, err := slotAddress(b, slot)
		if err != nil {
			return nil, nil, err
		}
		ptr := b.Load("", ir.Ptr, addr)
		signed := b.Intrinsic("", ir.PointerSign, ptr, key(ir.KeyCode))
		b.Store(signed, addr)
		slot.Global.Constant = false
		logger.Debugf("signing %s at initialization\n", slot)
	}
	b.Ret()
	m.AddInitializer(fn, SignGlobalsPriority)
	return fn, slots, nil
}

// slotAddress emits the address computation of a slot
func slotAddress(b *ir.Builder, slot TableSlot) (ir.Value, error) {
	if len(slot.Path) == 0 {
		return slot.Global, nil
	}
	indices := []ir.Value{ir.NewConstInt(ir.I64, 0)}
	t := slot.Global.ValueType
	for _, i := range slot.Path {
		switch at := t.(type) {
		case *ir.ArrayType:
			indices = append(indices, ir.NewConstInt(ir.I64, int64(i)))
			t = at.Elem
		case *ir.StructType:
			indices = append(indices, ir.NewConstInt(ir.I32, int64(i)))
			t = at.Fields[i]
		default:
			return nil, fmt.Errorf("%s: type %s of %s is not an aggregate", slot, t, slot.Global.Ref())
		}
	}
	return b.ElemAddr("", slot.Global.ValueType, slot.Global, indices...), nil
}
