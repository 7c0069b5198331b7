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

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
	"github.com/awslabs/ar-go-memsafety/analysis/provenance"
)

// PointerReport summarizes the pointer authentication instrumentation of a function
type PointerReport struct {
	Signed        int
	Authenticated int
	// SignedFunctions counts the function operands signed by SignFunctionOperands
	SignedFunctions int
	// AuthenticatedCalls counts the indirect calls whose callee is authenticated
	AuthenticatedCalls int
}

func key(k int64) ir.Value {
	return ir.NewConstInt(ir.I64, k)
}

// InstrumentPointers signs the pointers stored and authenticates the pointers loaded at the eligible sites of sites.
func InstrumentPointers(fn *ir.Function, sites *provenance.Result, logger *config.LogGroup) (*PointerReport, error) {
	if sites.Function != fn {
		return nil, fmt.Errorf("sites of %s cannot be used on %s", sites.Function.Name(), fn.Name())
	}
	report := &PointerReport{}
	for _, site := range sites.Eligible() {
		switch instr := site.Instr.(type) {
		case *ir.Store:
			s := ir.NewBuilderBefore(instr).Intrinsic("", ir.PointerSign, instr.Val, key(ir.KeyData))
			ir.SetOperand(instr, 0, s)
			report.Signed++
			logger.Tracef("%s: signed %s\n", fn.Name(), lang.FmtInstr(instr))
		case *ir.Load:
			auth := ir.NewBuilderAfter(instr).Intrinsic(instr.Name()+".auth", ir.PointerAuth, instr,
				key(ir.KeyData))
			ir.ReplaceAllUsesWith(instr, auth, auth)
			report.Authenticated++
			logger.Tracef("%s: authenticated %s\n", fn.Name(), lang.FmtInstr(instr))
		default:
			return nil, fmt.Errorf("unexpected site %s", lang.FmtInstr(site.Instr))
		}
	}
	return report, nil
}

// AuthenticateIndirectCalls authenticates the callee of every indirect call of fn with the code key, and returns the
// number of calls instrumented. A callee authenticated with the data key, e.g. loaded from an eligible site, is
// authenticated again with the code key; callees already authenticated with the code key are left as they are.
func AuthenticateIndirectCalls(fn *ir.Function) int {
	var calls []*ir.Call
	lang.IterateInstructions(fn, func(instr ir.Instruction) {
		if call, ok := instr.(*ir.Call); ok && call.IsIndirect() && !isAuth(call.Callee, ir.KeyCode) {
			calls = append(calls, call)
		}
	})
	for _, call := range calls {
		auth := ir.NewBuilderBefore(call).Intrinsic("", ir.PointerAuth, call.Callee, key(ir.KeyCode))
		ir.SetOperand(call, 0, auth)
	}
	return len(calls)
}

func isAuth(v ir.Value, k int64) bool {
	i, ok := v.(*ir.Intrinsic)
	if !ok || i.ID != ir.PointerAuth || len(i.Args) != 2 {
		return false
	}
	c, ok := i.Args[1].(*ir.ConstInt)
	return ok && c.Value == k
}

type functionOperand struct {
	user  ir.Instruction
	index int
	fn    *ir.Function
}

// SignFunctionOperands signs, with the code key, every function used as an operand of fn other than the callee of a
// direct call. The signature is computed before the user, or at the end of the incoming block for phi nodes. It
// returns the number of operands signed.
func SignFunctionOperands(fn *ir.Function) int {
	var operands []functionOperand
	lang.IterateInstructions(fn, func(instr ir.Instruction) {
		for k, op := range instr.Operands() {
			f, ok := (*op).(*ir.Function)
			if !ok {
				continue
			}
			if _, isCall := instr.(*ir.Call); isCall && k == 0 {
				continue
			}
			operands = append(operands, functionOperand{instr, k, f})
		}
	})
	for _, op := range operands {
		var b *ir.Builder
		if phi, ok := op.user.(*ir.Phi); ok {
			pred := phi.Preds[op.index]
			if term := pred.Terminator(); term != nil {
				b = ir.NewBuilderBefore(term)
			} else {
				b = ir.NewBuilderAtEnd(pred)
			}
		} else {
			b = ir.NewBuilderBefore(op.user)
		}
		s := b.Intrinsic("", ir.PointerSign, op.fn, key(ir.KeyCode))
		ir.SetOperand(op.user, op.index, s)
	}
	return len(operands)
}
