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
	"go/types"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
)

var (
	stringType    = &ir.StructType{Fields: []ir.Type{ir.Ptr, ir.I64}}
	sliceType     = &ir.StructType{Fields: []ir.Type{ir.Ptr, ir.I64, ir.I64}}
	interfaceType = &ir.StructType{Fields: []ir.Type{ir.Ptr, ir.Ptr}}
)

// LowerType returns the IR type representing values of the Go type t. Floating point values are represented by
// integers of the same size; strings, slices and interfaces by their headers. Maps, channels, functions and type
// parameters are opaque pointers.
func LowerType(t types.Type) ir.Type {
	switch t := t.(type) {
	case *types.Basic:
		return lowerBasic(t)
	case *types.Pointer, *types.Map, *types.Chan, *types.Signature, *types.TypeParam:
		return ir.Ptr
	case *types.Slice:
		return sliceType
	case *types.Interface:
		return interfaceType
	case *types.Array:
		return &ir.ArrayType{Elem: LowerType(t.Elem()), Len: t.Len()}
	case *types.Struct:
		fields := make([]ir.Type, t.NumFields())
		for i := range fields {
			fields[i] = LowerType(t.Field(i).Type())
		}
		return &ir.StructType{Fields: fields}
	case *types.Tuple:
		switch t.Len() {
		case 0:
			return ir.Void
		case 1:
			return LowerType(t.At(0).Type())
		}
		fields := make([]ir.Type, t.Len())
		for i := range fields {
			fields[i] = LowerType(t.At(i).Type())
		}
		return &ir.StructType{Fields: fields}
	case *types.Named:
		return LowerType(t.Underlying())
	default:
		return ir.Ptr
	}
}

func lowerBasic(t *types.Basic) ir.Type {
	switch t.Kind() {
	case types.Bool, types.UntypedBool:
		return ir.I1
	case types.Int8, types.Uint8:
		return ir.I8
	case types.Int16, types.Uint16:
		return ir.I16
	case types.Int32, types.Uint32, types.Float32, types.UntypedRune:
		return ir.I32
	case types.UnsafePointer, types.UntypedNil:
		return ir.Ptr
	case types.String, types.UntypedString:
		return stringType
	case types.Complex64:
		return &ir.StructType{Fields: []ir.Type{ir.I32, ir.I32}}
	case types.Complex128, types.UntypedComplex:
		return &ir.StructType{Fields: []ir.Type{ir.I64, ir.I64}}
	default:
		return ir.I64
	}
}

// deref returns the type pointed to by the pointer type t
func deref(t types.Type) types.Type {
	if p, ok := t.Underlying().(*types.Pointer); ok {
		return p.Elem()
	}
	return t
}

// signature returns the IR signature of a function of Go signature sig. The receiver is the first parameter, and the
// variables captured by a closure are the last ones.
func signature(sig *types.Signature, freeVars []types.Type) *ir.FuncType {
	ft := &ir.FuncType{Result: LowerType(sig.Results())}
	if recv := sig.Recv(); recv != nil {
		ft.Params = append(ft.Params, LowerType(recv.Type()))
	}
	for i := 0; i < sig.Params().Len(); i++ {
		ft.Params = append(ft.Params, LowerType(sig.Params().At(i).Type()))
	}
	for _, fv := range freeVars {
		ft.Params = append(ft.Params, LowerType(fv))
	}
	return ft
}
