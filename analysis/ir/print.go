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
	"fmt"
	"strings"
)

func typedRefs(vs []Value) string {
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = typedRef(v)
	}
	return strings.Join(s, ", ")
}

func (i *Alloca) String() string {
	s := fmt.Sprintf("%%%s = alloca %s", i.name, i.Elem)
	if i.Count != nil {
		s += ", " + typedRef(i.Count)
	}
	return s + fmt.Sprintf(", align %d", i.Align)
}

func (i *Load) String() string {
	v := ""
	if i.Volatile {
		v = "volatile "
	}
	return fmt.Sprintf("%%%s = load %s%s, %s", i.name, v, i.typ, typedRef(i.Addr))
}

func (i *Store) String() string {
	return fmt.Sprintf("store %s, %s", typedRef(i.Val), typedRef(i.Addr))
}

func (i *Cast) String() string {
	return fmt.Sprintf("%%%s = %s %s to %s", i.name, i.Op, typedRef(i.X), i.typ)
}

func (i *Select) String() string {
	return fmt.Sprintf("%%%s = select %s, %s, %s", i.name, typedRef(i.Cond), typedRef(i.True), typedRef(i.False))
}

func (i *Phi) String() string {
	s := make([]string, len(i.Edges))
	for k, e := range i.Edges {
		pred := "?"
		if k < len(i.Preds) && i.Preds[k] != nil {
			pred = i.Preds[k].Name
		}
		ref := "<nil>"
		if e != nil {
			ref = e.Ref()
		}
		s[k] = fmt.Sprintf("[ %s, %%%s ]", ref, pred)
	}
	return fmt.Sprintf("%%%s = phi %s %s", i.name, i.typ, strings.Join(s, ", "))
}

func (i *ElemAddr) String() string {
	s := fmt.Sprintf("%%%s = getelementptr %s, %s", i.name, i.Source, typedRef(i.Base))
	if len(i.Indices) > 0 {
		s += ", " + typedRefs(i.Indices)
	}
	return s
}

func (i *Extract) String() string {
	return fmt.Sprintf("%%%s = extractvalue %s, %d", i.name, typedRef(i.X), i.Index)
}

func (i *BinOp) String() string {
	return fmt.Sprintf("%%%s = %s %s, %s", i.name, i.Op, typedRef(i.X), i.Y.Ref())
}

func (i *Call) String() string {
	s := ""
	if !IsVoid(i.typ) {
		s = "%" + i.name + " = "
	}
	if i.Tail {
		s += "tail "
	}
	return s + fmt.Sprintf("call %s %s(%s)", i.typ, i.Callee.Ref(), typedRefs(i.Args))
}

func (i *Intrinsic) String() string {
	s := ""
	if !IsVoid(i.typ) {
		s = "%" + i.name + " = "
	}
	return s + fmt.Sprintf("call %s @%s(%s)", i.typ, i.ID, typedRefs(i.Args))
}

func (i *AtomicRMW) String() string {
	return fmt.Sprintf("%%%s = atomicrmw %s %s, %s", i.name, i.Op, typedRef(i.Addr), typedRef(i.Val))
}

func (i *CmpXchg) String() string {
	return fmt.Sprintf("%%%s = cmpxchg %s, %s, %s", i.name, typedRef(i.Addr), typedRef(i.Old), typedRef(i.New))
}

func (i *Fence) String() string { return "fence" }

func (i *DebugValue) String() string {
	return fmt.Sprintf("dbg.value %s, %q", typedRef(i.X), i.Var)
}

func (i *Br) String() string { return "br label %" + i.Target.Name }

func (i *CondBr) String() string {
	return fmt.Sprintf("br %s, label %%%s, label %%%s", typedRef(i.Cond), i.Then.Name, i.Else.Name)
}

func (i *Ret) String() string {
	if len(i.Results) == 0 {
		return "ret void"
	}
	return "ret " + typedRefs(i.Results)
}

func (i *Unreachable) String() string { return "unreachable" }

func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, 0, len(f.Params)+1)
	for _, p := range f.Params {
		params = append(params, typedRef(p))
	}
	if f.Sig.Variadic {
		params = append(params, "...")
	}
	kw := "define"
	if f.IsDeclaration() {
		kw = "declare"
	}
	fmt.Fprintf(&sb, "%s %s @%s(%s)", kw, f.Sig.Result, f.name, strings.Join(params, ", "))
	if f.AllocKind != 0 {
		fmt.Fprintf(&sb, " allockind(%q)", f.AllocKind)
	}
	if f.Sanitize {
		sb.WriteString(" sanitize")
	}
	if f.IsDeclaration() {
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(" {\n")
	for _, b := range f.Blocks {
		sb.WriteString(b.String())
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (g *Global) String() string {
	kind := "global"
	if g.Constant {
		kind = "constant"
	}
	if g.Init == nil {
		return fmt.Sprintf("@%s = external %s %s", g.name, kind, g.ValueType)
	}
	return fmt.Sprintf("@%s = %s %s %s", g.name, kind, g.ValueType, g.Init.Ref())
}

func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; module %s\n", m.Name)
	for _, g := range m.Globals {
		sb.WriteString(g.String() + "\n")
	}
	if len(m.Initializers) > 0 {
		s := make([]string, len(m.Initializers))
		for i, init := range m.Initializers {
			s[i] = fmt.Sprintf("{ %d, @%s }", init.Priority, init.Fn.name)
		}
		fmt.Fprintf(&sb, "; initializers: %s\n", strings.Join(s, ", "))
	}
	for _, f := range m.Functions {
		sb.WriteString("\n" + f.String())
	}
	return sb.String()
}
