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

// Package provenance decides which loads and stores of pointers can be protected by pointer authentication.
//
// A memory location is eligible when every member of its alias closure
//   - has no other uses: it is never passed, directly or through the bodies of the functions it is passed to, into a
//     function that cannot be analyzed (declaration, variadic function, indirect call, missing formal), and
//   - does not come from elsewhere: it is not derived from a parameter, a global, a call result or a loaded pointer.
//
// Signing a pointer stored at an eligible location cannot break code that reads the location without authenticating.
package provenance

import (
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/alias"
	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
)

// Mode selects whether alias closures are computed before testing a location
type Mode int

const (
	// AliasAware tests every member of the alias closure of a location
	AliasAware Mode = iota
	// NoAlias only tests the location itself
	NoAlias
)

func (m Mode) String() string {
	if m == NoAlias {
		return config.AliasModeNone
	}
	return config.AliasModeClosure
}

// ModeOf returns the mode corresponding to the alias-mode option of the configuration
func ModeOf(c *config.Config) Mode {
	if c.AliasMode == config.AliasModeNone {
		return NoAlias
	}
	return AliasAware
}

// SiteKind distinguishes loads from stores
type SiteKind int

const (
	// LoadSite is a load of a pointer
	LoadSite SiteKind = iota
	// StoreSite is a store of a pointer
	StoreSite
)

func (k SiteKind) String() string {
	if k == LoadSite {
		return "load"
	}
	return "store"
}

// A Site is a load or store transferring a pointer
type Site struct {
	Kind     SiteKind
	Instr    ir.Instruction
	Location ir.Value
	Eligible bool
	// Reason explains why an ineligible site cannot be protected
	Reason string
}

func (s Site) String() string {
	if s.Eligible {
		return fmt.Sprintf("eligible %s %s", s.Kind, lang.FmtInstr(s.Instr))
	}
	return fmt.Sprintf("ineligible %s %s (%s)", s.Kind, lang.FmtInstr(s.Instr), s.Reason)
}

// Result holds the sites of a function, in program order
type Result struct {
	Function *ir.Function
	Mode     Mode
	Sites    []Site
}

// Eligible returns the eligible sites
func (r *Result) Eligible() []Site {
	var sites []Site
	for _, s := range r.Sites {
		if s.Eligible {
			sites = append(sites, s)
		}
	}
	return sites
}

// Site returns the site of an instruction
func (r *Result) Site(instr ir.Instruction) (Site, bool) {
	for _, s := range r.Sites {
		if s.Instr == instr {
			return s, true
		}
	}
	return Site{}, false
}

type verdict struct {
	eligible bool
	reason   string
}

// An Analyzer tests memory locations. It caches the alias closure finders of the functions it visits, and therefore
// must not be used after the IR has been modified.
type Analyzer struct {
	oracle  alias.Oracle
	mode    Mode
	logger  *config.LogGroup
	finders map[*ir.Function]*alias.Finder
}

// NewAnalyzer returns an analyzer using the alias oracle in the given mode
func NewAnalyzer(oracle alias.Oracle, mode Mode, logger *config.LogGroup) *Analyzer {
	return &Analyzer{
		oracle:  oracle,
		mode:    mode,
		logger:  logger,
		finders: map[*ir.Function]*alias.Finder{},
	}
}

// Analyze classifies all the pointer loads and stores of fn. The IR is not modified.
func Analyze(fn *ir.Function, oracle alias.Oracle, mode Mode, logger *config.LogGroup) *Result {
	return NewAnalyzer(oracle, mode, logger).Analyze(fn)
}

// Analyze classifies all the pointer loads and stores of fn
func (a *Analyzer) Analyze(fn *ir.Function) *Result {
	res := &Result{Function: fn, Mode: a.mode}
	memo := map[ir.Value]verdict{}
	lang.IterateInstructions(fn, func(instr ir.Instruction) {
		location, ok := lang.PointerAccess(instr)
		if !ok {
			return
		}
		v, seen := memo[location]
		if !seen {
			v = a.testLocation(fn, location)
			memo[location] = v
		}
		kind := LoadSite
		if _, isStore := instr.(*ir.Store); isStore {
			kind = StoreSite
		}
		site := Site{Kind: kind, Instr: instr, Location: location, Eligible: v.eligible, Reason: v.reason}
		a.logger.Debugf("%s\n", site)
		res.Sites = append(res.Sites, site)
	})
	return res
}

// IsEligible returns true if the memory location can be protected by pointer authentication
func (a *Analyzer) IsEligible(fn *ir.Function, location ir.Value) bool {
	return a.testLocation(fn, location).eligible
}

func (a *Analyzer) testLocation(fn *ir.Function, location ir.Value) verdict {
	for _, member := range a.closure(fn, location) {
		if a.HasOtherUses(fn, member) {
			return verdict{reason: fmt.Sprintf("%s has other uses", member.Ref())}
		}
		if ComesFromElsewhere(member) {
			return verdict{reason: fmt.Sprintf("%s comes from elsewhere", member.Ref())}
		}
	}
	return verdict{eligible: true}
}

func (a *Analyzer) closure(fn *ir.Function, v ir.Value) []ir.Value {
	if a.mode == NoAlias {
		return []ir.Value{v}
	}
	f, ok := a.finders[fn]
	if !ok {
		f = alias.NewFinder(fn, a.oracle)
		a.finders[fn] = f
	}
	return f.Closure(v)
}

type use struct {
	fn *ir.Function
	v  ir.Value
}

// HasOtherUses returns true if v, a value of fn, may reach a function that cannot be analyzed. All the values
// computed from v are traced, and the values passed to defined functions are traced inside their bodies (together
// with their aliases in AliasAware mode). Values passed back to fn itself are not traced again.
func (a *Analyzer) HasOtherUses(fn *ir.Function, v ir.Value) bool {
	visited := map[use]bool{}
	var worklist []use
	push := func(u use) {
		if !visited[u] {
			visited[u] = true
			worklist = append(worklist, u)
		}
	}
	push(use{fn, v})
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, user := range cur.v.Referrers() {
			if call, ok := user.(*ir.Call); ok {
				for _, k := range lang.ArgIndices(call, cur.v) {
					callee := call.StaticCallee()
					if reason := unanalyzable(call, callee, k); reason != "" {
						a.logger.Tracef("%s: %s is passed to %s\n", fn.Name(), v.Ref(), reason)
						return true
					}
					if callee == fn {
						continue
					}
					for _, formal := range a.closure(callee, callee.Params[k]) {
						push(use{callee, formal})
					}
				}
			}
			if result, ok := ir.AsValue(user); ok {
				push(use{cur.fn, result})
			}
		}
	}
	return false
}

// unanalyzable returns a description of the callee if the argument k of the call cannot be traced in its body
func unanalyzable(call *ir.Call, callee *ir.Function, k int) string {
	switch {
	case callee == nil:
		return "an indirect call"
	case callee.IsDeclaration():
		return "declaration " + callee.Name()
	case callee.Sig.Variadic:
		return "variadic function " + callee.Name()
	case k >= len(callee.Params):
		return fmt.Sprintf("function %s without formal %d", callee.Name(), k)
	}
	return ""
}

// ComesFromElsewhere returns true if v is, or is computed from, a parameter, a global, a function, the result of a
// call or of an intrinsic, or a loaded pointer.
func ComesFromElsewhere(v ir.Value) bool {
	visited := map[ir.Value]bool{v: true}
	worklist := []ir.Value{v}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		var operands []*ir.Value
		switch x := cur.(type) {
		case *ir.Argument, *ir.Global, *ir.Function, *ir.Call:
			return true
		case *ir.Intrinsic:
			if !ir.IsVoid(x.Type()) {
				return true
			}
		case *ir.Load:
			if ir.IsPointer(x.Type()) {
				return true
			}
			operands = x.Operands()
		case *ir.ConstAggregate:
			for k := range x.Elems {
				operands = append(operands, &x.Elems[k])
			}
		case ir.Instruction:
			operands = x.Operands()
		}
		for _, op := range operands {
			if *op != nil && !visited[*op] {
				visited[*op] = true
				worklist = append(worklist, *op)
			}
		}
	}
	return false
}
