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

// Package memsafety runs the memory-safety hardening passes over a module.
//
// The passes run in two phases. The analysis phase classifies the stack allocations, the load and store sites and
// the allocation calls of every selected function. The mutation phase then instruments the functions using only
// the results of the analysis phase, and finally the module initialization phase signs the function pointers
// embedded in global tables.
package memsafety

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/awslabs/ar-go-memsafety/analysis/alias"
	"github.com/awslabs/ar-go-memsafety/analysis/allocsite"
	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/instrument"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/lang"
	"github.com/awslabs/ar-go-memsafety/analysis/provenance"
	"github.com/awslabs/ar-go-memsafety/analysis/stacksafety"
	"github.com/awslabs/ar-go-memsafety/internal/funcutil"
)

// Version is the version of the memsafety tools
const Version = "v0.1.0"

// FunctionReport holds the analysis results and the instrumentation summary of one function
type FunctionReport struct {
	Function *ir.Function

	// Stack holds the stack safety verdicts
	Stack *stacksafety.Result

	// Sites holds the eligibility of the load and store sites
	Sites *provenance.Result

	// AllocSites are the allocation calls found in the function
	AllocSites []allocsite.Site

	// StackReport is nil if the stack instrumentation is disabled
	StackReport *instrument.StackReport

	// PointerReport is nil if neither pointers nor function pointers are instrumented
	PointerReport *instrument.PointerReport
}

// Stats are the counters of a run
type Stats struct {
	Functions          int
	SafeAllocas        int
	UnsafeAllocas      int
	GuardSlots         int
	SegmentFrees       int
	EligibleSites      int
	IneligibleSites    int
	RewrittenCalls     int
	SignedFunctions    int
	AuthenticatedCalls int
	SignedGlobalSlots  int
}

func (s Stats) String() string {
	return fmt.Sprintf("functions: %d, allocas: %d safe / %d unsafe, guard slots: %d, segment frees: %d, "+
		"sites: %d eligible / %d ineligible, rewritten allocation calls: %d, signed function operands: %d, "+
		"authenticated indirect calls: %d, signed global slots: %d",
		s.Functions, s.SafeAllocas, s.UnsafeAllocas, s.GuardSlots, s.SegmentFrees, s.EligibleSites,
		s.IneligibleSites, s.RewrittenCalls, s.SignedFunctions, s.AuthenticatedCalls, s.SignedGlobalSlots)
}

// Result is the result of a run
type Result struct {
	// Functions are the reports of the selected functions, in module order
	Functions []*FunctionReport

	// RecursiveGroups are the groups of mutually recursive functions of the module
	RecursiveGroups [][]*ir.Function

	// SignGlobals is the synthesized initializer signing global tables, nil if none was needed
	SignGlobals *ir.Function

	// TableSlots are the function pointers signed by SignGlobals
	TableSlots []instrument.TableSlot

	Stats Stats
}

// Report returns the report of fn, or nil if fn was not selected
func (r *Result) Report(fn *ir.Function) *FunctionReport {
	for _, report := range r.Functions {
		if report.Function == fn {
			return report
		}
	}
	return nil
}

// SelectFunctions returns the functions of m that should be instrumented: functions with a body that are not part
// of the runtime library, and, if cfg.OnlySanitized is set, that carry the sanitize attribute.
func SelectFunctions(cfg *config.Config, m *ir.Module) []*ir.Function {
	var selected []*ir.Function
	for _, fn := range m.Functions {
		if fn.IsDeclaration() || lang.IsRuntimeFunction(fn) {
			continue
		}
		if cfg.OnlySanitized && !fn.Sanitize {
			continue
		}
		selected = append(selected, fn)
	}
	return selected
}

// Analyze runs the analysis phase over m without modifying it. The statistics of the result only count the
// analysis verdicts.
func Analyze(cfg *config.Config, logger *config.LogGroup, m *ir.Module) (*Result, error) {
	numRoutines := runtime.NumCPU() - 1
	if numRoutines <= 0 {
		numRoutines = 1
	}

	result := &Result{}
	selected := SelectFunctions(cfg, m)
	logger.Infof("Selected %d functions out of %d in %s\n", len(selected), len(m.Functions), m.Name)

	result.RecursiveGroups = RecursiveGroups(m)
	for _, group := range result.RecursiveGroups {
		logger.Debugf("Recursive group: %v\n", funcutil.Map(group, (*ir.Function).Name))
	}

	start := time.Now()
	verdicts := funcutil.MapParallel(selected, func(fn *ir.Function) *stacksafety.Result {
		return stacksafety.AnalyzeFunction(fn, logger)
	}, numRoutines)

	oracle := alias.NewBasic()
	analyzer := provenance.NewAnalyzer(oracle, provenance.ModeOf(cfg), logger)
	var errs []error
	for i, fn := range selected {
		report := &FunctionReport{Function: fn, Stack: verdicts[i]}
		if cfg.InstrumentPointers {
			report.Sites = analyzer.Analyze(fn)
		}
		if cfg.RewriteAllocations {
			sites, err := allocsite.Collect(fn)
			if err != nil {
				errs = append(errs, err)
			}
			report.AllocSites = sites
		}
		result.Functions = append(result.Functions, report)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	logger.Infof("Analysis phase done (%.2f s).\n", time.Since(start).Seconds())
	result.Stats = computeStats(result)
	return result, nil
}

// Run analyzes and instruments m according to cfg. If the analysis phase fails for some function, the errors of
// every function are returned and the module is left untouched.
func Run(cfg *config.Config, logger *config.LogGroup, m *ir.Module) (*Result, error) {
	// ** First step **
	// Analysis phase. Nothing is modified until every function has been analyzed.
	result, err := Analyze(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	// ** Second step **
	// Mutation phase, per function.
	start := time.Now()
	for _, report := range result.Functions {
		if err := instrumentFunction(cfg, logger, m, report); err != nil {
			return result, fmt.Errorf("while instrumenting %s: %w", report.Function.Name(), err)
		}
	}
	logger.Infof("Instrumentation phase done (%.2f s).\n", time.Since(start).Seconds())

	// ** Third step **
	// Module initialization phase.
	if cfg.SignFunctionPointers {
		fn, slots, err := instrument.SignGlobalTables(m, logger)
		if err != nil {
			return result, err
		}
		result.SignGlobals = fn
		result.TableSlots = slots
	}

	result.Stats = computeStats(result)
	logger.Infof("%s\n", result.Stats)
	return result, nil
}

func instrumentFunction(cfg *config.Config, logger *config.LogGroup, m *ir.Module, report *FunctionReport) error {
	fn := report.Function
	if cfg.RewriteAllocations && len(report.AllocSites) > 0 {
		if err := allocsite.Rewrite(m, report.AllocSites, logger); err != nil {
			return err
		}
	}
	if cfg.InstrumentStack {
		stackReport, err := instrument.InstrumentStack(fn, report.Stack, cfg.Granule(), logger)
		if err != nil {
			return err
		}
		report.StackReport = stackReport
	}
	if cfg.InstrumentPointers {
		pointerReport, err := instrument.InstrumentPointers(fn, report.Sites, logger)
		if err != nil {
			return err
		}
		report.PointerReport = pointerReport
	}
	if cfg.SignFunctionPointers {
		if report.PointerReport == nil {
			report.PointerReport = &instrument.PointerReport{}
		}
		report.PointerReport.SignedFunctions = instrument.SignFunctionOperands(fn)
		report.PointerReport.AuthenticatedCalls = instrument.AuthenticateIndirectCalls(fn)
	}
	return nil
}

func computeStats(r *Result) Stats {
	s := Stats{Functions: len(r.Functions), SignedGlobalSlots: len(r.TableSlots)}
	for _, report := range r.Functions {
		safe := report.Stack.NumSafe()
		s.SafeAllocas += safe
		s.UnsafeAllocas += len(report.Stack.Allocas) - safe
		if report.Sites != nil {
			eligible := len(report.Sites.Eligible())
			s.EligibleSites += eligible
			s.IneligibleSites += len(report.Sites.Sites) - eligible
		}
		if report.StackReport != nil {
			s.SegmentFrees += report.StackReport.Frees
			if report.StackReport.Guard != nil {
				s.GuardSlots++
			}
		}
		if report.PointerReport != nil {
			s.SignedFunctions += report.PointerReport.SignedFunctions
			s.AuthenticatedCalls += report.PointerReport.AuthenticatedCalls
		}
		s.RewrittenCalls += len(report.AllocSites)
	}
	return s
}
