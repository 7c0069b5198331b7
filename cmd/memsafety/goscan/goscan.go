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

// Package goscan implements the goscan subcommand: it lowers Go packages and runs the hardening passes on them.
package goscan

import (
	"fmt"
	"os"
	"strings"

	"github.com/awslabs/ar-go-memsafety/analysis/frontend/ssair"
	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/tools"
	"golang.org/x/tools/go/ssa"
)

// Usage is the usage message of the goscan subcommand
const Usage = `Lower Go packages and report which of their allocations and memory accesses need hardening.
Functions whose doc comment contains //memsafety:sanitize are marked for instrumentation.
Usage:
  memsafety goscan [options] <package pattern(s)>
Examples:
  memsafety goscan ./...
  memsafety goscan -instrument -print ./cmd/server`

// Flags are the flags of the goscan subcommand
type Flags struct {
	tools.CommonFlags
	Platform   string
	All        bool
	Instrument bool
	Print      bool
}

// NewFlags parses the flags of the goscan subcommand
func NewFlags(args []string) (Flags, error) {
	unparsed := tools.NewUnparsedCommonFlags("goscan")
	platform := unparsed.FlagSet.String("platform", "", "GOOS of the loaded packages")
	all := unparsed.FlagSet.Bool("all", false, "lower the dependencies of the packages too")
	instrument := unparsed.FlagSet.Bool("instrument", false, "run the instrumentation after the analysis")
	printModule := unparsed.FlagSet.Bool("print", false, "print the lowered module")
	common, err := unparsed.Parse(args, Usage)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, Platform: *platform, All: *all, Instrument: *instrument, Print: *printModule}, nil
}

// Run runs the goscan subcommand
func Run(flags Flags) error {
	patterns := flags.FlagSet.Args()
	if len(patterns) == 0 {
		return fmt.Errorf("expected at least one package pattern")
	}
	cfg, logger, err := tools.LoadConfig(flags.CommonFlags)
	if err != nil {
		return err
	}

	logger.Infof("Loading %s\n", strings.Join(patterns, " "))
	program, err := ssair.LoadProgram(nil, flags.Platform, ssa.InstantiateGenerics, patterns)
	if err != nil {
		return fmt.Errorf("could not load program: %w", err)
	}
	fns := program.Functions(flags.All)
	logger.Infof("Lowering %d functions\n", len(fns))
	m, err := ssair.LowerProgram(strings.Join(patterns, " "), fns, logger)
	if err != nil {
		return fmt.Errorf("lowering failed: %w", err)
	}

	var res *memsafety.Result
	if flags.Instrument {
		res, err = memsafety.Run(cfg, logger, m)
	} else {
		res, err = memsafety.Analyze(cfg, logger, m)
	}
	if err != nil {
		return err
	}
	tools.PrintReport(os.Stdout, res, flags.Verbose)
	if flags.Print {
		fmt.Fprint(os.Stdout, m.String())
	}
	return nil
}
