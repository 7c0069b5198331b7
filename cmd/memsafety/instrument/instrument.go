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

// Package instrument implements the instrument subcommand: it hardens a module and prints the result.
package instrument

import (
	"fmt"
	"io"
	"os"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/tools"
)

// Usage is the usage message of the instrument subcommand
const Usage = `Harden a module and print the instrumented module.
Usage:
  memsafety instrument [options] <module.yaml>
Examples:
  memsafety instrument -config=config.yaml -o out.ir module.yaml`

// Flags are the flags of the instrument subcommand
type Flags struct {
	tools.CommonFlags
	Output string
	Report bool
}

// NewFlags parses the flags of the instrument subcommand
func NewFlags(args []string) (Flags, error) {
	unparsed := tools.NewUnparsedCommonFlags("instrument")
	output := unparsed.FlagSet.String("o", "", "output file for the instrumented module (default: standard output)")
	report := unparsed.FlagSet.Bool("report", false, "print the per-function report on standard error")
	common, err := unparsed.Parse(args, Usage)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, Output: *output, Report: *report}, nil
}

// Run runs the instrument subcommand
func Run(flags Flags) error {
	path, err := tools.Arg(flags.CommonFlags, "module file")
	if err != nil {
		return err
	}
	cfg, logger, err := tools.LoadConfig(flags.CommonFlags)
	if err != nil {
		return err
	}
	m, err := ir.LoadModule(path)
	if err != nil {
		return fmt.Errorf("could not load module: %w", err)
	}
	res, err := memsafety.Run(cfg, logger, m)
	if err != nil {
		return err
	}
	if flags.Report {
		tools.PrintReport(os.Stderr, res, flags.Verbose)
	}

	var w io.Writer = os.Stdout
	if flags.Output != "" {
		f, err := os.Create(flags.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	_, err = io.WriteString(w, m.String())
	return err
}
