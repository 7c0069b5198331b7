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

// Package analyze implements the analyze subcommand: it prints the verdicts of the analysis phase on a module
// without instrumenting it.
package analyze

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-go-memsafety/analysis/ir"
	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/tools"
)

// Usage is the usage message of the analyze subcommand
const Usage = `Print the stack safety, provenance and allocation site verdicts of a module.
Usage:
  memsafety analyze [options] <module.yaml>
Examples:
  memsafety analyze -verbose module.yaml`

// Run runs the analyze subcommand
func Run(flags tools.CommonFlags) error {
	path, err := tools.Arg(flags, "module file")
	if err != nil {
		return err
	}
	cfg, logger, err := tools.LoadConfig(flags)
	if err != nil {
		return err
	}
	m, err := ir.LoadModule(path)
	if err != nil {
		return fmt.Errorf("could not load module: %w", err)
	}
	res, err := memsafety.Analyze(cfg, logger, m)
	if err != nil {
		return err
	}
	tools.PrintReport(os.Stdout, res, flags.Verbose)
	return nil
}
