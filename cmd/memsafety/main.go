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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/analyze"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/goscan"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/heapdemo"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/instrument"
	"github.com/awslabs/ar-go-memsafety/cmd/memsafety/tools"
)

const usage = `memsafety: memory-safety hardening of programs
Usage:
  memsafety [tool] [options] <module or package(s)>
Tools:
  - analyze: prints the verdicts of the analyses on a module, without instrumenting it
  - instrument: hardens a module and prints the instrumented module
  - goscan: lowers Go packages and runs the analyses (and optionally the instrumentation) on them
  - heapdemo: runs a scenario on the tagged heap allocator
Examples:
  Harden a module: memsafety instrument -config=config.yaml module.yaml
  Scan Go packages: memsafety goscan ./...`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "error: expected subcommand\n%s\n", usage)
		os.Exit(2)
	}

	// hardcode help flag
	if snd := os.Args[1]; snd == "-help" || snd == "--help" {
		fmt.Println(usage)
		return
	}

	// hardcode version flag
	if snd := os.Args[1]; snd == "-version" || snd == "--version" {
		fmt.Println(memsafety.Version)
		return
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "analyze":
		flags, err := tools.NewCommonFlags("analyze", args, analyze.Usage)
		if err != nil {
			errExit(err)
		}
		if err := analyze.Run(flags); err != nil {
			errExit(err)
		}
	case "instrument":
		flags, err := instrument.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := instrument.Run(flags); err != nil {
			errExit(err)
		}
	case "goscan":
		flags, err := goscan.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := goscan.Run(flags); err != nil {
			errExit(err)
		}
	case "heapdemo":
		flags, err := heapdemo.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := heapdemo.Run(flags); err != nil {
			errExit(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unexpected command: %v\n", cmd)
		fmt.Fprintf(os.Stderr, "usage:\n%s\n", usage)
		os.Exit(2)
	}
}

func errExit(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	hint := tools.HintForErrorMessage(err.Error())
	if hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	os.Exit(2)
}
