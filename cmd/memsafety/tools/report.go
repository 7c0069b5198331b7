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

package tools

import (
	"fmt"
	"io"

	"github.com/awslabs/ar-go-memsafety/analysis/memsafety"
	"github.com/awslabs/ar-go-memsafety/analysis/stacksafety"
	"github.com/awslabs/ar-go-memsafety/internal/formatutil"
)

// PrintReport writes the per-function verdicts of res to w. Unless verbose is set, only the unsafe allocations and
// the ineligible sites are listed.
func PrintReport(w io.Writer, res *memsafety.Result, verbose bool) {
	for _, group := range res.RecursiveGroups {
		fmt.Fprintf(w, "%s", formatutil.Faint("recursive group:"))
		for _, fn := range group {
			fmt.Fprintf(w, " %s", fn.Name())
		}
		fmt.Fprintln(w)
	}
	for _, report := range res.Functions {
		fmt.Fprintf(w, "%s\n", formatutil.Bold(report.Function.Name()))
		for _, a := range report.Stack.Allocas {
			if report.Stack.Verdicts[a] == stacksafety.Safe {
				if verbose {
					fmt.Fprintf(w, "  %s %s\n", formatutil.Green("safe  "), formatutil.SanitizeRepr(a))
				}
				continue
			}
			fmt.Fprintf(w, "  %s %s (%s)\n", formatutil.Red("unsafe"), formatutil.SanitizeRepr(a),
				report.Stack.Reasons[a])
		}
		if report.Sites != nil {
			for _, site := range report.Sites.Sites {
				if site.Eligible && !verbose {
					continue
				}
				fmt.Fprintf(w, "  %s\n", formatutil.Sanitize(site.String()))
			}
		}
		for _, site := range report.AllocSites {
			fmt.Fprintf(w, "  %s %s -> %s\n", formatutil.Yellow("alloc "), formatutil.SanitizeRepr(site.Call),
				site.Kind.RuntimeFunction())
		}
	}
	fmt.Fprintf(w, "%s\n", formatutil.Cyan(res.Stats.String()))
}
