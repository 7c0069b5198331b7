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

package heapdemo

import (
	"bytes"
	"strings"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
)

func TestDemo(t *testing.T) {
	var out, trace bytes.Buffer
	err := Demo(&out, config.NewDefault().Runtime, config.NewLogGroupWriter(config.TraceLevel, &trace), []byte("k"))
	if err != nil {
		t.Fatalf("demo failed: %v\n%s", err, out.String())
	}
	for _, expected := range []string{
		"out-of-bounds write",
		"use after free",
		"forged pointer",
		"double free",
		"0 live allocations",
	} {
		if !strings.Contains(out.String(), expected) {
			t.Errorf("expected %q in output:\n%s", expected, out.String())
		}
	}
	if !strings.Contains(trace.String(), "untagging memory") {
		t.Errorf("expected the tagging events to be traced")
	}
}
