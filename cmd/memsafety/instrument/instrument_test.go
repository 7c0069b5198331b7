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

package instrument

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.ir")
	module := filepath.Join("..", "..", "..", "analysis", "memsafety", "testdata", "program.yaml")
	flags, err := NewFlags([]string{"-o", out, module})
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(flags); err != nil {
		t.Fatalf("instrument failed: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, expected := range []string{"@memsafety.segment.new", "@memsafety.pointer.auth", "@__memsafety_malloc"} {
		if !strings.Contains(string(b), expected) {
			t.Errorf("expected %s in the instrumented module", expected)
		}
	}
}

func TestRunMissingModule(t *testing.T) {
	flags, err := NewFlags([]string{"does-not-exist.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(flags); err == nil || !strings.Contains(err.Error(), "could not load module") {
		t.Errorf("expected a load error, got %v", err)
	}
}
