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

package formatutil

import "testing"

func TestColor(t *testing.T) {
	saved := colorsEnabled
	defer func() { colorsEnabled = saved }()

	colorsEnabled = func() bool { return false }
	if got := Red("unsafe ", 2); got != "unsafe 2" {
		t.Errorf("expected plain output, got %q", got)
	}
	colorsEnabled = func() bool { return true }
	if got := Red("unsafe"); got != "\033[1;31munsafe\033[0m" {
		t.Errorf("expected colored output, got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("a\033[1mb\n"); got != `a\x1b[1mb\n` {
		t.Errorf("unexpected sanitized string %q", got)
	}
}
