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

package funcutil

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapParallelKeepsOrder(t *testing.T) {
	var in []int
	var expected []string
	for i := 0; i < 200; i++ {
		in = append(in, i)
		expected = append(expected, strconv.Itoa(i*i))
	}
	square := func(x int) string { return strconv.Itoa(x * x) }
	for _, n := range []int{0, 1, 7} {
		if diff := cmp.Diff(expected, MapParallel(in, square, n)); diff != "" {
			t.Errorf("MapParallel with %d routines (-want +got):\n%s", n, diff)
		}
	}
	if diff := cmp.Diff(expected, Map(in, square)); diff != "" {
		t.Errorf("Map (-want +got):\n%s", diff)
	}
	if got := MapParallel([]int{}, square, 3); len(got) != 0 {
		t.Errorf("expected no result, got %v", got)
	}
}
