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

package provenance

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/alias"
	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/analysis/ir"
)

func loadSites(t *testing.T) *ir.Module {
	t.Helper()
	m, err := ir.LoadModule(filepath.Join("testdata", "sites.yaml"))
	if err != nil {
		t.Fatalf("could not load test module: %v", err)
	}
	return m
}

func TestLocalSlotIsEligibleAndParameterIsNot(t *testing.T) {
	m := loadSites(t)
	res := Analyze(m.Func("local_slot"), alias.NewBasic(), AliasAware, config.Discard())
	if len(res.Sites) != 2 {
		t.Fatalf("expected a store and a load, got %v", res.Sites)
	}
	if res.Sites[0].Kind != StoreSite || res.Sites[1].Kind != LoadSite {
		t.Errorf("unexpected site kinds %v", res.Sites)
	}
	for _, s := range res.Sites {
		if !s.Eligible {
			t.Errorf("%s should be eligible", s)
		}
	}

	res = Analyze(m.Func("param_load"), alias.NewBasic(), AliasAware, config.Discard())
	if len(res.Sites) != 1 || res.Sites[0].Eligible {
		t.Fatalf("the load from the parameter should be ineligible: %v", res.Sites)
	}
	if !strings.Contains(res.Sites[0].Reason, "%p comes from elsewhere") {
		t.Errorf("unexpected reason %q", res.Sites[0].Reason)
	}
}

func TestEligibilityInBothModes(t *testing.T) {
	m := loadSites(t)
	expected := map[string]struct{ aliasAware, noAlias bool }{
		"local_slot":                 {true, true},
		"param_load":                 {false, false},
		"global_store":               {false, false},
		"passed_to_external":         {false, false},
		"passed_through_leak":        {false, false},
		"passed_to_variadic":         {false, false},
		"passed_to_indirect":         {false, false},
		"passed_to_defined":          {false, true},
		"passed_to_mutual_recursion": {true, true},
		"recurse":                    {false, true},
		"phi_loop":                   {true, true},
	}
	for name, exp := range expected {
		fn := m.Func(name)
		for _, mode := range []Mode{AliasAware, NoAlias} {
			want := exp.aliasAware
			if mode == NoAlias {
				want = exp.noAlias
			}
			res := Analyze(fn, alias.NewBasic(), mode, config.Discard())
			if len(res.Sites) == 0 {
				t.Errorf("%s: no sites found", name)
			}
			for _, s := range res.Sites {
				if s.Eligible != want {
					t.Errorf("%s (%s): expected eligible=%v for %s", name, mode, want, s)
				}
			}
		}
	}
}

func TestHasOtherUses(t *testing.T) {
	m := loadSites(t)
	a := NewAnalyzer(alias.NewBasic(), NoAlias, config.Discard())
	cases := []struct {
		fn    string
		value string
		other bool
	}{
		{"passed_to_external", "slot", true},
		{"passed_through_leak", "slot", true},
		{"passed_to_defined", "slot", false},
		{"passed_to_mutual_recursion", "slot", false},
		{"leak", "q", true},
		{"inspect", "q", false},
		{"local_slot", "buf", false},
	}
	for _, c := range cases {
		fn := m.Func(c.fn)
		if got := a.HasOtherUses(fn, fn.ValueNamed(c.value)); got != c.other {
			t.Errorf("HasOtherUses(%s, %%%s) = %v, expected %v", c.fn, c.value, got, c.other)
		}
	}
}

func TestComesFromElsewhere(t *testing.T) {
	m := loadSites(t)
	cases := []struct {
		fn    string
		value string
		from  bool
	}{
		{"local_slot", "slot", false},
		{"local_slot", "buf", true},
		{"local_slot", "r", true},
		{"leak", "q", true},
		{"leak", "r", true},
		{"phi_loop", "p", false},
		{"phi_loop", "p2", false},
	}
	for _, c := range cases {
		v := m.Func(c.fn).ValueNamed(c.value)
		if got := ComesFromElsewhere(v); got != c.from {
			t.Errorf("ComesFromElsewhere(%s: %%%s) = %v, expected %v", c.fn, c.value, got, c.from)
		}
	}
	if !ComesFromElsewhere(m.Global("table")) || !ComesFromElsewhere(m.Func("make")) {
		t.Errorf("globals and functions come from elsewhere")
	}
	if ComesFromElsewhere(ir.NewConstNull()) {
		t.Errorf("constants do not come from elsewhere")
	}
}

func TestModeOf(t *testing.T) {
	c := config.NewDefault()
	if ModeOf(c) != AliasAware {
		t.Errorf("default mode should be alias-aware")
	}
	c.AliasMode = config.AliasModeNone
	if ModeOf(c) != NoAlias {
		t.Errorf("mode should be no-alias")
	}
}
