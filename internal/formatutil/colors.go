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

// Package formatutil colors the output of the command line tools and sanitizes the strings they print.
package formatutil

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/term"
)

var (
	Bold   = Color("\033[1m%s\033[0m")
	Faint  = Color("\033[2m%s\033[0m")
	Red    = Color("\033[1;31m%s\033[0m")
	Green  = Color("\033[1;32m%s\033[0m")
	Yellow = Color("\033[1;33m%s\033[0m")
	Cyan   = Color("\033[1;36m%s\033[0m")
)

// colorsEnabled reports whether the standard output is a terminal. Tests override it.
var colorsEnabled = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// Color returns a function printing its arguments with the format colorString when the standard output is a
// terminal, and plainly otherwise
func Color(colorString string) func(...any) string {
	return func(args ...any) string {
		if colorsEnabled() {
			return fmt.Sprintf(colorString, fmt.Sprint(args...))
		}
		return fmt.Sprint(args...)
	}
}

// Sanitize escapes the control characters of s, such as terminal escape sequences
func Sanitize(s string) string {
	r := strconv.Quote(s)
	return r[1 : len(r)-1]
}

// SanitizeRepr is Sanitize applied to the string representation of an object
func SanitizeRepr(s fmt.Stringer) string {
	return Sanitize(s.String())
}
