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

// Package funcutil contains generic helpers to apply functions over collections.
package funcutil

import "sync"

// Map returns a new slice b such for any i < len(a), b[i] = f(a[i])
func Map[T any, S any](a []T, f func(T) S) []S {
	b := make([]S, 0, len(a))
	for _, x := range a {
		b = append(b, f(x))
	}
	return b
}

// MapParallel is a parallel version of Map using numRoutines goroutines. The order of the results is the order of
// the inputs.
func MapParallel[T any, S any](a []T, f func(T) S, numRoutines int) []S {
	if numRoutines <= 0 {
		numRoutines = 1
	}
	res := make([]S, len(a))
	indices := make(chan int)
	go func() {
		defer close(indices)
		for i := range a {
			indices <- i
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numRoutines)
	for k := 0; k < numRoutines; k++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				res[i] = f(a[i])
			}
		}()
	}
	wg.Wait()
	return res
}
