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

package tagalloc

import (
	"fmt"
	"sync"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
)

// The process-wide allocator used by the package-level entry points
var (
	global   *Allocator
	globalMu sync.Mutex
)

// Init creates the process-wide allocator. It fails if the allocator is already initialized.
func Init(opts config.RuntimeOptions, logger *config.LogGroup) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return fmt.Errorf("tagged allocator already initialized")
	}
	a, err := New(opts, logger)
	if err != nil {
		return err
	}
	global = a
	return nil
}

// Shutdown closes the process-wide allocator. Init may be called again afterwards.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		return nil
	}
	err := global.Close()
	global = nil
	return err
}

// Default returns the process-wide allocator, initializing it with the default runtime options if needed
func Default() *Allocator {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		a, err := New(config.NewDefault().Runtime, config.Discard())
		if err != nil {
			panic(fmt.Sprintf("default tagged allocator: %v", err))
		}
		global = a
	}
	return global
}

// Malloc calls Malloc on the process-wide allocator
func Malloc(size uint64) uint64 { return Default().Malloc(size) }

// Calloc calls Calloc on the process-wide allocator
func Calloc(n, size uint64) uint64 { return Default().Calloc(n, size) }

// Realloc calls Realloc on the process-wide allocator
func Realloc(p, size uint64) uint64 { return Default().Realloc(p, size) }

// Free calls Free on the process-wide allocator
func Free(p uint64) error { return Default().Free(p) }

// AlignedAlloc calls AlignedAlloc on the process-wide allocator
func AlignedAlloc(align, size uint64) uint64 { return Default().AlignedAlloc(align, size) }

// Memalign calls Memalign on the process-wide allocator
func Memalign(align, size uint64) uint64 { return Default().Memalign(align, size) }
