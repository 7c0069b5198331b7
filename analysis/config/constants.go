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

package config

const (
	// DefaultGranuleSize is the size of a tagging granule on the supported targets
	DefaultGranuleSize = 16
	// DefaultHeapBase is the first address of the simulated heap. Address 0 is never valid.
	DefaultHeapBase = 0x10000
	// DefaultHeapSize is 1MiB
	DefaultHeapSize = 1 << 20
	// DefaultTableCapacity is the initial number of slots of the allocator metadata table
	DefaultTableCapacity = 64
	// RuntimePrefix is the prefix of every function of the runtime library. Those functions are never instrumented.
	RuntimePrefix = "__memsafety_"
)
