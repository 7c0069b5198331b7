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

// Package tagalloc implements the tagged heap allocator targeted by the rewritten allocation calls.
//
// Every allocation is backed by a block of the simulated memory and covered by a segment of the tagging primitive.
// The metadata of an allocation is kept out of band, in a table keyed by the untagged address, so that it can be
// recovered from the pointer alone without trusting its tag bits.
//
// An Allocator is not safe for concurrent use unless it is created with the Synchronized option.
package tagalloc

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/runtime/memory"
	"github.com/awslabs/ar-go-memsafety/runtime/tagging"
)

var (
	// ErrUnknownPointer is returned when freeing a pointer that was not returned by the allocator
	ErrUnknownPointer = errors.New("pointer was not allocated by the tagged allocator")
	// ErrClosed is returned by the entry points of a closed allocator
	ErrClosed = errors.New("allocator is closed")
)

// Allocator is a tagged heap allocator
type Allocator struct {
	opts   config.RuntimeOptions
	logger *config.LogGroup
	mem    *memory.Arena
	prim   *tagging.Software
	table  *Table
	mu     sync.Mutex
	closed bool
}

// New returns an allocator over a fresh simulated heap described by opts
func New(opts config.RuntimeOptions, logger *config.LogGroup) (*Allocator, error) {
	if opts.TableCapacity <= 0 {
		return nil, fmt.Errorf("table capacity must be positive, got %d", opts.TableCapacity)
	}
	mem, err := memory.NewArena(opts.HeapBase, opts.HeapSize)
	if err != nil {
		return nil, fmt.Errorf("could not create heap: %w", err)
	}
	return &Allocator{
		opts:   opts,
		logger: logger,
		mem:    mem,
		prim:   tagging.NewSoftware(mem, logger),
		table:  NewTable(opts.TableCapacity, opts.MaxTableCapacity),
	}, nil
}

func (a *Allocator) lock() func() {
	if !a.opts.Synchronized {
		return func() {}
	}
	a.mu.Lock()
	return a.mu.Unlock
}

// Close releases the allocator. Allocations still live are reported at debug level.
func (a *Allocator) Close() error {
	defer a.lock()()
	if a.closed {
		return ErrClosed
	}
	if n := a.table.Len(); n > 0 {
		a.logger.Debugf("closing allocator with %d live allocations\n", n)
	}
	a.closed = true
	return nil
}

// Live returns the number of live allocations
func (a *Allocator) Live() int {
	defer a.lock()()
	return a.table.Len()
}

// Lookup returns the metadata of the allocation p points to the start of
func (a *Allocator) Lookup(p uint64) (Metadata, bool) {
	defer a.lock()()
	return a.table.Lookup(tagging.Untag(p))
}

func roundUp(n uint64) uint64 {
	return (n + tagging.Granule - 1) &^ (tagging.Granule - 1)
}

// allocate returns a tagged pointer to a segment of at least size bytes aligned on align, or 0
func (a *Allocator) allocate(align, size uint64) uint64 {
	if a.closed {
		return 0
	}
	if align < tagging.Granule {
		align = tagging.Granule
	}
	allocated := roundUp(size)
	if allocated < size {
		return 0
	}
	if allocated == 0 {
		allocated = tagging.Granule
	}
	base := a.mem.AlignedAlloc(align, allocated)
	if base == 0 {
		a.logger.Debugf("out of memory allocating %d bytes\n", size)
		return 0
	}
	tagged := a.prim.SegmentNew(base, allocated)
	meta := Metadata{Base: base, Tag: tagging.Tag(tagged), Requested: size, Allocated: allocated}
	if !a.table.Insert(base, meta) {
		a.logger.Debugf("metadata table is full (%d entries)\n", a.table.Len())
		a.prim.SegmentFree(tagged, base, allocated)
		_ = a.mem.Free(base)
		return 0
	}
	a.logger.Tracef("tagging memory %#x, size %d\n", tagged, allocated)
	return tagged
}

func (a *Allocator) free(p uint64) error {
	if p == 0 {
		return nil
	}
	if a.closed {
		return ErrClosed
	}
	base := tagging.Untag(p)
	meta, ok := a.table.Lookup(base)
	if !ok {
		a.logger.Errorf("free of unknown pointer %#x\n", p)
		return fmt.Errorf("free %#x: %w", p, ErrUnknownPointer)
	}
	if tag := tagging.Tag(p); tag != meta.Tag {
		a.logger.Errorf("free of %#x with stale tag %d\n", p, tag)
		return fmt.Errorf("free %#x: %w", p, tagging.ErrTagMismatch)
	}
	a.logger.Tracef("untagging memory %#x, size %d\n", p, meta.Allocated)
	a.prim.SegmentFree(p, meta.Base, meta.Allocated)
	a.table.Delete(base)
	return a.mem.Free(meta.Base)
}

// Malloc allocates size bytes and returns a tagged pointer, or 0 if the allocation failed
func (a *Allocator) Malloc(size uint64) uint64 {
	defer a.lock()()
	return a.allocate(tagging.Granule, size)
}

// AlignedAlloc allocates size bytes aligned on align. It returns 0 if align is not a power of two.
func (a *Allocator) AlignedAlloc(align, size uint64) uint64 {
	defer a.lock()()
	if align == 0 || align&(align-1) != 0 {
		a.logger.Debugf("invalid alignment %d\n", align)
		return 0
	}
	return a.allocate(align, size)
}

// Memalign is AlignedAlloc
func (a *Allocator) Memalign(align, size uint64) uint64 {
	return a.AlignedAlloc(align, size)
}

// Calloc allocates n elements of size bytes set to zero. It returns 0 if n*size overflows.
func (a *Allocator) Calloc(n, size uint64) uint64 {
	defer a.lock()()
	hi, total := bits.Mul64(n, size)
	if hi != 0 {
		a.logger.Debugf("calloc(%d, %d) overflows\n", n, size)
		return 0
	}
	p := a.allocate(tagging.Granule, total)
	if p == 0 {
		return 0
	}
	meta, _ := a.table.Lookup(tagging.Untag(p))
	if err := a.prim.Store(p, make([]byte, meta.Allocated)); err != nil {
		a.logger.Errorf("could not clear %#x: %v\n", p, err)
	}
	return p
}

// Realloc resizes the allocation of p to size bytes:
//   - if p is 0, it behaves as Malloc(size);
//   - if size is 0, it frees p and returns 0;
//   - if size fits in the segment of p, only the metadata changes and p is returned;
//   - otherwise a new allocation receives the first min(requested, size) bytes of p, and p is freed.
//
// A pointer unknown to the allocator is treated as 0. If the new allocation fails, p is left untouched and 0 is
// returned.
func (a *Allocator) Realloc(p, size uint64) uint64 {
	defer a.lock()()
	if p == 0 {
		return a.allocate(tagging.Granule, size)
	}
	if size == 0 {
		if err := a.free(p); err != nil {
			a.logger.Debugf("realloc: %v\n", err)
		}
		return 0
	}
	base := tagging.Untag(p)
	meta, ok := a.table.Lookup(base)
	if !ok || meta.Tag != tagging.Tag(p) {
		a.logger.Warnf("realloc of unknown pointer %#x, allocating instead\n", p)
		return a.allocate(tagging.Granule, size)
	}
	if roundUp(size) <= meta.Allocated {
		meta.Requested = size
		a.table.Update(base, meta)
		return p
	}
	q := a.allocate(tagging.Granule, size)
	if q == 0 {
		return 0
	}
	n := meta.Requested
	if size < n {
		n = size
	}
	data, err := a.prim.Load(p, n)
	if err == nil {
		err = a.prim.Store(q, data)
	}
	if err != nil {
		a.logger.Errorf("realloc: could not copy %#x to %#x: %v\n", p, q, err)
	}
	if err := a.free(p); err != nil {
		a.logger.Errorf("realloc: %v\n", err)
	}
	return q
}

// Free releases the allocation p points to. Freeing 0 does nothing.
func (a *Allocator) Free(p uint64) error {
	defer a.lock()()
	return a.free(p)
}

// Load reads n bytes through p, checking the tag of p
func (a *Allocator) Load(p, n uint64) ([]byte, error) {
	defer a.lock()()
	if a.closed {
		return nil, ErrClosed
	}
	return a.prim.Load(p, n)
}

// Store writes b through p, checking the tag of p
func (a *Allocator) Store(p uint64, b []byte) error {
	defer a.lock()()
	if a.closed {
		return ErrClosed
	}
	return a.prim.Store(p, b)
}
