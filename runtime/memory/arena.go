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

// Package memory simulates a flat address space with a libc-like backing allocator. Addresses are plain integers;
// address 0 is never part of an arena and plays the role of the null pointer.
package memory

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfBounds is returned when an access falls outside of the arena
	ErrOutOfBounds = errors.New("access outside of the arena")
	// ErrNotAllocated is returned when freeing an address that is not the start of a live block
	ErrNotAllocated = errors.New("address is not allocated")
)

// span is the free range [start, end)
type span struct {
	start, end uint64
}

// Arena is a contiguous range of simulated memory [base, base+size) with a first-fit allocator. Free ranges are kept
// sorted and coalesced.
type Arena struct {
	base uint64
	data []byte
	free []span
	live map[uint64]uint64
}

// NewArena returns an arena covering [base, base+size)
func NewArena(base, size uint64) (*Arena, error) {
	if base == 0 {
		return nil, fmt.Errorf("arena base cannot be the null address")
	}
	if size == 0 || base+size < base {
		return nil, fmt.Errorf("invalid arena size %d at %#x", size, base)
	}
	return &Arena{
		base: base,
		data: make([]byte, size),
		free: []span{{base, base + size}},
		live: map[uint64]uint64{},
	}, nil
}

// Base returns the first address of the arena
func (a *Arena) Base() uint64 { return a.base }

// Size returns the size in bytes of the arena
func (a *Arena) Size() uint64 { return uint64(len(a.data)) }

// AlignedAlloc reserves size bytes at an address multiple of align, and returns that address. It returns 0 if align
// is not a power of two or if no free range is large enough. A size of 0 reserves one byte.
func (a *Arena) AlignedAlloc(align, size uint64) uint64 {
	if align == 0 || align&(align-1) != 0 {
		return 0
	}
	if size == 0 {
		size = 1
	}
	for i, s := range a.free {
		start := (s.start + align - 1) &^ (align - 1)
		if start < s.start || start+size < start || start+size > s.end {
			continue
		}
		var rest []span
		if start > s.start {
			rest = append(rest, span{s.start, start})
		}
		if start+size < s.end {
			rest = append(rest, span{start + size, s.end})
		}
		a.free = append(a.free[:i], append(rest, a.free[i+1:]...)...)
		a.live[start] = size
		return start
	}
	return 0
}

// Free releases the block starting at addr
func (a *Arena) Free(addr uint64) error {
	size, ok := a.live[addr]
	if !ok {
		return fmt.Errorf("free %#x: %w", addr, ErrNotAllocated)
	}
	delete(a.live, addr)
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].start > addr })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{addr, addr + size}
	// coalesce with the next range, then with the previous one
	if i+1 < len(a.free) && a.free[i].end == a.free[i+1].start {
		a.free[i].end = a.free[i+1].end
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end == a.free[i].start {
		a.free[i-1].end = a.free[i].end
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
	return nil
}

// SizeOf returns the size of the live block starting at addr
func (a *Arena) SizeOf(addr uint64) (uint64, bool) {
	size, ok := a.live[addr]
	return size, ok
}

// Live returns the number of live blocks
func (a *Arena) Live() int { return len(a.live) }

// FreeBytes returns the number of bytes that are not reserved
func (a *Arena) FreeBytes() uint64 {
	var n uint64
	for _, s := range a.free {
		n += s.end - s.start
	}
	return n
}

func (a *Arena) offset(addr, n uint64) (uint64, error) {
	if addr < a.base || addr+n < addr || addr+n > a.base+uint64(len(a.data)) {
		return 0, fmt.Errorf("[%#x, %#x): %w", addr, addr+n, ErrOutOfBounds)
	}
	return addr - a.base, nil
}

// Read returns a copy of the n bytes at addr. Reads are not restricted to live blocks.
func (a *Arena) Read(addr, n uint64) ([]byte, error) {
	off, err := a.offset(addr, n)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, a.data[off:off+n])
	return b, nil
}

// Write copies b at addr
func (a *Arena) Write(addr uint64, b []byte) error {
	off, err := a.offset(addr, uint64(len(b)))
	if err != nil {
		return err
	}
	copy(a.data[off:], b)
	return nil
}
