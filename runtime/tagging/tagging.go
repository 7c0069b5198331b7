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

// Package tagging is a software rendition of the memory tagging primitive.
//
// A pointer carries a 4-bit tag in bits 56 to 59. Memory carries one tag per granule in a shadow map. A checked
// access through a pointer succeeds only if the tag of the pointer matches the tag of every granule accessed.
// Untagged memory has tag 0, so untagged pointers may access it freely.
package tagging

import (
	"errors"
	"fmt"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
)

const (
	// TagShift is the position of the tag in a pointer
	TagShift = 56
	// TagMask selects the tag bits of a pointer
	TagMask uint64 = 0x0F00000000000000
	// UntagMask clears the tag bits of a pointer
	UntagMask uint64 = 0xF0FFFFFFFFFFFFFF
	// Granule is the number of bytes sharing one tag
	Granule = config.DefaultGranuleSize
	// NumTags is the number of distinct tags
	NumTags = 16
)

// ErrTagMismatch is returned by a checked access whose pointer tag differs from the memory tag
var ErrTagMismatch = errors.New("tag mismatch")

// Tag returns the tag of p
func Tag(p uint64) uint8 { return uint8((p & TagMask) >> TagShift) }

// Untag returns p without its tag
func Untag(p uint64) uint64 { return p & UntagMask }

// WithTag returns p carrying tag
func WithTag(p uint64, tag uint8) uint64 {
	return Untag(p) | (uint64(tag&(NumTags-1)) << TagShift)
}

// Memory is the raw memory accessed through the primitive
type Memory interface {
	Read(addr, n uint64) ([]byte, error)
	Write(addr uint64, b []byte) error
}

// Software implements the tagging primitive over a Memory, keeping the memory tags in a shadow map indexed by
// granule.
type Software struct {
	mem    Memory
	shadow map[uint64]uint8
	next   uint8
	logger *config.LogGroup
}

// NewSoftware returns a primitive over mem where every granule is untagged
func NewSoftware(mem Memory, logger *config.LogGroup) *Software {
	return &Software{mem: mem, shadow: map[uint64]uint8{}, next: 1, logger: logger}
}

// nextTag returns the next tag of the generator. Tag 0 is reserved for untagged memory.
func (s *Software) nextTag() uint8 {
	t := s.next
	s.next++
	if s.next == NumTags {
		s.next = 1
	}
	return t
}

func granules(addr, size uint64) (first, last uint64) {
	first = addr / Granule
	last = (addr + size + Granule - 1) / Granule
	return
}

func (s *Software) retag(addr, size uint64, tag uint8) {
	first, last := granules(addr, size)
	for g := first; g < last; g++ {
		if tag == 0 {
			delete(s.shadow, g)
		} else {
			s.shadow[g] = tag
		}
	}
}

// MemoryTag returns the tag of the granule containing addr
func (s *Software) MemoryTag(addr uint64) uint8 {
	return s.shadow[Untag(addr)/Granule]
}

// SegmentNew tags the size bytes at p with a fresh tag and returns p carrying that tag
func (s *Software) SegmentNew(p, size uint64) uint64 {
	tag := s.nextTag()
	s.retag(Untag(p), size, tag)
	tagged := WithTag(p, tag)
	s.logger.Tracef("segment %#x, size %d, tag %d\n", tagged, size, tag)
	return tagged
}

// SegmentFree untags the size bytes of the segment. Pointers carrying the tag of the segment no longer give access
// to it.
func (s *Software) SegmentFree(tagged, orig, size uint64) {
	if Untag(tagged) != Untag(orig) {
		s.logger.Warnf("segment %#x freed through %#x\n", tagged, orig)
	}
	s.retag(Untag(orig), size, 0)
}

func (s *Software) check(p, n uint64) error {
	tag := Tag(p)
	first, last := granules(Untag(p), n)
	for g := first; g < last; g++ {
		if mt := s.shadow[g]; mt != tag {
			return fmt.Errorf("access to %#x through %#x (pointer tag %d, memory tag %d): %w",
				g*Granule, p, tag, mt, ErrTagMismatch)
		}
	}
	return nil
}

// Load reads n bytes through p
func (s *Software) Load(p, n uint64) ([]byte, error) {
	if err := s.check(p, n); err != nil {
		return nil, err
	}
	return s.mem.Read(Untag(p), n)
}

// Store writes b through p
func (s *Software) Store(p uint64, b []byte) error {
	if err := s.check(p, uint64(len(b))); err != nil {
		return err
	}
	return s.mem.Write(Untag(p), b)
}
