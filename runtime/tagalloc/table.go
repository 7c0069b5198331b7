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

// Metadata describes a live allocation
type Metadata struct {
	// Base is the address of the backing block
	Base uint64
	// Tag is the tag of the segment
	Tag uint8
	// Requested is the size requested by the caller
	Requested uint64
	// Allocated is the size of the segment, a multiple of the granule
	Allocated uint64
}

type slotState uint8

const (
	empty slotState = iota
	occupied
	tombstone
)

type slot struct {
	state slotState
	key   uint64
	meta  Metadata
}

// maxLoad is the load factor, counting tombstones, above which the table grows
const maxLoad = 0.75

// Table maps untagged addresses to allocation metadata. It uses open addressing with linear probing. Deleted
// entries leave tombstones, which are dropped when the table is rehashed.
type Table struct {
	slots      []slot
	live       int
	tombstones int
	// maxCap bounds the capacity, 0 for no bound
	maxCap int
}

// NewTable returns a table with at least capacity slots, never growing beyond maxCapacity slots if maxCapacity > 0.
// Capacities are rounded up to powers of two.
func NewTable(capacity, maxCapacity int) *Table {
	c := 1
	for c < capacity {
		c *= 2
	}
	return &Table{slots: make([]slot, c), maxCap: maxCapacity}
}

// Len returns the number of live entries
func (t *Table) Len() int { return t.live }

// Cap returns the number of slots
func (t *Table) Cap() int { return len(t.slots) }

// Tombstones returns the number of deleted entries still occupying a slot
func (t *Table) Tombstones() int { return t.tombstones }

func (t *Table) index(key uint64) int {
	return int(((key >> 4) * 0x9E3779B97F4A7C15) >> 32 & uint64(len(t.slots)-1))
}

// find returns the slot holding key, or -1
func (t *Table) find(key uint64) int {
	mask := len(t.slots) - 1
	for i, n := t.index(key), 0; n < len(t.slots); i, n = (i+1)&mask, n+1 {
		switch t.slots[i].state {
		case empty:
			return -1
		case occupied:
			if t.slots[i].key == key {
				return i
			}
		}
	}
	return -1
}

// Lookup returns the metadata of key
func (t *Table) Lookup(key uint64) (Metadata, bool) {
	if i := t.find(key); i >= 0 {
		return t.slots[i].meta, true
	}
	return Metadata{}, false
}

// Update replaces the metadata of an existing key
func (t *Table) Update(key uint64, meta Metadata) bool {
	i := t.find(key)
	if i < 0 {
		return false
	}
	t.slots[i].meta = meta
	return true
}

// Delete removes key, leaving a tombstone
func (t *Table) Delete(key uint64) bool {
	i := t.find(key)
	if i < 0 {
		return false
	}
	t.slots[i] = slot{state: tombstone}
	t.live--
	t.tombstones++
	return true
}

// Insert adds or replaces the metadata of key. It returns false if the table is full: adding the key would exceed
// the load factor and the table cannot grow.
func (t *Table) Insert(key uint64, meta Metadata) bool {
	if i := t.find(key); i >= 0 {
		t.slots[i].meta = meta
		return true
	}
	if float64(t.live+t.tombstones+1) > maxLoad*float64(len(t.slots)) {
		size := 2 * len(t.slots)
		if t.maxCap > 0 && size > t.maxCap {
			size = len(t.slots)
		}
		t.rehash(size)
		if float64(t.live+1) > maxLoad*float64(len(t.slots)) {
			return false
		}
	}
	mask := len(t.slots) - 1
	i := t.index(key)
	for t.slots[i].state == occupied {
		i = (i + 1) & mask
	}
	if t.slots[i].state == tombstone {
		t.tombstones--
	}
	t.slots[i] = slot{state: occupied, key: key, meta: meta}
	t.live++
	return true
}

func (t *Table) rehash(size int) {
	old := t.slots
	t.slots = make([]slot, size)
	t.live, t.tombstones = 0, 0
	mask := size - 1
	for _, s := range old {
		if s.state != occupied {
			continue
		}
		i := t.index(s.key)
		for t.slots[i].state == occupied {
			i = (i + 1) & mask
		}
		t.slots[i] = s
		t.live++
	}
}
