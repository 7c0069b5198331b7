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

package tagging

import (
	"testing"

	"github.com/awslabs/ar-go-memsafety/analysis/config"
	"github.com/awslabs/ar-go-memsafety/runtime/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagBits(t *testing.T) {
	p := uint64(0x12340)
	tagged := WithTag(p, 5)
	assert.Equal(t, uint64(0x0500000000012340), tagged)
	assert.Equal(t, uint8(5), Tag(tagged))
	assert.Equal(t, p, Untag(tagged))
	assert.Equal(t, uint8(3), Tag(WithTag(tagged, 3)))
}

func newPrimitive(t *testing.T) (*Software, *memory.Arena) {
	t.Helper()
	arena, err := memory.NewArena(0x10000, 1024)
	require.NoError(t, err)
	return NewSoftware(arena, config.Discard()), arena
}

func TestSegmentAccess(t *testing.T) {
	s, arena := newPrimitive(t)
	p := arena.AlignedAlloc(Granule, 32)
	tagged := s.SegmentNew(p, 32)
	assert.NotZero(t, Tag(tagged))
	assert.Equal(t, Tag(tagged), s.MemoryTag(p+31))
	assert.Zero(t, s.MemoryTag(p+32))

	require.NoError(t, s.Store(tagged+8, []byte{0xAB, 0xCD}))
	b, err := s.Load(tagged+8, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, b)

	// the untagged pointer and accesses past the segment are rejected
	_, err = s.Load(p, 1)
	assert.ErrorIs(t, err, ErrTagMismatch)
	assert.ErrorIs(t, s.Store(tagged+30, []byte{1, 2, 3}), ErrTagMismatch)

	s.SegmentFree(tagged, p, 32)
	_, err = s.Load(tagged, 1)
	assert.ErrorIs(t, err, ErrTagMismatch, "use after free should be detected")
	_, err = s.Load(p, 1)
	assert.NoError(t, err)
}

func TestTagsAreNeverZero(t *testing.T) {
	s, arena := newPrimitive(t)
	p := arena.AlignedAlloc(Granule, Granule)
	seen := map[uint8]bool{}
	for i := 0; i < 3*NumTags; i++ {
		tagged := s.SegmentNew(p, Granule)
		require.NotZero(t, Tag(tagged))
		seen[Tag(tagged)] = true
	}
	assert.Len(t, seen, NumTags-1)
}

func TestSignAuth(t *testing.T) {
	_, err := NewSigner(nil)
	assert.Error(t, err)

	s, err := NewSigner([]byte("secret"))
	require.NoError(t, err)
	p := WithTag(0x10040, 7)
	signed := s.Sign(p, KeyData)
	assert.Equal(t, p, signed&^SignatureMask)

	auth, err := s.Auth(signed, KeyData)
	require.NoError(t, err)
	assert.Equal(t, p, auth)

	_, err = s.Auth(signed^(1<<SignatureShift), KeyData)
	assert.ErrorIs(t, err, ErrAuthFailed)

	// re-signing replaces the signature
	auth, err = s.Auth(s.Sign(signed, KeyCode), KeyCode)
	require.NoError(t, err)
	assert.Equal(t, p, auth)

	// a pointer substituted for another does not authenticate
	failures := 0
	for i := uint64(1); i <= 16; i++ {
		if _, err := s.Auth(signed+i*Granule, KeyData); err != nil {
			failures++
		}
	}
	assert.Positive(t, failures)
}
