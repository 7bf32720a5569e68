// Copyright 2025 WondFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package buf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	geo := layout.NewGeometry(64)
	dev := disk.NewFakeDisk(64 * layout.PagesPerBlock)
	return New(tl.New(dev, geo), capacity)
}

func TestCache_WriteThenReadHitsCache(t *testing.T) {
	c := newTestCache(t, 0)
	page := bytes.Repeat([]byte{0x11}, layout.PageSize)
	c.Write(7, page)

	got, err := c.Read(7)
	require.NoError(t, err)
	assert.Equal(t, page, got)
}

func TestCache_ReadThroughOnMiss(t *testing.T) {
	c := newTestCache(t, 0)
	got, err := c.Read(3)
	require.NoError(t, err)
	assert.True(t, isZero(got))
	assert.Equal(t, 1, c.Len())
}

func TestCache_NeverEvictsDirtyEntries(t *testing.T) {
	c := newTestCache(t, 4)
	for i := uint32(0); i < 8; i++ {
		c.Write(i, bytes.Repeat([]byte{byte(i)}, layout.PageSize))
	}
	assert.Equal(t, 8, c.Len())
	for i := uint32(0); i < 8; i++ {
		got, err := c.Read(i)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, layout.PageSize), got)
	}
}

func TestCache_EvictsCleanEntriesOverCapacity(t *testing.T) {
	c := newTestCache(t, 2)
	_, err := c.Read(0)
	require.NoError(t, err)
	_, err = c.Read(1)
	require.NoError(t, err)
	_, err = c.Read(2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestCache_EraseRemovesBlockEntries(t *testing.T) {
	c := newTestCache(t, 0)
	addr := layout.PageAddr(0) + 10
	c.Write(addr, bytes.Repeat([]byte{3}, layout.PageSize))
	c.Erase(0)
	assert.Equal(t, 0, c.Len())
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
