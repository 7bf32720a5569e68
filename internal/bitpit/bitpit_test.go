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

package bitpit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

func newTestCache(t *testing.T) (*buf.Cache, layout.Geometry) {
	t.Helper()
	geo := layout.NewGeometry(64)
	dev := disk.NewFakeDisk(64 * layout.PagesPerBlock)
	return buf.New(tl.New(dev, geo), 0), geo
}

func TestBIT_SyncAndLoadRoundTrip(t *testing.T) {
	bc, geo := newTestCache(t)
	b := New(geo.MainArea)

	addr := layout.PageAddr(geo.MainArea.StartBlock) + 3
	b.MarkUsed(addr, true)
	b.RecordErase(geo.MainArea.StartBlock, time.Unix(1000, 0))
	require.True(t, b.NeedSync())
	b.Sync(bc, geo.BIT[0], geo.BIT[1])
	assert.False(t, b.NeedSync())

	b2 := New(geo.MainArea)
	require.NoError(t, b2.Load(bc, geo.BIT[0], geo.BIT[1]))
	rec := b2.Get(geo.MainArea.StartBlock)
	assert.Equal(t, uint32(1), rec.EraseCount)
}

func TestBIT_UsedCountTracksMarks(t *testing.T) {
	b := New(layout.Region{StartBlock: 0, NumBlocks: 1})
	base := layout.PageAddr(0)
	b.MarkUsed(base+1, true)
	b.MarkUsed(base+2, true)
	assert.Equal(t, 2, b.UsedCount(0))
	b.MarkUsed(base+1, false)
	assert.Equal(t, 1, b.UsedCount(0))
}

func TestBIT_RecordEraseClearsUsedMap(t *testing.T) {
	b := New(layout.Region{StartBlock: 0, NumBlocks: 1})
	base := layout.PageAddr(0)
	b.MarkUsed(base+5, true)
	require.Equal(t, 1, b.UsedCount(0))
	b.RecordErase(0, time.Unix(1, 0))
	assert.Equal(t, 0, b.UsedCount(0))
}

func TestPIT_SyncAndLoadRoundTrip(t *testing.T) {
	bc, geo := newTestCache(t)
	p := NewPIT(geo.MainArea)

	addr := layout.PageAddr(geo.MainArea.StartBlock) + 7
	p.SetOwner(addr, 42)
	require.True(t, p.NeedSync())
	p.Sync(bc, geo.PIT[0], geo.PIT[1])

	p2 := NewPIT(geo.MainArea)
	require.NoError(t, p2.Load(bc, geo.PIT[0], geo.PIT[1]))
	assert.Equal(t, uint32(42), p2.Owner(addr))
}

func TestPIT_SetOwnerZeroFreesPage(t *testing.T) {
	p := NewPIT(layout.Region{StartBlock: 0, NumBlocks: 1})
	addr := layout.PageAddr(0) + 1
	p.SetOwner(addr, 9)
	assert.Equal(t, uint32(9), p.Owner(addr))
	p.SetOwner(addr, 0)
	assert.Equal(t, uint32(0), p.Owner(addr))
}

func TestDoubleBuffer_RecoversCrashedSecondary(t *testing.T) {
	bc, geo := newTestCache(t)
	p := NewPIT(geo.MainArea)
	addr := layout.PageAddr(geo.MainArea.StartBlock) + 1
	p.SetOwner(addr, 7)

	p.mu.Lock()
	payload := p.encodeLocked()
	p.mu.Unlock()

	// Simulate a crash that wrote only the secondary slot.
	writeBlocks(bc, geo.PIT[1], payload)

	raw, err := readDoubleBuffer(bc, geo.PIT[0], geo.PIT[1])
	require.NoError(t, err)
	owner := decodePIT(raw, geo.MainArea)
	assert.Equal(t, uint32(7), owner[addr])
}
