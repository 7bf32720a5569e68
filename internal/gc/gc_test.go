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

package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/layout"
)

func testRegion() layout.Region {
	return layout.Region{StartBlock: 10, NumBlocks: 4}
}

func TestManager_FindWritePosOnEmptyRegion(t *testing.T) {
	m := New(testRegion(), nil)
	addr, ok := m.FindWritePos(3)
	require.True(t, ok)
	assert.Equal(t, layout.PageAddr(testRegion().StartBlock), addr)
}

func TestManager_FindWritePosSkipsBusyPages(t *testing.T) {
	m := New(testRegion(), nil)
	base := layout.PageAddr(testRegion().StartBlock)
	m.SetPage(base, Busy)
	addr, ok := m.FindWritePos(1)
	require.True(t, ok)
	assert.Equal(t, base+1, addr)
}

func TestManager_FindWritePosFailsWhenNoRunFits(t *testing.T) {
	m := New(testRegion(), nil)
	addr, ok := m.FindWritePos(layout.PagesPerBlock + 1)
	assert.False(t, ok)
	assert.Zero(t, addr)
}

func TestManager_NewEventPicksDirtiestBlockAndMovesBusyPages(t *testing.T) {
	region := testRegion()
	m := New(region, nil)

	victimBlock := region.StartBlock
	victimBase := layout.PageAddr(victimBlock)
	// Victim: mostly dirty, with one surviving busy page owned by inode 7.
	for i := uint32(0); i < layout.PagesPerBlock-1; i++ {
		m.SetPage(victimBase+i, Dirty)
	}
	m.SetPage(victimBase+layout.PagesPerBlock-1, Busy)
	m.SetPageOwner(victimBase+layout.PagesPerBlock-1, 7)

	group, ok := m.NewEvent()
	require.True(t, ok)
	assert.Equal(t, victimBlock, group.BlockNo)
	require.Len(t, group.Moves, 1)
	assert.Equal(t, victimBase+layout.PagesPerBlock-1, group.Moves[0].OAddress)
	assert.Equal(t, uint32(7), group.Moves[0].Ino)
	assert.NotEqual(t, victimBlock, layout.BlockOf(group.Moves[0].DAddress))
}

func TestManager_EraseBlockResetsStatus(t *testing.T) {
	region := testRegion()
	m := New(region, nil)
	base := layout.PageAddr(region.StartBlock)
	m.SetPage(base, Busy)
	m.EraseBlock(region.StartBlock)
	assert.Equal(t, Clean, m.Status(base))
}

func TestManager_NewEventFailsWithNoDirtyPages(t *testing.T) {
	m := New(testRegion(), nil)
	_, ok := m.NewEvent()
	assert.False(t, ok)
}
