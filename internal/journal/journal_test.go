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

package journal

import (
	"testing"

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

func TestJournal_RecordAndNeedSync(t *testing.T) {
	j := New()
	assert.False(t, j.NeedSync())
	j.Record(10, 20)
	assert.True(t, j.NeedSync())
}

func TestJournal_NeedSyncSuppressedDuringOp(t *testing.T) {
	j := New()
	j.BeginOp()
	j.Record(10, 20)
	assert.False(t, j.NeedSync())
	j.EndOp()
	assert.True(t, j.NeedSync())
}

func TestJournal_DuplicateSourcePanics(t *testing.T) {
	j := New()
	j.Record(10, 20)
	assert.Panics(t, func() { j.Record(10, 30) })
}

func TestJournal_SyncAndLoadRoundTrip(t *testing.T) {
	bc, geo := newTestCache(t)
	j := New()
	j.SetEraseBlockNo(geo.MainArea.StartBlock)
	j.Record(100, 200)
	j.Record(101, 201)
	j.Sync(bc, geo.Journal)

	loaded, ok, err := Load(bc, geo.Journal)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geo.MainArea.StartBlock, loaded.EraseBlockNo())
	assert.Equal(t, []Move{{From: 100, To: 200}, {From: 101, To: 201}}, loaded.Moves())
}

func TestJournal_LoadReportsNoJournalWhenClean(t *testing.T) {
	bc, geo := newTestCache(t)
	_, ok, err := Load(bc, geo.Journal)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_ClearResetsState(t *testing.T) {
	j := New()
	j.SetEraseBlockNo(5)
	j.Record(1, 2)
	j.Clear()
	assert.Equal(t, uint32(0), j.EraseBlockNo())
	assert.Empty(t, j.Moves())
	assert.False(t, j.NeedSync())
}
