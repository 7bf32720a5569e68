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

package inode

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/kv"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

func newTestKV(t *testing.T) *kv.Manager {
	t.Helper()
	geo := layout.NewGeometry(256)
	dev := disk.NewFakeDisk(256 * layout.PagesPerBlock)
	bc := buf.New(tl.New(dev, geo), 0)
	return kv.New(bc, geo)
}

func newTestClock() *clock.FakeClock {
	return &clock.FakeClock{}
}

func TestNewRootInode_BootstrapsMetadata(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	assert.Equal(t, fuseops.RootInodeID, root.ID())

	attrs, err := root.Attributes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, attrs.Nlink)
}

func TestDirInode_LinkLookUpUnlink(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	defer root.Unlock()

	empty, err := root.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, root.Link(context.Background(), 5, "a.txt"))

	empty, err = root.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	ino, ok, err := root.LookUpChild(context.Background(), "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, ino)

	_, ok, err = root.LookUpChild(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, root.Unlink(context.Background(), 5, "a.txt"))
	empty, err = root.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestDirInode_UnlinkNonLastEntryLeavesNoStaleTail(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	defer root.Unlock()

	require.NoError(t, root.Link(context.Background(), 5, "a.txt"))
	require.NoError(t, root.Link(context.Background(), 6, "b.txt"))
	require.NoError(t, root.Link(context.Background(), 7, "c.txt"))

	// Unlink the first of three entries: the replacement entry stream is
	// shorter than the one it replaces, which is what exercises the
	// shrink path.
	require.NoError(t, root.Unlink(context.Background(), 5, "a.txt"))

	entries, err := root.ReadEntries(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"b.txt", "c.txt"}, names)

	empty, err := root.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	_, ok, err := root.LookUpChild(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirInode_LinkDuplicateNameFails(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	defer root.Unlock()

	require.NoError(t, root.Link(context.Background(), 5, "a.txt"))
	err = root.Link(context.Background(), 6, "a.txt")
	assert.ErrorIs(t, err, errAlreadyExists)
}

func TestDirInode_UnlinkMissingFails(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	defer root.Unlock()

	err = root.Unlink(context.Background(), 5, "nope")
	assert.ErrorIs(t, err, errNotFound)
}

func TestDirInode_SetAttributesUpdatesCtime(t *testing.T) {
	kvMgr := newTestKV(t)
	fc := newTestClock()
	root, err := NewRootInode(kvMgr, fc, 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	defer root.Unlock()

	before, err := root.Attributes(context.Background())
	require.NoError(t, err)

	mode := fileModeBits(0700)
	uid := uint32(42)
	_, err = root.SetAttributes(&mode, &uid, nil)
	require.NoError(t, err)

	after, err := root.Attributes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, after.Uid)
	assert.True(t, !after.Ctime.Before(before.Ctime))
}

func TestDirInode_ReadEntriesReportsChildTypes(t *testing.T) {
	kvMgr := newTestKV(t)
	fc := newTestClock()
	root, err := NewRootInode(kvMgr, fc, 0, 0, 0755)
	require.NoError(t, err)

	child, err := NewFileInode(kvMgr, fc, fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)
	_ = child

	root.Lock()
	require.NoError(t, root.Link(context.Background(), 5, "f.txt"))
	entries, err := root.ReadEntries(context.Background())
	root.Unlock()

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name)
}

func TestDirInode_DestroyRemovesDataAndMetadata(t *testing.T) {
	kvMgr := newTestKV(t)
	root, err := NewRootInode(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	root.Lock()
	require.NoError(t, root.Link(context.Background(), 5, "a.txt"))
	require.NoError(t, root.Destroy())
	root.Unlock()

	_, err = root.readMetadata()
	assert.Error(t, err)

	_, ok, err := kvMgr.Get(kv.DataKey(uint64(root.Ino())), 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFakeClock_NowNeverGoesBackwards(t *testing.T) {
	// Sanity check for the clock substitute used above: FakeClock.Now reads
	// the wall clock, so a later reading is never before an earlier one,
	// which is all the before/after ctime comparison above relies on.
	fc := newTestClock()
	t1 := fc.Now()
	time.Sleep(time.Millisecond)
	t2 := fc.Now()
	assert.True(t, !t2.Before(t1))
}
