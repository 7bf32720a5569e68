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

package fs

import (
	"context"
	"os"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/fs/inode"
	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/kv"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

// newTestFileSystem builds a *fileSystem directly, bypassing NewServer's
// fuseutil/monitoring wrapping and background GC goroutine, so tests can
// call fuseops.FileSystem methods and inspect results without a live mount.
func newTestFileSystem(t *testing.T) *fileSystem {
	t.Helper()
	geo := layout.NewGeometry(256)
	dev := disk.NewFakeDisk(256 * layout.PagesPerBlock)
	bc := buf.New(tl.New(dev, geo), 0)
	kvMgr := kv.New(bc, geo)

	invMgr, err := inode.NewManager(kvMgr, clock.RealClock{}, 0, 0, 0755)
	require.NoError(t, err)

	return &fileSystem{
		kvMgr:      kvMgr,
		invMgr:     invMgr,
		fileMode:   0644,
		dirMode:    0755,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}
}

func TestFileSystem_CreateFileThenReadBack(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{
		Parent: fuseops.RootInodeID,
		Name:   "hello.txt",
		Mode:   0644,
	}
	require.NoError(t, f.CreateFile(ctx, createOp))
	assert.NotZero(t, createOp.Entry.Child)

	writeOp := &fuseops.WriteFileOp{
		Inode:  createOp.Entry.Child,
		Data:   []byte("hi there"),
		Offset: 0,
	}
	require.NoError(t, f.WriteFile(ctx, writeOp))

	dst := make([]byte, 8)
	readOp := &fuseops.ReadFileOp{
		Inode:  createOp.Entry.Child,
		Dst:    dst,
		Offset: 0,
	}
	require.NoError(t, f.ReadFile(ctx, readOp))
	assert.Equal(t, 8, readOp.BytesRead)
	assert.Equal(t, "hi there", string(dst))
}

func TestFileSystem_CreateFileDuplicateNameFails(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "dup.txt", Mode: 0644}
	require.NoError(t, f.CreateFile(ctx, op))

	op2 := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "dup.txt", Mode: 0644}
	err := f.CreateFile(ctx, op2)
	assert.Equal(t, fuse.EEXIST, err)
}

func TestFileSystem_LookUpInodeNotFound(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing"}
	err := f.LookUpInode(ctx, op)
	assert.Equal(t, fuse.ENOENT, err)
}

func TestFileSystem_MkDirThenRmDir(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "subdir", Mode: 0755}
	require.NoError(t, f.MkDir(ctx, mk))

	rm := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "subdir"}
	require.NoError(t, f.RmDir(ctx, rm))

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "subdir"}
	assert.Equal(t, fuse.ENOENT, f.LookUpInode(ctx, look))
}

func TestFileSystem_RmDirNonEmptyFails(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "subdir", Mode: 0755}
	require.NoError(t, f.MkDir(ctx, mk))

	create := &fuseops.CreateFileOp{Parent: mk.Entry.Child, Name: "f.txt", Mode: 0644}
	require.NoError(t, f.CreateFile(ctx, create))

	rm := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "subdir"}
	assert.Equal(t, fuse.ENOTEMPTY, f.RmDir(ctx, rm))
}

func TestFileSystem_UnlinkRemovesEntry(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "del.txt", Mode: 0644}
	require.NoError(t, f.CreateFile(ctx, create))

	unlink := &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "del.txt"}
	require.NoError(t, f.Unlink(ctx, unlink))

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "del.txt"}
	assert.Equal(t, fuse.ENOENT, f.LookUpInode(ctx, look))
}

func TestFileSystem_RenameIsUnimplemented(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()
	op := &fuseops.RenameOp{OldParent: fuseops.RootInodeID, OldName: "a", NewParent: fuseops.RootInodeID, NewName: "b"}
	assert.Equal(t, fuse.ENOSYS, f.Rename(ctx, op))
}

func TestFileSystem_SetInodeAttributesTruncatesFile(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "trunc.txt", Mode: 0644}
	require.NoError(t, f.CreateFile(ctx, create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Data: []byte("0123456789"), Offset: 0}
	require.NoError(t, f.WriteFile(ctx, write))

	size := uint64(3)
	set := &fuseops.SetInodeAttributesOp{Inode: create.Entry.Child, Size: &size}
	require.NoError(t, f.SetInodeAttributes(ctx, set))
	assert.EqualValues(t, 3, set.Attributes.Size)
}

func TestFileSystem_MkNodeRejectsSpecialFiles(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()
	op := &fuseops.MkNodeOp{Parent: fuseops.RootInodeID, Name: "dev0", Mode: os.ModeDevice | 0644}
	assert.Equal(t, fuse.ENOSYS, f.MkNode(ctx, op))
}

func TestFileSystem_CreateSymlinkAndReadSymlink(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	op := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link", Target: "/a/b"}
	require.NoError(t, f.CreateSymlink(ctx, op))

	read := &fuseops.ReadSymlinkOp{Inode: op.Entry.Child}
	require.NoError(t, f.ReadSymlink(ctx, read))
	assert.Equal(t, "/a/b", read.Target)
}

func TestFileSystem_CreateLinkBumpsNLink(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "orig.txt", Mode: 0644}
	require.NoError(t, f.CreateFile(ctx, create))

	link := &fuseops.CreateLinkOp{Parent: fuseops.RootInodeID, Name: "alias.txt", Target: create.Entry.Child}
	require.NoError(t, f.CreateLink(ctx, link))
	assert.EqualValues(t, 2, link.Entry.Attributes.Nlink)
}

func TestFileSystem_OpenDirAndReadDirListsEntries(t *testing.T) {
	f := newTestFileSystem(t)
	ctx := context.Background()

	require.NoError(t, f.CreateFile(ctx, &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt", Mode: 0644}))
	require.NoError(t, f.CreateFile(ctx, &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "b.txt", Mode: 0644}))

	open := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, f.OpenDir(ctx, open))

	dst := make([]byte, 4096)
	read := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: open.Handle, Dst: dst, Offset: 0}
	require.NoError(t, f.ReadDir(ctx, read))
	assert.Greater(t, read.BytesRead, 0)

	release := &fuseops.ReleaseDirHandleOp{Handle: open.Handle}
	require.NoError(t, f.ReleaseDirHandle(ctx, release))
}

func TestFileSystem_StatFS(t *testing.T) {
	f := newTestFileSystem(t)
	op := &fuseops.StatFSOp{}
	require.NoError(t, f.StatFS(context.Background(), op))
	assert.EqualValues(t, 4096, op.BlockSize)
}

func TestFileSystem_SyncFSFlushesKV(t *testing.T) {
	f := newTestFileSystem(t)
	require.NoError(t, f.SyncFS(context.Background(), &fuseops.SyncFSOp{}))
}
