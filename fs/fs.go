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

// Package fs implements the POSIX bridge: a fuseops.FileSystem backed by
// the KV Manager and inode layer instead of a remote object store.
package fs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/fs/inode"
	"github.com/WondFS/WondFS-nfs/fs/wrappers"
	"github.com/WondFS/WondFS-nfs/internal/kv"
	"github.com/WondFS/WondFS-nfs/internal/logger"
)

// ServerConfig configures a WondFS fuseops.FileSystem.
type ServerConfig struct {
	// KVManager backs every inode, directory entry and file byte range.
	KVManager *kv.Manager

	// The UID and GID that own every inode in the file system.
	Uid uint32
	Gid uint32

	// Permission bits; no bits outside os.ModePerm may be set. DirPerms is
	// the mode of the root directory when it is first created. Files and
	// directories created later take the mode passed with the create
	// request; FilePerms is validated but not applied to them.
	FilePerms os.FileMode
	DirPerms  os.FileMode

	// Clock stamps atime/mtime/ctime on every metadata write. Defaults to
	// clock.RealClock{}; tests may pass another clock.Clock implementation.
	Clock clock.Clock
}

// NewServer creates a fuse file system server according to cfg.
func NewServer(cfg *ServerConfig) (server fuse.Server, err error) {
	if cfg.FilePerms&^os.ModePerm != 0 {
		return nil, fmt.Errorf("illegal file perms: %v", cfg.FilePerms)
	}
	if cfg.DirPerms&^os.ModePerm != 0 {
		return nil, fmt.Errorf("illegal dir perms: %v", cfg.DirPerms)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	invMgr, err := inode.NewManager(cfg.KVManager, clk, cfg.Uid, cfg.Gid, cfg.DirPerms)
	if err != nil {
		return nil, fmt.Errorf("inode.NewManager: %w", err)
	}

	fs := &fileSystem{
		kvMgr:     cfg.KVManager,
		invMgr:    invMgr,
		uid:       cfg.Uid,
		gid:       cfg.Gid,
		fileMode:  cfg.FilePerms,
		dirMode:   cfg.DirPerms,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}

	var gcCtx context.Context
	gcCtx, fs.stopBackgroundGC = context.WithCancel(context.Background())
	go runBackgroundGC(gcCtx, cfg.KVManager)

	return fuseutil.NewFileSystemServer(wrappers.WithMonitoring(fs)), nil
}

////////////////////////////////////////////////////////////////////////
// fileSystem type
////////////////////////////////////////////////////////////////////////

// LOCK ORDERING
//
// Let FS be the file system lock. Define a strict partial order < as follows:
//
//  1. For any inode lock I, I < FS.
//  2. For any directory handle lock DH and inode lock I, DH < I.
//
// In other words it is legal to acquire FS, then release it, then later
// acquire an inode lock, then later acquire FS again. And it is legal to
// acquire a directory handle lock, then an inode lock, while FS is not held.
// But it is not legal to acquire locks in any other order.
type fileSystem struct {
	kvMgr  *kv.Manager
	invMgr *inode.Manager

	uid, gid           uint32
	fileMode, dirMode  os.FileMode
	stopBackgroundGC   context.CancelFunc

	mu sync.Mutex

	// GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]*dirHandle

	// GUARDED_BY(mu)
	nextDirHandleID fuseops.HandleID

	// GUARDED_BY(mu)
	nextFileHandleCounter uint64
}

var _ fuseops.FileSystem = &fileSystem{}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// fileHandleFlags encodes a file handle as a monotonic counter with the
// top two bits reserved for READ/WRITE permission flags. OpenFileOp in
// this fuse binding doesn't surface the open(2) flags the kernel used, so
// read/write are derived from the inode's own permission bits rather than
// per-request intent.
const (
	handleFlagWrite = uint64(1) << 63
	handleFlagRead  = uint64(1) << 62
	handleCounterMask = handleFlagRead - 1
)

func (fs *fileSystem) nextFileHandle(mode os.FileMode) fuseops.HandleID {
	fs.mu.Lock()
	fs.nextFileHandleCounter++
	counter := fs.nextFileHandleCounter
	fs.mu.Unlock()

	var bits uint64
	if mode&0400 != 0 {
		bits |= handleFlagRead
	}
	if mode&0200 != 0 {
		bits |= handleFlagWrite
	}
	return fuseops.HandleID(bits | (counter & handleCounterMask))
}

func (fs *fileSystem) getDir(ctx context.Context, id fuseops.InodeID) (*inode.DirInode, error) {
	in, err := fs.invMgr.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dir, ok := in.(*inode.DirInode)
	if !ok {
		return nil, fuse.ENOTDIR
	}
	return dir, nil
}

func (fs *fileSystem) getFile(ctx context.Context, id fuseops.InodeID) (*inode.FileInode, error) {
	in, err := fs.invMgr.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	file, ok := in.(*inode.FileInode)
	if !ok {
		return nil, fuse.EINVAL
	}
	return file, nil
}

func (fs *fileSystem) getSymlink(ctx context.Context, id fuseops.InodeID) (*inode.SymlinkInode, error) {
	in, err := fs.invMgr.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	link, ok := in.(*inode.SymlinkInode)
	if !ok {
		return nil, fuse.EINVAL
	}
	return link, nil
}

////////////////////////////////////////////////////////////////////////
// fuseops.FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *fileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = 4096
	op.IoSize = 4096
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent, err := fs.getDir(ctx, op.Parent)
	if err != nil {
		return err
	}

	parent.Lock()
	childIno, found, err := parent.LookUpChild(ctx, op.Name)
	parent.Unlock()
	if err != nil {
		return err
	}
	if !found {
		return fuse.ENOENT
	}

	child, err := fs.invMgr.Get(ctx, fuseops.InodeID(childIno))
	if err != nil {
		return err
	}

	child.Lock()
	defer child.Unlock()
	child.IncrementLookupCount()

	op.Entry.Child = child.ID()
	op.Entry.Attributes, err = child.Attributes(ctx)
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	in, err := fs.invMgr.Get(ctx, op.Inode)
	if err != nil {
		return err
	}
	in.Lock()
	defer in.Unlock()
	op.Attributes, err = in.Attributes(ctx)
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	in, err := fs.invMgr.Get(ctx, op.Inode)
	if err != nil {
		return err
	}
	in.Lock()
	defer in.Unlock()

	switch t := in.(type) {
	case *inode.FileInode:
		op.Attributes, err = t.SetAttributes(op.Size, op.Mode, op.Uid, op.Gid)
	case *inode.DirInode:
		if op.Size != nil {
			return fuse.ENOSYS
		}
		op.Attributes, err = t.SetAttributes(op.Mode, op.Uid, op.Gid)
	default:
		if op.Size != nil || op.Mode != nil || op.Uid != nil || op.Gid != nil {
			return fuse.ENOSYS
		}
		op.Attributes, err = in.Attributes(ctx)
	}
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return fs.invMgr.Forget(ctx, op.Inode, op.N)
}

func (fs *fileSystem) mkChild(ctx context.Context, parentID fuseops.InodeID, name string, ft inode.FileType, mode os.FileMode, target string) (inode.Inode, error) {
	parent, err := fs.getDir(ctx, parentID)
	if err != nil {
		return nil, err
	}
	parent.Lock()
	defer parent.Unlock()

	if _, found, err := parent.LookUpChild(ctx, name); err != nil {
		return nil, err
	} else if found {
		return nil, fuse.EEXIST
	}

	child, err := fs.invMgr.Alloc(ctx, ft, fs.uid, fs.gid, mode, target)
	if err != nil {
		return nil, err
	}

	child.Lock()
	if err := parent.Link(ctx, uint32(child.ID()), name); err != nil {
		child.Unlock()
		return nil, err
	}
	child.IncrementLookupCount()
	child.Unlock()

	return child, nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	child, err := fs.mkChild(ctx, op.Parent, op.Name, inode.TypeDirectory, op.Mode, "")
	if err != nil {
		return err
	}
	child.Lock()
	defer child.Unlock()
	op.Entry.Child = child.ID()
	op.Entry.Attributes, err = child.Attributes(ctx)
	return err
}

// MkNode handles mknod(2). WondFS has no notion of device/special files,
// so a mknod of a regular file degenerates to CreateFile; anything else is
// rejected.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	if op.Mode&os.ModeType != 0 {
		return fuse.ENOSYS
	}
	child, err := fs.mkChild(ctx, op.Parent, op.Name, inode.TypeFile, op.Mode, "")
	if err != nil {
		return err
	}
	child.Lock()
	defer child.Unlock()
	op.Entry.Child = child.ID()
	op.Entry.Attributes, err = child.Attributes(ctx)
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	child, err := fs.mkChild(ctx, op.Parent, op.Name, inode.TypeFile, op.Mode, "")
	if err != nil {
		return err
	}
	child.Lock()
	defer child.Unlock()
	op.Entry.Child = child.ID()
	op.Entry.Attributes, err = child.Attributes(ctx)
	if err != nil {
		return err
	}
	op.Handle = fs.nextFileHandle(op.Mode)
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	child, err := fs.mkChild(ctx, op.Parent, op.Name, inode.TypeSymlink, 0777, op.Target)
	if err != nil {
		return err
	}
	child.Lock()
	defer child.Unlock()
	op.Entry.Child = child.ID()
	op.Entry.Attributes, err = child.Attributes(ctx)
	return err
}

// CreateLink handles link(2): adds another name for an existing inode,
// bumping its n_link.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	parent, err := fs.getDir(ctx, op.Parent)
	if err != nil {
		return err
	}

	target, err := fs.invMgr.Get(ctx, op.Target)
	if err != nil {
		return err
	}
	file, ok := target.(*inode.FileInode)
	if !ok {
		return fuse.ENOSYS
	}

	parent.Lock()
	if _, found, err := parent.LookUpChild(ctx, op.Name); err != nil {
		parent.Unlock()
		return err
	} else if found {
		parent.Unlock()
		return fuse.EEXIST
	}
	err = parent.Link(ctx, uint32(op.Target), op.Name)
	parent.Unlock()
	if err != nil {
		return err
	}

	target.Lock()
	defer target.Unlock()
	if err := file.Linked(); err != nil {
		return err
	}
	target.IncrementLookupCount()
	op.Entry.Child = target.ID()
	op.Entry.Attributes, err = target.Attributes(ctx)
	return err
}

// Rename is unimplemented and always returns an error.
func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	return fuse.ENOSYS
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent, err := fs.getDir(ctx, op.Parent)
	if err != nil {
		return err
	}

	parent.Lock()
	childIno, found, err := parent.LookUpChild(ctx, op.Name)
	if err != nil {
		parent.Unlock()
		return err
	}
	if !found {
		parent.Unlock()
		return fuse.ENOENT
	}

	childID := fuseops.InodeID(childIno)
	child, err := fs.getDir(ctx, childID)
	if err != nil {
		parent.Unlock()
		return err
	}

	child.Lock()
	empty, err := child.IsEmpty()
	if err != nil {
		child.Unlock()
		parent.Unlock()
		return err
	}
	if !empty {
		child.Unlock()
		parent.Unlock()
		return fuse.ENOTEMPTY
	}

	if err := parent.Unlink(ctx, childIno, op.Name); err != nil {
		child.Unlock()
		parent.Unlock()
		return err
	}
	parent.Unlock()

	if child.DecrementLookupCount(0) {
		child.Destroy()
		fs.invMgr.Evict(childID)
	}
	child.Unlock()

	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parent, err := fs.getDir(ctx, op.Parent)
	if err != nil {
		return err
	}

	parent.Lock()
	childIno, found, err := parent.LookUpChild(ctx, op.Name)
	if err != nil {
		parent.Unlock()
		return err
	}
	if !found {
		parent.Unlock()
		return fuse.ENOENT
	}
	err = parent.Unlink(ctx, childIno, op.Name)
	parent.Unlock()
	if err != nil {
		return err
	}

	childID := fuseops.InodeID(childIno)
	child, err := fs.invMgr.Get(ctx, childID)
	if err != nil {
		return err
	}
	child.Lock()
	defer child.Unlock()

	if file, ok := child.(*inode.FileInode); ok {
		if file.Unlinked() && file.DecrementLookupCount(0) {
			if err := file.Destroy(); err != nil {
				return err
			}
			fs.invMgr.Evict(childID)
		}
	}
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	dir, err := fs.getDir(ctx, op.Inode)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	fs.nextDirHandleID++
	handleID := fs.nextDirHandleID
	fs.dirHandles[handleID] = newDirHandle(dir)
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}
	return dh.ReadDir(ctx, op)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	file, err := fs.getFile(ctx, op.Inode)
	if err != nil {
		return err
	}
	file.Lock()
	attrs, err := file.Attributes(ctx)
	file.Unlock()
	if err != nil {
		return err
	}
	op.Handle = fs.nextFileHandle(attrs.Mode)
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	file, err := fs.getFile(ctx, op.Inode)
	if err != nil {
		return err
	}
	file.Lock()
	defer file.Unlock()
	op.BytesRead, err = file.ReadAt(ctx, op.Dst, op.Offset)
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	file, err := fs.getFile(ctx, op.Inode)
	if err != nil {
		return err
	}
	file.Lock()
	defer file.Unlock()
	_, err = file.WriteAt(ctx, op.Data, op.Offset)
	return err
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	file, err := fs.getFile(ctx, op.Inode)
	if err != nil {
		return err
	}
	file.Lock()
	defer file.Unlock()
	return file.Sync(ctx)
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	file, err := fs.getFile(ctx, op.Inode)
	if err != nil {
		return err
	}
	file.Lock()
	defer file.Unlock()
	return file.Sync(ctx)
}

func (fs *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *fileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	link, err := fs.getSymlink(ctx, op.Inode)
	if err != nil {
		return err
	}
	link.Lock()
	defer link.Unlock()
	op.Target, err = link.Target(ctx)
	return err
}

func (fs *fileSystem) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	return fuse.ENOSYS
}

func (fs *fileSystem) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	return fuse.ENOSYS
}

func (fs *fileSystem) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	return fuse.ENOSYS
}

func (fs *fileSystem) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	return fuse.ENOSYS
}

func (fs *fileSystem) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	return fuse.ENOSYS
}

func (fs *fileSystem) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	return fs.kvMgr.Flush()
}

func (fs *fileSystem) Destroy() {
	if fs.stopBackgroundGC != nil {
		fs.stopBackgroundGC()
	}
	if err := fs.kvMgr.Flush(); err != nil {
		logger.Errorf("fs: flush on unmount: %v", err)
	}
}
