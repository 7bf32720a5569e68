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
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/internal/kv"
)

// inoCounterIno is a reserved ino (never handed to a real file) whose meta
// record holds the next-ino allocation counter.
const inoCounterIno = 0

// Manager is the in-memory inode table: i_get hands
// back a cached, reference-counted live inode for an ino; i_alloc mints a
// fresh one; i_put drops the manager's own reference once the kernel's
// lookup count and the on-disk n_link both reach zero.
type Manager struct {
	kvMgr *kv.Manager
	clk   clock.Clock

	mu sync.Mutex

	// GUARDED_BY(mu)
	live map[fuseops.InodeID]Inode
}

// NewManager constructs an inode manager and ensures the root directory
// inode (ino=1) exists. Inode metadata timestamps come from clk, a real
// clock in production and a fake one in tests.
func NewManager(kvMgr *kv.Manager, clk clock.Clock, uid, gid uint32, rootMode fileModeBits) (*Manager, error) {
	m := &Manager{
		kvMgr: kvMgr,
		clk:   clk,
		live:  make(map[fuseops.InodeID]Inode),
	}
	root, err := NewRootInode(kvMgr, clk, uid, gid, rootMode)
	if err != nil {
		return nil, err
	}
	m.live[fuseops.RootInodeID] = root
	return m, nil
}

func (m *Manager) nextIno() (uint32, error) {
	raw, ok, err := m.kvMgr.Get(kv.MetaKey(inoCounterIno), 0, 0)
	if err != nil {
		return 0, err
	}
	next := uint32(2) // 0 is reserved, 1 is root
	if ok && len(raw) == 4 {
		next = binary.BigEndian.Uint32(raw)
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, next+1)
	if _, err := m.kvMgr.Set(kv.MetaKey(inoCounterIno), 0, 4, buf, inoCounterIno); err != nil {
		return 0, err
	}
	return next, nil
}

// fileType loads just the file-type byte of an existing inode's metadata,
// used to pick the concrete Go type to wrap a cached-miss ino in.
func (m *Manager) fileType(ino fuseops.InodeID) (FileType, error) {
	raw, ok, err := m.kvMgr.Get(kv.MetaKey(uint64(ino)), 0, 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errNotFound
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return 0, err
	}
	return md.FileType, nil
}

// Get returns the live inode for id, loading it from the KV Manager on a
// cache miss. Does not adjust the lookup count; callers that hand the
// result across a fuse op boundary must call IncrementLookupCount
// themselves.
func (m *Manager) Get(ctx context.Context, id fuseops.InodeID) (Inode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in, ok := m.live[id]; ok {
		return in, nil
	}

	ft, err := m.fileType(id)
	if err != nil {
		return nil, err
	}

	var in Inode
	switch ft {
	case TypeDirectory:
		in, err = NewDirInode(m.kvMgr, m.clk, id, 0, 0, 0)
	case TypeSymlink:
		in, err = NewSymlinkInode(m.kvMgr, m.clk, id, 0, 0, "")
	default:
		in, err = NewFileInode(m.kvMgr, m.clk, id, 0, 0, 0)
	}
	if err != nil {
		return nil, err
	}

	m.live[id] = in
	return in, nil
}

// GetDir is Get, type-asserted to *DirInode and returned locked (the caller
// must Unlock it), since every call site immediately needs to read or
// mutate its entry stream.
func (m *Manager) GetDir(ctx context.Context, id fuseops.InodeID) (*DirInode, error) {
	in, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dir, ok := in.(*DirInode)
	if !ok {
		return nil, fmt.Errorf("inode: %d is not a directory", id)
	}
	dir.Lock()
	return dir, nil
}

// Alloc mints a fresh inode of the given type and links it into the
// manager's live table. The caller is responsible for
// linking it into a parent directory.
func (m *Manager) Alloc(ctx context.Context, ft FileType, uid, gid uint32, mode fileModeBits, target string) (Inode, error) {
	ino, err := m.nextIno()
	if err != nil {
		return nil, err
	}
	id := fuseops.InodeID(ino)

	var in Inode
	switch ft {
	case TypeDirectory:
		in, err = NewDirInode(m.kvMgr, m.clk, id, uid, gid, mode)
	case TypeSymlink:
		in, err = NewSymlinkInode(m.kvMgr, m.clk, id, uid, gid, target)
	default:
		in, err = NewFileInode(m.kvMgr, m.clk, id, uid, gid, mode)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.live[id] = in
	m.mu.Unlock()

	return in, nil
}

// Forget drops n lookups from id's count. Once the count reaches zero the
// inode is removed from the live table; a file inode whose on-disk n_link
// is also zero is destroyed first. Directory and symlink inodes are not
// destroyed here.
func (m *Manager) Forget(ctx context.Context, id fuseops.InodeID, n uint64) error {
	m.mu.Lock()
	in, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	in.Lock()
	destroyed := in.DecrementLookupCount(n)
	var nlinkZero bool
	if destroyed {
		if f, ok := in.(*FileInode); ok {
			md, err := f.readMetadata()
			nlinkZero = err == nil && md.NLink == 0
		}
	}
	var destroyErr error
	if destroyed && nlinkZero {
		destroyErr = in.Destroy()
	}
	in.Unlock()

	if !destroyed {
		return nil
	}

	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()

	return destroyErr
}

// Evict removes id from the live table without touching its lookup count.
// RmDir and Unlink call it right after destroying an inode whose lookup
// count is already zero.
func (m *Manager) Evict(id fuseops.InodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
}
