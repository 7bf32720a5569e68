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
	"sync"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/internal/kv"
)

// FileInode is a regular file inode backed by the KV Manager's data-object
// set/get/delete operations, addressed by d:<ino>.
type FileInode struct {
	kvMgr *kv.Manager
	clk   clock.Clock

	id  fuseops.InodeID
	ino uint32

	mu sync.Mutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ Inode = &FileInode{}

// NewFileInode wraps a file inode, writing its initial metadata record if
// one does not already exist.
func NewFileInode(kvMgr *kv.Manager, clk clock.Clock, id fuseops.InodeID, uid, gid uint32, mode fileModeBits) (*FileInode, error) {
	f := &FileInode{
		kvMgr: kvMgr,
		clk:   clk,
		id:    id,
		ino:   uint32(id),
	}

	_, ok, err := kvMgr.Get(kv.MetaKey(uint64(f.ino)), 0, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		now := f.clk.Now()
		m := Metadata{
			FileType: TypeFile,
			Ino:      f.ino,
			NLink:    1,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Mode:     mode,
			Uid:      uid,
			Gid:      gid,
		}
		if err := f.writeMetadata(m); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *FileInode) readMetadata() (Metadata, error) {
	raw, ok, err := f.kvMgr.Get(kv.MetaKey(uint64(f.ino)), 0, 0)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, errNotFound
	}
	return decodeMetadata(raw)
}

func (f *FileInode) writeMetadata(m Metadata) error {
	raw := encodeMetadata(m)
	_, err := f.kvMgr.Set(kv.MetaKey(uint64(f.ino)), 0, int64(len(raw)), raw, f.ino)
	return err
}

func (f *FileInode) Lock()   { f.mu.Lock() }
func (f *FileInode) Unlock() { f.mu.Unlock() }

func (f *FileInode) ID() fuseops.InodeID { return f.id }
func (f *FileInode) Ino() uint32         { return f.ino }

// LOCKS_REQUIRED(f)
func (f *FileInode) IncrementLookupCount() { f.lc.Inc() }

// LOCKS_REQUIRED(f)
func (f *FileInode) DecrementLookupCount(n uint64) (destroyed bool) { return f.lc.Dec(n) }

// Destroy drops the file's data object and metadata record entirely, called
// once both the lookup count and n_link have reached zero.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Destroy() error {
	if _, err := f.kvMgr.Delete(kv.DataKey(uint64(f.ino)), 0, 0, f.ino); err != nil {
		return err
	}
	if _, err := f.kvMgr.Delete(kv.ExtraKey(uint64(f.ino)), 0, 0, f.ino); err != nil {
		return err
	}
	_, err := f.kvMgr.Delete(kv.MetaKey(uint64(f.ino)), 0, 0, f.ino)
	return err
}

// LOCKS_REQUIRED(f)
func (f *FileInode) Attributes(ctx context.Context) (fuseops.InodeAttributes, error) {
	m, err := f.readMetadata()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return toFuseAttrs(m), nil
}

// SetAttributes updates size (truncate), mode, uid and gid.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) SetAttributes(size *uint64, mode *fileModeBits, uid, gid *uint32) (fuseops.InodeAttributes, error) {
	m, err := f.readMetadata()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	if size != nil {
		if err := f.truncateLocked(m.Size, int64(*size)); err != nil {
			return fuseops.InodeAttributes{}, err
		}
		m.Size = int64(*size)
	}
	if mode != nil {
		m.Mode = *mode
	}
	if uid != nil {
		m.Uid = *uid
	}
	if gid != nil {
		m.Gid = *gid
	}
	m.Ctime = f.clk.Now()
	if err := f.writeMetadata(m); err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return toFuseAttrs(m), nil
}

// truncateLocked grows or shrinks the file's data object to newSize.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) truncateLocked(oldSize, newSize int64) error {
	key := kv.DataKey(uint64(f.ino))
	switch {
	case newSize == oldSize:
		return nil
	case newSize == 0:
		_, err := f.kvMgr.Delete(key, 0, 0, f.ino)
		return err
	case newSize < oldSize:
		_, err := f.kvMgr.Delete(key, newSize, oldSize-newSize, f.ino)
		return err
	default:
		zeros := make([]byte, newSize-oldSize)
		_, err := f.kvMgr.Set(key, oldSize, int64(len(zeros)), zeros, f.ino)
		return err
	}
}

// ReadAt reads up to len(p) bytes starting at off, POSIX short-read
// semantics (fewer bytes than requested past EOF, never an error for that).
//
// LOCKS_REQUIRED(f)
func (f *FileInode) ReadAt(ctx context.Context, p []byte, off int64) (n int, err error) {
	m, err := f.readMetadata()
	if err != nil {
		return 0, err
	}
	if off >= m.Size {
		return 0, nil
	}
	length := int64(len(p))
	if off+length > m.Size {
		length = m.Size - off
	}
	data, ok, err := f.kvMgr.Get(kv.DataKey(uint64(f.ino)), off, length)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return copy(p, data), nil
}

// WriteAt writes p at off, growing the file and zero-filling any gap if off
// is past the current size.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) WriteAt(ctx context.Context, p []byte, off int64) (n int, err error) {
	m, err := f.readMetadata()
	if err != nil {
		return 0, err
	}
	data, at := p, off
	if off > m.Size {
		data = append(make([]byte, off-m.Size), p...)
		at = m.Size
	}
	size, err := f.kvMgr.Set(kv.DataKey(uint64(f.ino)), at, int64(len(data)), data, f.ino)
	if err != nil {
		return 0, err
	}
	now := f.clk.Now()
	m.Size = size
	m.Mtime = now
	m.Ctime = now
	if err := f.writeMetadata(m); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Linked bumps the on-disk n_link count after a new hard link is created
// for this file.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Linked() error {
	m, err := f.readMetadata()
	if err != nil {
		return err
	}
	m.NLink++
	m.Ctime = f.clk.Now()
	return f.writeMetadata(m)
}

// Unlinked drops the on-disk n_link count by one after a directory entry
// naming this file is removed, reporting whether it has reached zero. A
// file's data is reclaimed once both n_link and the kernel's lookup count
// hit zero.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Unlinked() bool {
	m, err := f.readMetadata()
	if err != nil {
		return false
	}
	if m.NLink > 0 {
		m.NLink--
	}
	m.Ctime = f.clk.Now()
	if err := f.writeMetadata(m); err != nil {
		return false
	}
	return m.NLink == 0
}

// Sync does nothing: every Set call above has already handed its pages to
// the buffer cache and TL's write-back cache, and nothing here forces them
// to disk. The KV Manager's Flush is run by the file system's SyncFS and
// Destroy handlers.
//
// LOCKS_REQUIRED(f)
func (f *FileInode) Sync(ctx context.Context) error {
	return nil
}
