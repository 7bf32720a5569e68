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

// SymlinkInode is a symbolic link inode. Its target path is stored
// byte-identical, with no framing, as its data-object payload (supplemented
// from the original Rust implementation's symlink handling).
type SymlinkInode struct {
	kvMgr *kv.Manager
	clk   clock.Clock

	id  fuseops.InodeID
	ino uint32

	mu sync.Mutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ Inode = &SymlinkInode{}

// NewSymlinkInode wraps a symlink inode, writing its metadata and target
// records if they do not already exist.
func NewSymlinkInode(kvMgr *kv.Manager, clk clock.Clock, id fuseops.InodeID, uid, gid uint32, target string) (*SymlinkInode, error) {
	s := &SymlinkInode{
		kvMgr: kvMgr,
		clk:   clk,
		id:    id,
		ino:   uint32(id),
	}

	_, ok, err := kvMgr.Get(kv.MetaKey(uint64(s.ino)), 0, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		now := s.clk.Now()
		m := Metadata{
			FileType: TypeSymlink,
			Ino:      s.ino,
			Size:     int64(len(target)),
			NLink:    1,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Mode:     0777,
			Uid:      uid,
			Gid:      gid,
		}
		if err := s.writeMetadata(m); err != nil {
			return nil, err
		}
		if len(target) > 0 {
			if _, err := kvMgr.Set(kv.DataKey(uint64(s.ino)), 0, int64(len(target)), []byte(target), s.ino); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *SymlinkInode) readMetadata() (Metadata, error) {
	raw, ok, err := s.kvMgr.Get(kv.MetaKey(uint64(s.ino)), 0, 0)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, errNotFound
	}
	return decodeMetadata(raw)
}

func (s *SymlinkInode) writeMetadata(m Metadata) error {
	raw := encodeMetadata(m)
	_, err := s.kvMgr.Set(kv.MetaKey(uint64(s.ino)), 0, int64(len(raw)), raw, s.ino)
	return err
}

func (s *SymlinkInode) Lock()   { s.mu.Lock() }
func (s *SymlinkInode) Unlock() { s.mu.Unlock() }

func (s *SymlinkInode) ID() fuseops.InodeID { return s.id }
func (s *SymlinkInode) Ino() uint32         { return s.ino }

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) IncrementLookupCount() { s.lc.Inc() }

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) DecrementLookupCount(n uint64) (destroy bool) { return s.lc.Dec(n) }

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Destroy() error {
	if _, err := s.kvMgr.Delete(kv.DataKey(uint64(s.ino)), 0, 0, s.ino); err != nil {
		return err
	}
	_, err := s.kvMgr.Delete(kv.MetaKey(uint64(s.ino)), 0, 0, s.ino)
	return err
}

// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Attributes(ctx context.Context) (fuseops.InodeAttributes, error) {
	m, err := s.readMetadata()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return toFuseAttrs(m), nil
}

// Target returns the symlink's target path, read byte-identical from its
// data-object payload.
//
// LOCKS_REQUIRED(s)
func (s *SymlinkInode) Target(ctx context.Context) (string, error) {
	raw, ok, err := s.kvMgr.Get(kv.DataKey(uint64(s.ino)), 0, 0)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}
