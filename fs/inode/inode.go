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

// Package inode implements WondFS's POSIX-facing inode and directory layer
// on top of the KV Manager: DirInode, FileInode and SymlinkInode are
// backed by KV Manager m:/d:/e: records addressed by ino, rather than by
// a remote object store.
package inode

import (
	"context"
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// Inode is the common interface every live inode satisfies.
type Inode interface {
	// All methods below require the lock to be held unless otherwise documented.
	sync.Locker

	// ID returns the inode number assigned to this inode. Does not require
	// the lock to be held.
	ID() fuseops.InodeID

	// IncrementLookupCount increments the kernel's reference on this inode.
	IncrementLookupCount()

	// DecrementLookupCount decrements the lookup count by n and reports
	// whether the count has hit zero. It does not destroy the inode;
	// callers that see true decide whether to call Destroy.
	DecrementLookupCount(n uint64) (destroyed bool)

	// Attributes returns up to date attributes for this inode.
	Attributes(ctx context.Context) (fuseops.InodeAttributes, error)

	// Destroy releases any resources backing the inode. Called once the
	// lookup count hits zero and n_link is also zero.
	Destroy() error
}

func toFuseAttrs(m Metadata) fuseops.InodeAttributes {
	mode := m.Mode
	switch m.FileType {
	case TypeDirectory:
		mode |= os.ModeDir
	case TypeSymlink:
		mode |= os.ModeSymlink
	}
	return fuseops.InodeAttributes{
		Size:  uint64(m.Size),
		Nlink: m.NLink,
		Mode:  mode,
		Atime: m.Atime,
		Mtime: m.Mtime,
		Ctime: m.Ctime,
		Uid:   m.Uid,
		Gid:   m.Gid,
	}
}
