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
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/WondFS/WondFS-nfs/fs/inode"
)

// dirHandle buffers one directory listing across a sequence of ReadDir
// calls. Unlike the GCS-backed listing this is adapted from, a WondFS
// directory's whole entry stream is already in memory as a single KV
// payload, so there is no continuation token to carry between reads: the
// handle just remembers the slice it built on the first call at offset
// zero and serves subsequent calls out of it.
type dirHandle struct {
	in *inode.DirInode

	mu sync.Mutex

	// GUARDED_BY(mu)
	entries []fuseutil.Dirent
}

// newDirHandle creates a directory handle that lists in's children.
func newDirHandle(in *inode.DirInode) *dirHandle {
	return &dirHandle{in: in}
}

// ReadDir serves op.Dst from the buffered listing, fetching it fresh
// whenever op.Offset is zero (the kernel re-opened or rewound the
// directory).
//
// LOCKS_EXCLUDED(dh.in)
func (dh *dirHandle) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	if op.Offset == 0 || dh.entries == nil {
		dh.in.Lock()
		entries, err := dh.in.ReadEntries(ctx)
		dh.in.Unlock()
		if err != nil {
			return err
		}
		dh.entries = entries
	}

	idx := int(op.Offset)
	if idx > len(dh.entries) {
		return nil
	}

	for i := idx; i < len(dh.entries); i++ {
		d := dh.entries[i]
		d.Offset = fuseops.DirOffset(i + 1)
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], d)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}
