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

package disk

import (
	"fmt"
	"os"

	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// FileDevice backs a Device with positional I/O against a regular file,
// used by disk-daemon when given a backing-file path. The file is grown to
// size*layout.PageSize bytes on open, matching FakeDisk's fixed address
// space.
type FileDevice struct {
	f    *os.File
	size uint32
}

// OpenFileDevice opens or creates path and ensures it is exactly size pages
// long.
func OpenFileDevice(path string, size uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	want := int64(size) * layout.PageSize
	if err := f.Truncate(want); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: truncate %s: %w", path, err)
	}
	return &FileDevice{f: f, size: size}, nil
}

func (d *FileDevice) PageCount() uint32  { return d.size }
func (d *FileDevice) BlockCount() uint32 { return d.size / layout.PagesPerBlock }

func (d *FileDevice) offset(addr uint32) int64 {
	if addr >= d.size {
		panic(fmt.Sprintf("disk: FileDevice address out of range %d", addr))
	}
	return int64(addr) * layout.PageSize
}

func (d *FileDevice) ReadPage(addr uint32) []byte {
	buf := make([]byte, layout.PageSize)
	if _, err := d.f.ReadAt(buf, d.offset(addr)); err != nil {
		panic(fmt.Sprintf("disk: FileDevice read at %d: %v", addr, err))
	}
	return buf
}

func (d *FileDevice) WritePage(addr uint32, page []byte) {
	checkPage(page)
	off := d.offset(addr)
	existing := make([]byte, layout.PageSize)
	if _, err := d.f.ReadAt(existing, off); err != nil {
		panic(fmt.Sprintf("disk: FileDevice read-before-write at %d: %v", addr, err))
	}
	if !isZero(existing) {
		panic(fmt.Sprintf("disk: FileDevice write at not clean address %d", addr))
	}
	if _, err := d.f.WriteAt(page, off); err != nil {
		panic(fmt.Sprintf("disk: FileDevice write at %d: %v", addr, err))
	}
}

func (d *FileDevice) Erase(blockNo uint32) {
	if blockNo >= d.BlockCount() {
		panic(fmt.Sprintf("disk: FileDevice erase at too big block %d", blockNo))
	}
	zero := make([]byte, layout.BlockSize)
	off := int64(blockNo) * layout.BlockSize
	if _, err := d.f.WriteAt(zero, off); err != nil {
		panic(fmt.Sprintf("disk: FileDevice erase block %d: %v", blockNo, err))
	}
}

// Close flushes and closes the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
