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
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// FileType distinguishes the three inode kinds.
type FileType uint8

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeSymlink
)

// metadataSize is the fixed on-disk width of a Metadata record, stored
// whole as the value of the m:<ino> LSM key.
const metadataSize = 1 + 4 + 8 + 4 + 8 + 8 + 8 + 4 + 4 + 4

// Metadata is the inode record: file type, size, link count, and the
// three POSIX timestamps.
type Metadata struct {
	FileType FileType
	Ino      uint32
	Size     int64
	NLink    uint32
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time
	Mode     os.FileMode
	Uid      uint32
	Gid      uint32
}

func encodeMetadata(m Metadata) []byte {
	buf := make([]byte, metadataSize)
	off := 0
	buf[off] = byte(m.FileType)
	off++
	binary.BigEndian.PutUint32(buf[off:], m.Ino)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(m.Size))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], m.NLink)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(m.Atime.UnixNano()))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(m.Mtime.UnixNano()))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(m.Ctime.UnixNano()))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(m.Mode))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.Uid)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.Gid)
	return buf
}

func decodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) != metadataSize {
		return Metadata{}, fmt.Errorf("inode: metadata record has wrong size %d", len(raw))
	}
	var m Metadata
	off := 0
	m.FileType = FileType(raw[off])
	off++
	m.Ino = binary.BigEndian.Uint32(raw[off:])
	off += 4
	m.Size = int64(binary.BigEndian.Uint64(raw[off:]))
	off += 8
	m.NLink = binary.BigEndian.Uint32(raw[off:])
	off += 4
	m.Atime = time.Unix(0, int64(binary.BigEndian.Uint64(raw[off:])))
	off += 8
	m.Mtime = time.Unix(0, int64(binary.BigEndian.Uint64(raw[off:])))
	off += 8
	m.Ctime = time.Unix(0, int64(binary.BigEndian.Uint64(raw[off:])))
	off += 8
	m.Mode = os.FileMode(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	m.Uid = binary.BigEndian.Uint32(raw[off:])
	off += 4
	m.Gid = binary.BigEndian.Uint32(raw[off:])
	return m, nil
}
