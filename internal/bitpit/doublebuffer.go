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

// Package bitpit implements the block-info table (per-block erase stats and
// dirty bitmap) and page-info table (per-page owning inode), each persisted
// through a crash-safe two-slot double buffer: header bytes reserve a sync
// marker at the start of the secondary slot, and a non-zero marker there
// means a crash occurred mid-sync, so the secondary is promoted to primary
// before decoding.
package bitpit

import (
	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

func readBlocks(b *buf.Cache, r layout.Region) ([]byte, error) {
	base := layout.PageAddr(r.StartBlock)
	total := r.NumBlocks * layout.PagesPerBlock
	out := make([]byte, 0, int(total)*layout.PageSize)
	for i := uint32(0); i < total; i++ {
		page, err := b.Read(base + i)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func writeBlocks(b *buf.Cache, r layout.Region, data []byte) {
	for blk := uint32(0); blk < r.NumBlocks; blk++ {
		b.Erase(r.StartBlock + blk)
	}
	base := layout.PageAddr(r.StartBlock)
	total := r.NumBlocks * layout.PagesPerBlock
	for i := uint32(0); i < total; i++ {
		start := int(i) * layout.PageSize
		end := start + layout.PageSize
		page := make([]byte, layout.PageSize)
		if start < len(data) {
			e := end
			if e > len(data) {
				e = len(data)
			}
			copy(page, data[start:e])
		}
		b.Write(base+i, page)
	}
}

func markerSet(data []byte) bool {
	for i := 0; i < 4 && i < len(data); i++ {
		if data[i] != 0 {
			return true
		}
	}
	return false
}

// readDoubleBuffer returns the canonical payload for a primary/secondary
// pair, promoting the secondary if it carries a set marker (meaning a prior
// sync crashed after writing the secondary but before the primary).
func readDoubleBuffer(b *buf.Cache, primary, secondary layout.Region) ([]byte, error) {
	data1, err := readBlocks(b, primary)
	if err != nil {
		return nil, err
	}
	data2, err := readBlocks(b, secondary)
	if err != nil {
		return nil, err
	}
	if markerSet(data2) {
		writeBlocks(b, primary, data2)
		writeBlocks(b, secondary, make([]byte, len(data2)))
		return data2, nil
	}
	return data1, nil
}

// syncDoubleBuffer persists payload crash-safely: write secondary (marked),
// then write primary, then clear secondary.
func syncDoubleBuffer(b *buf.Cache, primary, secondary layout.Region, payload []byte) {
	writeBlocks(b, secondary, payload)
	writeBlocks(b, primary, payload)
	writeBlocks(b, secondary, make([]byte, len(payload)))
}
