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

package bitpit

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// pitHeaderSize reserves the strategy-magic + sync marker at the start of
// the PIT block. Two self-describing encodings exist: "Map" (dense array
// of owning inode numbers, one per page) and "Serial" (append-only log of
// (page, inode) pairs); this package only ever writes
// the Map strategy, since a dense array is exact and the region is sized to
// hold one regardless (see DESIGN.md). Load still recognizes either magic
// so a Serial-encoded table from a future writer would at least be
// detected rather than silently misread.
const pitHeaderSize = 8

// PIT is the page-info table: the owning inode number of every busy page in
// the main area, synced through a crash-safe double buffer. A page absent
// from the map (ino 0) is not currently owned by any file. Grounded on
// a read_pit/set_pit/dirty_pit/clean_pit call pattern (see DESIGN.md).
type PIT struct {
	mu     sync.RWMutex
	region layout.Region
	owner  map[uint32]uint32 // page address -> owning inode number
	dirty  bool
}

// NewPIT constructs an empty PIT covering the pages of region.
func NewPIT(region layout.Region) *PIT {
	return &PIT{region: region, owner: make(map[uint32]uint32)}
}

// Owner returns the inode owning addr, or 0 if the page is free.
func (p *PIT) Owner(addr uint32) uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner[addr]
}

// SetOwner assigns ino as the owner of addr. ino == 0 frees the page.
func (p *PIT) SetOwner(addr, ino uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ino == 0 {
		delete(p.owner, addr)
	} else {
		p.owner[addr] = ino
	}
	p.dirty = true
}

// NeedSync reports whether the table has changed since the last Sync.
func (p *PIT) NeedSync() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// Sync persists the table through the double buffer at pitA/pitB.
func (p *PIT) Sync(bc *buf.Cache, pitA, pitB layout.Region) {
	p.mu.Lock()
	payload := p.encodeLocked()
	p.dirty = false
	p.mu.Unlock()
	syncDoubleBuffer(bc, pitA, pitB, payload)
}

// Load restores the table from the double buffer at pitA/pitB.
func (p *PIT) Load(bc *buf.Cache, pitA, pitB layout.Region) error {
	raw, err := readDoubleBuffer(bc, pitA, pitB)
	if err != nil {
		return err
	}
	if len(raw) >= 123 && binary.BigEndian.Uint32(raw[0:4]) != layout.PITMapMagic &&
		binary.BigEndian.Uint32(raw[119:123]) == layout.PITSerialMagic {
		return errors.New("bitpit: PIT uses the Serial encoding, which this package cannot decode")
	}
	owner := decodePIT(raw, p.region)
	p.mu.Lock()
	p.owner = owner
	p.dirty = false
	p.mu.Unlock()
	return nil
}

func (p *PIT) encodeLocked() []byte {
	total := p.region.NumBlocks * layout.PagesPerBlock
	out := make([]byte, pitHeaderSize+int(total)*4)
	binary.BigEndian.PutUint32(out[0:4], layout.PITMapMagic)
	base := layout.PageAddr(p.region.StartBlock)
	for i := uint32(0); i < total; i++ {
		ino := p.owner[base+i]
		binary.BigEndian.PutUint32(out[pitHeaderSize+int(i)*4:pitHeaderSize+int(i)*4+4], ino)
	}
	return out
}

func decodePIT(raw []byte, region layout.Region) map[uint32]uint32 {
	owner := make(map[uint32]uint32)
	if len(raw) < pitHeaderSize {
		return owner
	}
	base := layout.PageAddr(region.StartBlock)
	total := region.NumBlocks * layout.PagesPerBlock
	for i := uint32(0); i < total; i++ {
		off := pitHeaderSize + int(i)*4
		if off+4 > len(raw) {
			break
		}
		if ino := binary.BigEndian.Uint32(raw[off : off+4]); ino != 0 {
			owner[base+i] = ino
		}
	}
	return owner
}
