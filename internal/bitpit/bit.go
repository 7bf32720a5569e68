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
	"sync"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// blockRecordSize is the on-disk size of one BIT segment: erase count (4),
// last-erase unix time (4), average age in seconds (4), and a per-page used
// bitmap (one bit per page of the block). Segment records begin at offset
// 18 of the governing BIT block; the 18-byte gap is this package's
// sync-marker-plus-reserved header, see Header below.
const blockRecordSize = 4 + 4 + 4 + layout.PagesPerBlock/8

// bitHeaderSize reserves the crash-recovery sync marker at the start of
// the block, ahead of the offset-18 segment start.
const bitHeaderSize = 18

// BlockRecord is one block's worth of GC bookkeeping.
type BlockRecord struct {
	EraseCount  uint32
	LastErase   time.Time
	AverageAge  uint32
	UsedMap     [layout.PagesPerBlock]bool // true: page currently holds live data
}

// BIT is the block-info table: one BlockRecord per main-area block, synced
// through a crash-safe double buffer (doublebuffer.go), tracking per-block
// erase counters and per-page used bits (see DESIGN.md for the read/update/
// sync call shape this is grounded on).
type BIT struct {
	mu      sync.RWMutex
	region  layout.Region // the region BIT covers (main area)
	records map[uint32]*BlockRecord
	dirty   bool
}

// New constructs an empty BIT covering the blocks of region.
func New(region layout.Region) *BIT {
	return &BIT{region: region, records: make(map[uint32]*BlockRecord)}
}

// Get returns the record for blockNo, creating a zero-value one if absent.
func (b *BIT) Get(blockNo uint32) BlockRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.recordLocked(blockNo)
	return *r
}

func (b *BIT) recordLocked(blockNo uint32) *BlockRecord {
	r, ok := b.records[blockNo]
	if !ok {
		r = &BlockRecord{}
		b.records[blockNo] = r
	}
	return r
}

// MarkUsed sets the used bit for addr's page and marks BIT dirty.
func (b *BIT) MarkUsed(addr uint32, used bool) {
	blockNo := layout.BlockOf(addr)
	off := layout.OffsetInBlock(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.recordLocked(blockNo)
	r.UsedMap[off] = used
	b.dirty = true
}

// RecordErase bumps a block's erase counter and average-age estimate after
// it has just been erased by the GC manager.
func (b *BIT) RecordErase(blockNo uint32, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.recordLocked(blockNo)
	if !r.LastErase.IsZero() {
		age := uint32(now.Sub(r.LastErase).Seconds())
		r.AverageAge = ema32(r.AverageAge, age, r.EraseCount)
	}
	r.EraseCount++
	r.LastErase = now
	r.UsedMap = [layout.PagesPerBlock]bool{}
	b.dirty = true
}

// UsedCount returns the number of live pages in blockNo.
func (b *BIT) UsedCount(blockNo uint32) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[blockNo]
	if !ok {
		return 0
	}
	n := 0
	for _, used := range r.UsedMap {
		if used {
			n++
		}
	}
	return n
}

// NeedSync reports whether any record has changed since the last Sync.
func (b *BIT) NeedSync() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty
}

// Sync persists the table through the double buffer at bitA/bitB.
func (b *BIT) Sync(bc *buf.Cache, bitA, bitB layout.Region) {
	b.mu.Lock()
	payload := b.encodeLocked()
	b.dirty = false
	b.mu.Unlock()
	syncDoubleBuffer(bc, bitA, bitB, payload)
}

// Load restores the table from the double buffer at bitA/bitB, recovering a
// crashed-mid-sync secondary if one is present.
func (b *BIT) Load(bc *buf.Cache, bitA, bitB layout.Region) error {
	raw, err := readDoubleBuffer(bc, bitA, bitB)
	if err != nil {
		return err
	}
	records, err := decodeBIT(raw, b.region)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.records = records
	b.dirty = false
	b.mu.Unlock()
	return nil
}

func (b *BIT) encodeLocked() []byte {
	out := make([]byte, bitHeaderSize)
	out[0] = 1 // non-zero marker byte for the secondary slot convention
	for blockNo := uint32(0); blockNo < b.region.NumBlocks; blockNo++ {
		r, ok := b.records[b.region.StartBlock+blockNo]
		if !ok {
			r = &BlockRecord{}
		}
		out = append(out, encodeRecord(r)...)
	}
	return out
}

func decodeBIT(raw []byte, region layout.Region) (map[uint32]*BlockRecord, error) {
	records := make(map[uint32]*BlockRecord)
	off := bitHeaderSize
	blockNo := region.StartBlock
	for off+blockRecordSize <= len(raw) && blockNo < region.StartBlock+region.NumBlocks {
		r := decodeRecord(raw[off : off+blockRecordSize])
		records[blockNo] = r
		off += blockRecordSize
		blockNo++
	}
	return records, nil
}

func encodeRecord(r *BlockRecord) []byte {
	out := make([]byte, blockRecordSize)
	binary.BigEndian.PutUint32(out[0:4], r.EraseCount)
	var last uint32
	if !r.LastErase.IsZero() {
		last = uint32(r.LastErase.Unix())
	}
	binary.BigEndian.PutUint32(out[4:8], last)
	binary.BigEndian.PutUint32(out[8:12], r.AverageAge)
	for i := 0; i < layout.PagesPerBlock; i++ {
		if r.UsedMap[i] {
			out[12+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func decodeRecord(raw []byte) *BlockRecord {
	r := &BlockRecord{}
	r.EraseCount = binary.BigEndian.Uint32(raw[0:4])
	if last := binary.BigEndian.Uint32(raw[4:8]); last != 0 {
		r.LastErase = time.Unix(int64(last), 0)
	}
	r.AverageAge = binary.BigEndian.Uint32(raw[8:12])
	for i := 0; i < layout.PagesPerBlock; i++ {
		if raw[12+i/8]&(1<<uint(i%8)) != 0 {
			r.UsedMap[i] = true
		}
	}
	return r
}

// ema32 folds a new age sample into a running average, weighted by how many
// prior samples (erase count) already contributed.
func ema32(old, sample, count uint32) uint32 {
	if count == 0 {
		return sample
	}
	return uint32((uint64(old)*uint64(count) + uint64(sample)) / uint64(count+1))
}
