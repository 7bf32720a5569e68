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

// Package journal implements the single-in-flight-GC-group write-ahead
// log: before the GC manager erases a victim block it records every (old
// address, new address) page move it is about to apply, so a crash
// mid-GC can be replayed and finished on the next mount. The on-disk
// layout is a magic (0x7777ffff), an erase_block_no field, and an
// (o_address,address) pair stream terminated by a (0,0) sentinel.
package journal

import (
	"encoding/binary"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// Move is one page relocation: the page at From is being copied to To before
// the block containing From is erased.
type Move struct {
	From uint32
	To   uint32
}

// Journal tracks the moves belonging to the single GC group currently in
// flight. Only one group is tracked at a time; BeginOp does not check
// whether an operation is already open.
type Journal struct {
	moves        []Move
	seen         map[uint32]bool
	eraseBlockNo uint32
	sync         bool
	op           bool
}

// New constructs an empty Journal.
func New() *Journal {
	return &Journal{seen: make(map[uint32]bool)}
}

// BeginOp marks the journal as mid-operation: NeedSync returns false while
// an operation is open, so a partially-built group is never flushed.
func (j *Journal) BeginOp() { j.op = true }

// EndOp closes the operation, allowing the next NeedSync to observe it.
func (j *Journal) EndOp() { j.op = false }

// SetEraseBlockNo records which block this GC group will erase once its
// moves are durably journaled.
func (j *Journal) SetEraseBlockNo(blockNo uint32) { j.eraseBlockNo = blockNo }

// EraseBlockNo returns the block this group is about to erase.
func (j *Journal) EraseBlockNo() uint32 { return j.eraseBlockNo }

// Record adds a move to the open group. Recording the same source address
// twice indicates a GC planning bug upstream.
func (j *Journal) Record(from, to uint32) {
	if j.seen[from] {
		panic("journal: duplicate move for source address")
	}
	j.seen[from] = true
	j.moves = append(j.moves, Move{From: from, To: to})
	j.sync = true
}

// Moves returns the moves recorded in the current group.
func (j *Journal) Moves() []Move {
	out := make([]Move, len(j.moves))
	copy(out, j.moves)
	return out
}

// NeedSync reports whether the journal has unflushed moves and is not
// mid-operation.
func (j *Journal) NeedSync() bool {
	if j.op {
		return false
	}
	return j.sync
}

// Synced marks the current group as durably written.
func (j *Journal) Synced() { j.sync = false }

// Clear discards the current group: called once the GC manager has applied
// every move and erased the victim block.
func (j *Journal) Clear() {
	j.eraseBlockNo = 0
	j.moves = nil
	j.seen = make(map[uint32]bool)
	j.sync = false
}

// Sync persists the current group to the journal region via b.
func (j *Journal) Sync(b *buf.Cache, region layout.Region) {
	payload := j.encode()
	base := layout.PageAddr(region.StartBlock)
	total := region.NumBlocks * layout.PagesPerBlock
	for i := uint32(0); i < total; i++ {
		start := int(i) * layout.PageSize
		end := start + layout.PageSize
		page := make([]byte, layout.PageSize)
		if start < len(payload) {
			e := end
			if e > len(payload) {
				e = len(payload)
			}
			copy(page, payload[start:e])
		}
		b.Write(base+i, page)
	}
	j.Synced()
}

// Load reads the journal region at mount time. ok is false if no valid
// journal magic is present (clean shutdown, nothing to replay).
func Load(b *buf.Cache, region layout.Region) (j *Journal, ok bool, err error) {
	base := layout.PageAddr(region.StartBlock)
	total := region.NumBlocks * layout.PagesPerBlock
	raw := make([]byte, 0, int(total)*layout.PageSize)
	for i := uint32(0); i < total; i++ {
		page, rerr := b.Read(base + i)
		if rerr != nil {
			return nil, false, rerr
		}
		raw = append(raw, page...)
	}
	if len(raw) < 8 || binary.BigEndian.Uint32(raw[0:4]) != layout.JournalMagic {
		return nil, false, nil
	}
	out := New()
	out.eraseBlockNo = binary.BigEndian.Uint32(raw[4:8])
	off := 8
	for off+8 <= len(raw) {
		from := binary.BigEndian.Uint32(raw[off : off+4])
		to := binary.BigEndian.Uint32(raw[off+4 : off+8])
		off += 8
		if from == 0 && to == 0 {
			break
		}
		out.moves = append(out.moves, Move{From: from, To: to})
		out.seen[from] = true
	}
	return out, true, nil
}

func (j *Journal) encode() []byte {
	out := make([]byte, 8+len(j.moves)*8+8)
	binary.BigEndian.PutUint32(out[0:4], layout.JournalMagic)
	binary.BigEndian.PutUint32(out[4:8], j.eraseBlockNo)
	off := 8
	for _, m := range j.moves {
		binary.BigEndian.PutUint32(out[off:off+4], m.From)
		binary.BigEndian.PutUint32(out[off+4:off+8], m.To)
		off += 8
	}
	// trailing (0,0) sentinel already present: out is zero-initialized.
	return out
}

// Erase wipes the journal region after a group has been fully disposed.
func Erase(b *buf.Cache, region layout.Region) {
	for blk := uint32(0); blk < region.NumBlocks; blk++ {
		b.Erase(region.StartBlock + blk)
	}
}
