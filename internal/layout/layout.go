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

// Package layout carries the fixed physical-layout constants shared by
// every layer: page size, block size, and the partitioning of the device's
// logical address space into super block, BIT, PIT, journal, KV, main-area
// and reserved regions.
package layout

const (
	// PageSize is the size in bytes of one page, the unit of read/write.
	PageSize = 4096

	// PagesPerBlock is the number of contiguous pages erased together.
	PagesPerBlock = 128

	// BlockSize is PagesPerBlock * PageSize.
	BlockSize = PagesPerBlock * PageSize

	// SuperBlockMagic identifies a valid super block.
	SuperBlockMagic = 0x3bf7444d

	// MappingTableMagic marks block 0 of a spare block adopted as the TL
	// mapping table during startup scan.
	MappingTableMagic = 0x2222ffff

	// SignatureBlockMagic marks bytes 119-122 of a 128-byte signature
	// record.
	SignatureBlockMagic = 0x3333aaaa

	// JournalMagic marks the start of the journal block.
	JournalMagic = 0x7777ffff

	// PITMapMagic and PITSerialMagic distinguish the two PIT encodings.
	PITMapMagic    = 0x7777dddd
	PITSerialMagic = 0x7777eeee
)

// Region describes one of the device's logical partitions, in
// dependency order: super block, BIT (x2), PIT (x2), journal, KV
// blocks, main area, reserved (spares).
type Region struct {
	Name       string
	StartBlock uint32
	NumBlocks  uint32
}

// Geometry captures the partitioned device address space derived from a
// device's total block count (≈15% KV, ≈60% main area, remainder
// reserved for TL remap).
type Geometry struct {
	TotalBlocks uint32

	SuperBlock   Region
	BIT          [2]Region
	PIT          [2]Region
	Journal      Region
	KV           Region
	MainArea     Region
	Reserved     Region
}

// NewGeometry computes the region layout for a device with the given total
// block count. Region sizes below the minimums required by fixed-size
// structures (super block, BIT, PIT, journal) are never shrunk; only the
// KV/main-area/reserved split is proportional.
func NewGeometry(totalBlocks uint32) Geometry {
	const (
		fixedBlocks = 1 /*super*/ + 2 /*bit*/ + 2 /*pit*/ + 1 /*journal*/
	)

	g := Geometry{TotalBlocks: totalBlocks}

	var next uint32
	g.SuperBlock = Region{"super", next, 1}
	next += 1

	g.BIT[0] = Region{"bit0", next, 1}
	next++
	g.BIT[1] = Region{"bit1", next, 1}
	next++

	g.PIT[0] = Region{"pit0", next, 1}
	next++
	g.PIT[1] = Region{"pit1", next, 1}
	next++

	g.Journal = Region{"journal", next, 1}
	next++

	remaining := totalBlocks - fixedBlocks
	kvBlocks := remaining * 15 / 100
	mainBlocks := remaining * 60 / 100
	reservedBlocks := remaining - kvBlocks - mainBlocks

	g.KV = Region{"kv", next, kvBlocks}
	next += kvBlocks

	g.MainArea = Region{"main", next, mainBlocks}
	next += mainBlocks

	g.Reserved = Region{"reserved", next, reservedBlocks}

	return g
}

// PageAddr returns the page address of the first page of block b.
func PageAddr(block uint32) uint32 { return block * PagesPerBlock }

// BlockOf returns the block number containing page address addr.
func BlockOf(addr uint32) uint32 { return addr / PagesPerBlock }

// OffsetInBlock returns the page offset of addr within its block.
func OffsetInBlock(addr uint32) uint32 { return addr % PagesPerBlock }

// PagesForBytes returns ceil(n / PageSize).
func PagesForBytes(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + PageSize - 1) / PageSize
}
