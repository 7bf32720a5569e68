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

// Package tl implements the translation layer: LBA→PBA remap, per-page
// integrity signatures, write batching, and throughput measurement, as a
// lock-guarded struct whose mapping tables are guarded by per-field
// reader-writer locks so the flusher can run concurrently with readers.
package tl

import (
	"sync"
	"time"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/logger"
	"github.com/WondFS/WondFS-nfs/internal/metrics"
	"github.com/WondFS/WondFS-nfs/internal/wfserrors"
)

// TL is the translation layer sitting directly above a disk.Device.
type TL struct {
	dev disk.Device
	clk clock.Clock

	writeCache *writeCache

	mapMu    sync.RWMutex
	mapTable map[uint32]uint32

	usedMu sync.RWMutex
	used   map[uint32]bool

	signMu       sync.RWMutex
	signBlockOf  map[uint32]uint32
	signOffsetOf map[uint32]uint32

	signBlockMu     sync.RWMutex
	signBlockNo     uint32
	signBlockOffset uint32

	speedMu    sync.RWMutex
	writeSpeed float64
	readSpeed  float64

	errMu        sync.RWMutex
	errBlockNum  uint32
	lastErrTime  time.Time

	// spareStart/spareEnd bound the block range used for the mapping table,
	// signature blocks, and bad-block remap targets (layout.Geometry.Reserved).
	spareStart, spareEnd uint32
	tableBlockNo         uint32
	totalBlocks          uint32
}

// New constructs a TL over dev, using geo.Reserved as its spare pool for the
// mapping table, signature blocks, and bad-block remap targets.
func New(dev disk.Device, geo layout.Geometry) *TL {
	return NewWithClock(dev, geo, clock.RealClock{})
}

// NewWithClock is New with an injectable clock, used by tests to exercise
// chooseSignType's 12h-since-last-error path with a clock.SimulatedClock
// instead of waiting on a real one.
func NewWithClock(dev disk.Device, geo layout.Geometry, clk clock.Clock) *TL {
	t := &TL{
		dev:          dev,
		clk:          clk,
		writeCache:   newWriteCache(),
		mapTable:     make(map[uint32]uint32),
		used:         make(map[uint32]bool),
		signBlockOf:  make(map[uint32]uint32),
		signOffsetOf: make(map[uint32]uint32),
		spareStart:   geo.Reserved.StartBlock,
		spareEnd:     geo.Reserved.StartBlock + geo.Reserved.NumBlocks,
		totalBlocks:  geo.TotalBlocks,
		lastErrTime:  time.Unix(0, 0),
	}
	if t.spareEnd-t.spareStart < 2 {
		panic("tl: reserved region too small to hold mapping and signature blocks")
	}
	t.tableBlockNo = t.spareStart
	t.signBlockNo = t.spareStart + 1
	t.used[t.tableBlockNo] = true
	t.used[t.signBlockNo] = true
	return t
}

// Init scans the reserved region for a persisted mapping table and
// signature blocks, adopting their entries.
func (t *TL) Init() {
	for b := t.spareStart; b < t.spareEnd; b++ {
		first := t.dev.ReadPage(layout.PageAddr(b))
		switch {
		case len(first) >= 4 && first[0] == 0x22 && first[1] == 0x22 && first[2] == 0xff && first[3] == 0xff:
			t.adoptMappingBlock(b)
		case len(first) >= 123 && first[119] == 0x33 && first[120] == 0x33 && first[121] == 0xaa && first[122] == 0xaa:
			t.adoptSignatureBlock(b)
		}
	}
}

func (t *TL) adoptMappingBlock(blockNo uint32) {
	block := readFullBlock(t.dev, blockNo)
	for off := 8; off+8 <= len(block); off += 8 {
		lba := u32(block[off : off+4])
		pba := u32(block[off+4 : off+8])
		if lba == 0 && pba == 0 {
			break
		}
		t.mapMu.Lock()
		t.mapTable[lba] = pba
		t.mapMu.Unlock()
		t.usedMu.Lock()
		t.used[pba] = true
		t.usedMu.Unlock()
	}
	t.usedMu.Lock()
	t.used[blockNo] = true
	t.usedMu.Unlock()
	t.tableBlockNo = blockNo
}

func (t *TL) adoptSignatureBlock(blockNo uint32) {
	block := readFullBlock(t.dev, blockNo)
	var count uint32
	for off := 0; off+signatureSize <= len(block); off += signatureSize {
		rec := block[off : off+signatureSize]
		if isZero(rec) {
			break
		}
		addr := ExtractAddress(rec)
		t.signMu.Lock()
		t.signBlockOf[addr] = blockNo
		t.signOffsetOf[addr] = count
		t.signMu.Unlock()
		count++
	}
	t.usedMu.Lock()
	t.used[blockNo] = true
	t.usedMu.Unlock()
	t.signBlockMu.Lock()
	t.signBlockNo = blockNo
	t.signBlockOffset = count
	t.signBlockMu.Unlock()
}

func readFullBlock(dev disk.Device, blockNo uint32) []byte {
	out := make([]byte, 0, layout.BlockSize)
	base := layout.PageAddr(blockNo)
	for i := uint32(0); i < layout.PagesPerBlock; i++ {
		out = append(out, dev.ReadPage(base+i)...)
	}
	return out
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Read returns the page at addr, serving from the write cache if present,
// and validates its signature when one exists. It returns wfserrors.ErrCorrupt
// when the page fails its integrity check without ECC recovery.
func (t *TL) Read(addr uint32) ([]byte, error) {
	if cached, ok := t.writeCache.read(addr); ok {
		return cached, nil
	}
	blockNo := layout.BlockOf(addr)
	mapped := t.transfer(blockNo)
	physAddr := layout.PageAddr(mapped) + layout.OffsetInBlock(addr)

	start := time.Now()
	page := t.dev.ReadPage(physAddr)
	t.updateReadSpeed(layout.PageSize, time.Since(start))

	ok, recovered, err := t.checkPage(addr, page)
	if err != nil {
		return nil, err
	}
	if !ok {
		return recovered, nil
	}
	return page, nil
}

// checkPage validates page against its recorded signature, if any.
func (t *TL) checkPage(addr uint32, page []byte) (usedAsIs bool, recovered []byte, err error) {
	sig, ok := t.getAddressSign(addr)
	if !ok {
		return true, nil, nil
	}
	if isZero(page) {
		return true, nil, nil
	}
	ok2, _, fixed := Check(page, sig)
	if ok2 {
		return true, nil, nil
	}
	if fixed != nil {
		return false, fixed, nil
	}
	t.remapOnCorruption(layout.BlockOf(addr))
	metrics.TLErrorBlocks.Inc()
	return false, nil, wfserrors.ErrCorrupt
}

// Write stages a page into the write-back cache; it does not touch disk
// until the flusher drains the cache.
func (t *TL) Write(addr uint32, page []byte) {
	t.writeCache.write(addr, page)
}

// Erase invalidates cached writes and signatures for the block and issues a
// physical erase.
func (t *TL) Erase(blockNo uint32) {
	start := layout.PageAddr(blockNo)
	end := start + layout.PagesPerBlock
	for a := start; a < end; a++ {
		t.writeCache.recallWrite(a)
		t.signMu.Lock()
		delete(t.signBlockOf, a)
		delete(t.signOffsetOf, a)
		t.signMu.Unlock()
	}
	t.dev.Erase(t.transfer(blockNo))
}

// NeedSync reports whether the write cache has reached its flush threshold.
func (t *TL) NeedSync() bool { return t.writeCache.needSync() }

// Flush drains the write cache, remapping and writing each entry, then
// updates the throughput EMA. It is intended to be called from a background
// loop (see fs/garbage_collect.go's time.Tick pattern for the analogous
// forward-GC loop).
func (t *TL) Flush() {
	pending := t.writeCache.getAll()
	if len(pending) == 0 {
		return
	}
	start := time.Now()
	for i := 0; i < len(pending); i += signaturesPerPage {
		end := i + signaturesPerPage
		if end > len(pending) {
			end = len(pending)
		}
		t.writeSignatures(pending[i:end])
	}
	for _, b := range pending {
		blockNo := layout.BlockOf(b.Address)
		offset := layout.OffsetInBlock(b.Address)
		mapped := t.transfer(blockNo)
		t.dev.WritePage(layout.PageAddr(mapped)+offset, b.Data)
	}
	t.writeCache.sync(pending)
	t.updateWriteSpeed(len(pending)*layout.PageSize, time.Since(start))
	logger.Debugf("tl: flushed %d pages in %s", len(pending), time.Since(start))
}

func (t *TL) transfer(pla uint32) uint32 {
	t.mapMu.RLock()
	defer t.mapMu.RUnlock()
	if pba, ok := t.mapTable[pla]; ok {
		return pba
	}
	return pla
}

func (t *TL) getAddressSign(addr uint32) ([]byte, bool) {
	t.signMu.RLock()
	blockNo, ok := t.signBlockOf[addr]
	if !ok {
		t.signMu.RUnlock()
		return nil, false
	}
	offset := t.signOffsetOf[addr]
	t.signMu.RUnlock()

	page := t.dev.ReadPage(layout.PageAddr(blockNo) + offset/signaturesPerPage)
	recOff := (offset % signaturesPerPage) * signatureSize
	return page[recOff : recOff+signatureSize], true
}

func (t *TL) chooseSignType() CheckType {
	t.errMu.RLock()
	ratio := float64(t.errBlockNum) / float64(t.totalBlocks)
	since := t.clk.Now().Sub(t.lastErrTime)
	t.errMu.RUnlock()
	if ratio > 0.02 {
		return CheckECC
	}
	if since < 12*time.Hour {
		return CheckECC
	}
	return CheckCRC32
}

func (t *TL) findNextBlock() uint32 {
	t.signBlockMu.RLock()
	signBlockNo := t.signBlockNo
	t.signBlockMu.RUnlock()
	t.usedMu.RLock()
	defer t.usedMu.RUnlock()
	for b := t.spareStart; b < t.spareEnd; b++ {
		if b == t.tableBlockNo || b == signBlockNo {
			continue
		}
		if t.used[b] {
			continue
		}
		return b
	}
	panic(wfserrors.ErrNoSpareBlock)
}

// remapOnCorruption is called when a page fails integrity checking beyond
// recovery: the owning block is remapped to a fresh spare and the mapping
// table is persisted.
func (t *TL) remapOnCorruption(blockNo uint32) {
	newBlock := t.findNextBlock()
	t.usedMu.Lock()
	t.used[newBlock] = true
	t.usedMu.Unlock()
	t.mapMu.Lock()
	t.mapTable[blockNo] = newBlock
	t.mapMu.Unlock()
	t.errMu.Lock()
	t.errBlockNum++
	t.lastErrTime = t.clk.Now()
	t.errMu.Unlock()
	t.syncMapTable()
}

func (t *TL) syncMapTable() {
	data := make([]byte, layout.BlockSize)
	data[0], data[1], data[2], data[3] = 0x22, 0x22, 0xff, 0xff
	t.mapMu.RLock()
	off := 8
	for lba, pba := range t.mapTable {
		if off+8 > len(data) {
			break
		}
		putU32(data[off:off+4], lba)
		putU32(data[off+4:off+8], pba)
		off += 8
	}
	t.mapMu.RUnlock()
	t.writeTableBlock(data)
}

func (t *TL) writeTableBlock(data []byte) {
	t.dev.Erase(t.tableBlockNo)
	base := layout.PageAddr(t.tableBlockNo)
	for i := uint32(0); i < layout.PagesPerBlock; i++ {
		start := i * layout.PageSize
		t.dev.WritePage(base+i, data[start:start+layout.PageSize])
	}
}

func (t *TL) updateReadSpeed(size int, d time.Duration) {
	t.speedMu.Lock()
	defer t.speedMu.Unlock()
	t.readSpeed = ema(t.readSpeed, throughput(size, d))
}

func (t *TL) updateWriteSpeed(size int, d time.Duration) {
	t.speedMu.Lock()
	defer t.speedMu.Unlock()
	t.writeSpeed = ema(t.writeSpeed, throughput(size, d))
	metrics.TLWriteThroughputBytesPerSec.Set(t.writeSpeed)
}

// ema applies the EMA weighting: new = 0.6*sample + 0.4*old.
func ema(old, sample float64) float64 {
	return 0.6*sample + 0.4*old
}

func throughput(size int, d time.Duration) float64 {
	if d <= 0 {
		return float64(size)
	}
	return float64(size) / d.Seconds()
}

// Speeds returns the current (read, write) throughput EMA in bytes/sec.
func (t *TL) Speeds() (read, write float64) {
	t.speedMu.RLock()
	defer t.speedMu.RUnlock()
	return t.readSpeed, t.writeSpeed
}
