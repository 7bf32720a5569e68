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

// Package kv implements the KV Manager: it combines the LSM index,
// BIT/PIT, the journal, and the GC manager into the three namespace
// operations (meta/data/extra) the inode layer builds on.
package kv

import (
	"sync"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/bitpit"
	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/compress"
	"github.com/WondFS/WondFS-nfs/internal/gc"
	"github.com/WondFS/WondFS-nfs/internal/journal"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/logger"
	"github.com/WondFS/WondFS-nfs/internal/lsm"
	"github.com/WondFS/WondFS-nfs/internal/wfserrors"
)

// Manager is the KV Manager: the single entry point the inode layer calls
// for meta/data/extra reads and writes. All of its state (LSM, BIT, PIT,
// journal, GC) shares one lock, owned by the KV manager.
type Manager struct {
	mu sync.RWMutex

	geo   layout.Geometry
	bc    *buf.Cache
	tree  *lsm.Tree
	bit   *bitpit.BIT
	pit   *bitpit.PIT
	gcMgr *gc.Manager
	jr    *journal.Journal
	cm    *compress.Manager
}

// New constructs a Manager wired over bc with the given geometry.
func New(bc *buf.Cache, geo layout.Geometry) *Manager {
	bit := bitpit.New(geo.MainArea)
	return &Manager{
		geo:   geo,
		bc:    bc,
		tree:  lsm.New(bc, geo.KV),
		bit:   bit,
		pit:   bitpit.NewPIT(geo.MainArea),
		gcMgr: gc.New(geo.MainArea, bit),
		jr:    journal.New(),
		cm:    compress.NewManager(),
	}
}

// Mount loads the LSM run, BIT, and PIT from disk and replays any pending
// journal.
func (m *Manager) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.Load(); err != nil {
		return err
	}
	if err := m.bit.Load(m.bc, m.geo.BIT[0], m.geo.BIT[1]); err != nil {
		return err
	}
	if err := m.pit.Load(m.bc, m.geo.PIT[0], m.geo.PIT[1]); err != nil {
		return err
	}
	return m.replayJournalLocked()
}

func (m *Manager) replayJournalLocked() error {
	j, ok, err := journal.Load(m.bc, m.geo.Journal)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, mv := range j.Moves() {
		ino := m.pit.Owner(mv.From)
		data := m.readPage(mv.From)
		m.writePage(mv.To, data)
		m.pit.SetOwner(mv.From, 0)
		m.bit.MarkUsed(mv.From, false)
		m.pit.SetOwner(mv.To, ino)
		m.bit.MarkUsed(mv.To, true)
	}
	m.bc.Erase(j.EraseBlockNo())
	m.gcMgr.EraseBlock(j.EraseBlockNo())
	m.bit.RecordErase(j.EraseBlockNo(), time.Now())
	journal.Erase(m.bc, m.geo.Journal)
	return nil
}

// Get reads [off, off+len) of key, or the whole value when len==0.
func (m *Manager) Get(key []byte, off, length int64) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, err := parseKey(key)
	if err != nil {
		return nil, false, err
	}

	switch ns {
	case nsMeta, nsExtra:
		raw, ok := m.tree.Get(key)
		if !ok {
			return nil, false, nil
		}
		value, err := compress.Decode(raw)
		if err != nil {
			return nil, false, err
		}
		if length == 0 {
			return value, true, nil
		}
		return sliceRange(value, off, length), true, nil

	case nsData:
		raw, ok := m.tree.Get(key)
		if !ok {
			return nil, false, nil
		}
		object, err := decodeDataObject(raw)
		if err != nil {
			return nil, false, err
		}
		if length == 0 {
			return m.readDataObjectAll(object), true, nil
		}
		if off+length > object.Size {
			all := m.readDataObjectAll(object)
			return sliceRange(all, off, int64(len(all))-off), true, nil
		}
		return m.readDataObjectRange(object, off, length), true, nil
	}
	return nil, false, wfserrors.ErrInvalidKey
}

// Set writes value into [off, off+len) of key, allocating main-area pages
// for data objects as needed. For data objects it returns the new size.
func (m *Manager) Set(key []byte, off, length int64, value []byte, ino uint32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, err := parseKey(key)
	if err != nil {
		return 0, err
	}

	switch ns {
	case nsMeta, nsExtra:
		prev, hasPrev := m.tree.Get(key)
		var prevValue []byte
		if hasPrev {
			prevValue, err = compress.Decode(prev)
			if err != nil {
				return 0, err
			}
		}
		next := mergeWholeValue(prevValue, hasPrev, off, length, value)
		m.tree.Put(key, m.cm.Encode(next))
		return 0, nil

	case nsData:
		raw, hasPrev := m.tree.Get(key)
		var object DataObjectValue
		if hasPrev {
			object, err = decodeDataObject(raw)
			if err != nil {
				return 0, err
			}
		}
		if length == 0 {
			m.recycleDataObjectAll(&object)
		}
		m.setDataObject(&object, off, length, value, ino)
		m.tree.Put(key, encodeDataObject(object))
		return object.Size, nil
	}
	return 0, wfserrors.ErrInvalidKey
}

// Delete removes [off, off+len) of key, or the whole record when len==0.
func (m *Manager) Delete(key []byte, off, length int64, ino uint32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, err := parseKey(key)
	if err != nil {
		return 0, err
	}

	switch ns {
	case nsMeta, nsExtra:
		prev, hasPrev := m.tree.Get(key)
		if !hasPrev {
			return 0, nil
		}
		if length == 0 {
			m.tree.Delete(key)
			return 0, nil
		}
		prevValue, err := compress.Decode(prev)
		if err != nil {
			return 0, err
		}
		next := deleteRange(prevValue, off, length)
		m.tree.Put(key, m.cm.Encode(next))
		return 0, nil

	case nsData:
		raw, hasPrev := m.tree.Get(key)
		if !hasPrev {
			return 0, nil
		}
		object, err := decodeDataObject(raw)
		if err != nil {
			return 0, err
		}
		if length == 0 {
			m.recycleDataObjectAll(&object)
			m.tree.Delete(key)
			return 0, nil
		}
		m.deleteDataObject(&object, off, length, ino)
		m.tree.Put(key, encodeDataObject(object))
		return object.Size, nil
	}
	return 0, wfserrors.ErrInvalidKey
}

// Flush persists the LSM run and, if dirty, BIT/PIT.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.tree.Flush(); err != nil {
		return err
	}
	if m.bit.NeedSync() {
		m.bit.Sync(m.bc, m.geo.BIT[0], m.geo.BIT[1])
	}
	if m.pit.NeedSync() {
		m.pit.Sync(m.bc, m.geo.PIT[0], m.geo.PIT[1])
	}
	return nil
}

func (m *Manager) readPage(addr uint32) []byte {
	page, err := m.bc.Read(addr)
	if err != nil {
		panic(err)
	}
	return page
}

func (m *Manager) writePage(addr uint32, page []byte) {
	m.bc.Write(addr, page)
}

// allocatePages reserves n contiguous clean main-area pages, running
// forward GC and retrying when the main area is full.
func (m *Manager) allocatePages(n uint32) uint32 {
	for {
		addr, ok := m.gcMgr.FindWritePos(n)
		if ok {
			return addr
		}
		if !m.forwardGCLocked() {
			panic(wfserrors.ErrOutOfSpace)
		}
	}
}

// RunBackgroundGC runs one opportunistic forward-GC pass, for use by a
// timer-driven GC goroutine. Returns disposed=false when there was nothing
// to reclaim; never blocks waiting for allocation pressure, unlike
// allocatePages's retry loop.
func (m *Manager) RunBackgroundGC() (disposed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	disposed = m.forwardGCLocked()
	return disposed, nil
}

// forwardGCLocked runs one synchronous GC pass, applying the move plan
// in-place through the journal for crash safety. Returns false if there was
// nothing left to reclaim.
func (m *Manager) forwardGCLocked() bool {
	group, ok := m.gcMgr.NewEvent()
	if !ok {
		return false
	}
	logger.Infof("kv: GC group %s reclaiming block %d (%d moves)", group.GroupID, group.BlockNo, len(group.Moves))

	m.jr.BeginOp()
	m.jr.SetEraseBlockNo(group.BlockNo)
	for _, mv := range group.Moves {
		m.jr.Record(mv.OAddress, mv.DAddress)
	}
	m.jr.EndOp()
	m.jr.Sync(m.bc, m.geo.Journal)

	for _, mv := range group.Moves {
		data := m.readPage(mv.OAddress)
		m.writePage(mv.DAddress, data)
		m.pit.SetOwner(mv.OAddress, 0)
		m.bit.MarkUsed(mv.OAddress, false)
		m.pit.SetOwner(mv.DAddress, mv.Ino)
		m.bit.MarkUsed(mv.DAddress, true)
		m.repointDataObject(mv.OAddress, mv.DAddress, mv.Ino)
	}

	m.bc.Erase(group.BlockNo)
	m.gcMgr.EraseBlock(group.BlockNo)
	m.bit.RecordErase(group.BlockNo, time.Now())
	m.jr.Clear()
	journal.Erase(m.bc, m.geo.Journal)
	return true
}

// repointDataObject rewrites the owning d:<ino> LSM record so any entry
// pointing at oAddr now points at dAddr.
func (m *Manager) repointDataObject(oAddr, dAddr, ino uint32) {
	key := DataKey(uint64(ino))
	raw, ok := m.tree.Get(key)
	if !ok {
		return
	}
	object, err := decodeDataObject(raw)
	if err != nil {
		return
	}
	for i := range object.Entries {
		if object.Entries[i].PagePointer == oAddr {
			object.Entries[i].PagePointer = dAddr
			break
		}
	}
	m.tree.Put(key, encodeDataObject(object))
}

func (m *Manager) readDataObjectRange(object DataObjectValue, off, length int64) []byte {
	index := 0
	for i, e := range object.Entries {
		if off < e.Offset {
			index = i - 1
			break
		}
		if i == len(object.Entries)-1 {
			index = len(object.Entries) - 1
		}
	}
	if index < 0 {
		index = 0
	}

	var result []byte
	remain := length
	data := m.readDataObjectEntry(object.Entries[index])
	start := off - object.Entries[index].Offset
	readNum := minI64(int64(len(data))-start, remain)
	result = append(result, data[start:start+readNum]...)
	remain -= readNum
	index++
	for remain != 0 {
		data := m.readDataObjectEntry(object.Entries[index])
		readNum := minI64(int64(len(data)), remain)
		result = append(result, data[:readNum]...)
		remain -= readNum
		index++
	}
	return result
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func sliceRange(data []byte, off, length int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	end := off + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}

// mergeWholeValue implements the "m:"/"e:" partial-update rule: replace
// [off, off+len) in place, extending (and truncating at off)
// when the new range runs past the current value.
func mergeWholeValue(prev []byte, hasPrev bool, off, length int64, value []byte) []byte {
	if !hasPrev || length == 0 {
		return append([]byte{}, value...)
	}
	if int64(len(prev)) >= off+length {
		out := append([]byte{}, prev...)
		copy(out[off:off+length], value)
		return out
	}
	out := append([]byte{}, prev[:off]...)
	out = append(out, value...)
	return out
}

// deleteRange implements the "m:"/"e:" byte-range delete rule: remove
// [off, off+len), shifting any trailing bytes left.
func deleteRange(prev []byte, off, length int64) []byte {
	if int64(len(prev)) > off+length {
		rest := append([]byte{}, prev[off+length:]...)
		out := append([]byte{}, prev[:off]...)
		return append(out, rest...)
	}
	return append([]byte{}, prev[:off]...)
}
