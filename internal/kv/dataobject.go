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

package kv

import (
	"encoding/binary"

	"github.com/WondFS/WondFS-nfs/internal/gc"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/wfserrors"
)

// DataObjectEntry is one contiguous run of a data object's logical byte
// range, backed by pages starting at PagePointer.
type DataObjectEntry struct {
	Len         int64
	Offset      int64
	PagePointer uint32
}

func (e DataObjectEntry) pageCount() int64 { return (e.Len-1)/layout.PageSize + 1 }

// DataObjectValue is the LSM-resident index for a "d:" key: the logical
// size and the ordered list of extents making it up.
type DataObjectValue struct {
	Size    int64
	Entries []DataObjectEntry
}

func encodeDataObject(v DataObjectValue) []byte {
	out := make([]byte, 8+4)
	binary.BigEndian.PutUint64(out[0:8], uint64(v.Size))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(v.Entries)))
	for _, e := range v.Entries {
		var rec [20]byte
		binary.BigEndian.PutUint64(rec[0:8], uint64(e.Len))
		binary.BigEndian.PutUint64(rec[8:16], uint64(e.Offset))
		binary.BigEndian.PutUint32(rec[16:20], e.PagePointer)
		out = append(out, rec[:]...)
	}
	return out
}

func decodeDataObject(raw []byte) (DataObjectValue, error) {
	if len(raw) < 12 {
		return DataObjectValue{}, wfserrors.ErrInvalidArgument
	}
	v := DataObjectValue{Size: int64(binary.BigEndian.Uint64(raw[0:8]))}
	count := int(binary.BigEndian.Uint32(raw[8:12]))
	off := 12
	for i := 0; i < count; i++ {
		if off+20 > len(raw) {
			return DataObjectValue{}, wfserrors.ErrInvalidArgument
		}
		e := DataObjectEntry{
			Len:         int64(binary.BigEndian.Uint64(raw[off : off+8])),
			Offset:      int64(binary.BigEndian.Uint64(raw[off+8 : off+16])),
			PagePointer: binary.BigEndian.Uint32(raw[off+16 : off+20]),
		}
		off += 20
		v.Entries = append(v.Entries, e)
	}
	return v, nil
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// setDataObject merges [off, off+len) backed by value into object per the
// data-object set merge policy: fully-covered entries are
// dropped (their pages dirtied), a left-overlapped entry is shortened, and
// a right-overlapped entry is split with its surviving tail rewritten to a
// fresh run.
func (m *Manager) setDataObject(object *DataObjectValue, off, length int64, value []byte, ino uint32) {
	if off > object.Size {
		return
	}

	size := (length-1)/layout.PageSize + 1
	pagePointer := m.allocatePages(uint32(size))
	newEntry := DataObjectEntry{Len: length, Offset: off, PagePointer: pagePointer}

	for i := int64(0); i < size; i++ {
		start := i * layout.PageSize
		end := start + layout.PageSize
		page := make([]byte, layout.PageSize)
		if start < int64(len(value)) {
			e := end
			if e > int64(len(value)) {
				e = int64(len(value))
			}
			copy(page, value[start:e])
		}
		m.writePage(pagePointer+uint32(i), page)
		m.bit.MarkUsed(pagePointer+uint32(i), true)
		m.pit.SetOwner(pagePointer+uint32(i), ino)
		m.gcMgr.SetPage(pagePointer+uint32(i), gc.Busy)
		m.gcMgr.SetPageOwner(pagePointer+uint32(i), ino)
	}

	entries := append([]DataObjectEntry{}, object.Entries...)
	var removePointers []uint32
	insertIndex := -1
	var secondEntry *DataObjectEntry

	for index, entry := range entries {
		if entry.Offset+entry.Len <= newEntry.Offset {
			continue
		}
		if entry.Offset >= newEntry.Offset+newEntry.Len {
			continue
		}
		validPrev := maxI64(0, newEntry.Offset-entry.Offset)
		validSuffix := maxI64(0, entry.Offset+entry.Len-newEntry.Offset-newEntry.Len)

		if validPrev == 0 {
			size := entry.pageCount()
			for i := int64(0); i < size; i++ {
				m.pit.SetOwner(entry.PagePointer+uint32(i), 0)
				m.bit.MarkUsed(entry.PagePointer+uint32(i), false)
				m.gcMgr.SetPage(entry.PagePointer+uint32(i), gc.Dirty)
			}
			removePointers = append(removePointers, object.Entries[index].PagePointer)
			if insertIndex == -1 {
				insertIndex = index
			}
		} else {
			size := entry.pageCount()
			oSize := (validPrev-1)/layout.PageSize + 1
			for i := oSize; i < size; i++ {
				m.pit.SetOwner(entry.PagePointer+uint32(i), 0)
				m.bit.MarkUsed(entry.PagePointer+uint32(i), false)
				m.gcMgr.SetPage(entry.PagePointer+uint32(i), gc.Dirty)
			}
			entries[index].Len = validPrev
			if insertIndex == -1 {
				insertIndex = index + 1
			}
		}

		if validSuffix > 0 {
			data := m.readDataObjectEntry(entry)
			tail := data[int64(len(data))-validSuffix:]
			sz := (validSuffix-1)/layout.PageSize + 1
			pp := m.allocatePages(uint32(sz))
			se := DataObjectEntry{
				Len:         validSuffix,
				Offset:      entry.Offset + entry.Len - validSuffix,
				PagePointer: pp,
			}
			for i := int64(0); i < sz; i++ {
				start := i * layout.PageSize
				end := start + layout.PageSize
				page := make([]byte, layout.PageSize)
				if start < int64(len(tail)) {
					e := end
					if e > int64(len(tail)) {
						e = int64(len(tail))
					}
					copy(page, tail[start:e])
				}
				m.writePage(pp+uint32(i), page)
				m.bit.MarkUsed(pp+uint32(i), true)
				m.pit.SetOwner(pp+uint32(i), ino)
				m.gcMgr.SetPage(pp+uint32(i), gc.Busy)
				m.gcMgr.SetPageOwner(pp+uint32(i), ino)
			}
			secondEntry = &se
		}
	}

	entries = removeByPointer(entries, removePointers)
	if insertIndex == -1 {
		insertIndex = len(entries)
	}
	if insertIndex > len(entries) {
		insertIndex = len(entries)
	}
	entries = append(entries, DataObjectEntry{})
	copy(entries[insertIndex+1:], entries[insertIndex:])
	entries[insertIndex] = newEntry
	if secondEntry != nil {
		entries = append(entries, DataObjectEntry{})
		copy(entries[insertIndex+2:], entries[insertIndex+1:])
		entries[insertIndex+1] = *secondEntry
	}

	object.Entries = entries
	var total int64
	for _, e := range object.Entries {
		total += e.Len
	}
	object.Size = total
}

// deleteDataObject removes [off, off+len) from object per the
// data-object delete policy: overlapped entries are trimmed/split exactly
// as in setDataObject, but with no replacement write, and entries entirely
// past the removed range are shifted left by len.
func (m *Manager) deleteDataObject(object *DataObjectValue, off, length int64, ino uint32) {
	if off >= object.Size {
		return
	}

	entries := append([]DataObjectEntry{}, object.Entries...)
	var removePointers []uint32
	insertIndex := -1
	var secondEntry *DataObjectEntry

	for index, entry := range entries {
		switch {
		case entry.Offset+entry.Len <= off:
			continue
		case entry.Offset >= off+length:
			entries[index].Offset = entry.Offset - length
			continue
		default:
			validPrev := maxI64(0, off-entry.Offset)
			validSuffix := maxI64(0, entry.Offset+entry.Len-off-length)

			if validPrev == 0 {
				size := entry.pageCount()
				for i := int64(0); i < size; i++ {
					m.pit.SetOwner(entry.PagePointer+uint32(i), 0)
					m.bit.MarkUsed(entry.PagePointer+uint32(i), false)
					m.gcMgr.SetPage(entry.PagePointer+uint32(i), gc.Dirty)
				}
				removePointers = append(removePointers, object.Entries[index].PagePointer)
				if insertIndex == -1 {
					insertIndex = index
				}
			} else {
				size := entry.pageCount()
				oSize := (validPrev-1)/layout.PageSize + 1
				for i := oSize; i < size; i++ {
					m.pit.SetOwner(entry.PagePointer+uint32(i), 0)
					m.bit.MarkUsed(entry.PagePointer+uint32(i), false)
					m.gcMgr.SetPage(entry.PagePointer+uint32(i), gc.Dirty)
				}
				entries[index].Len = validPrev
				if insertIndex == -1 {
					insertIndex = index + 1
				}
			}

			if validSuffix > 0 {
				data := m.readDataObjectEntry(entry)
				tail := data[int64(len(data))-validSuffix:]
				sz := (validSuffix-1)/layout.PageSize + 1
				pp := m.allocatePages(uint32(sz))
				se := DataObjectEntry{
					Len:         validSuffix,
					Offset:      entry.Offset + entry.Len - validSuffix,
					PagePointer: pp,
				}
				for i := int64(0); i < sz; i++ {
					start := i * layout.PageSize
					end := start + layout.PageSize
					page := make([]byte, layout.PageSize)
					if start < int64(len(tail)) {
						e := end
						if e > int64(len(tail)) {
							e = int64(len(tail))
						}
						copy(page, tail[start:e])
					}
					m.writePage(pp+uint32(i), page)
					m.bit.MarkUsed(pp+uint32(i), true)
					m.pit.SetOwner(pp+uint32(i), ino)
					m.gcMgr.SetPage(pp+uint32(i), gc.Busy)
					m.gcMgr.SetPageOwner(pp+uint32(i), ino)
				}
				secondEntry = &se
			}
		}
	}

	entries = removeByPointer(entries, removePointers)
	if secondEntry != nil {
		if insertIndex == -1 {
			insertIndex = len(entries)
		}
		if insertIndex > len(entries) {
			insertIndex = len(entries)
		}
		entries = append(entries, DataObjectEntry{})
		copy(entries[insertIndex+1:], entries[insertIndex:])
		entries[insertIndex] = *secondEntry
	}

	object.Entries = entries
	var total int64
	for _, e := range object.Entries {
		total += e.Len
	}
	object.Size = total
}

func removeByPointer(entries []DataObjectEntry, pointers []uint32) []DataObjectEntry {
	if len(pointers) == 0 {
		return entries
	}
	drop := make(map[uint32]bool, len(pointers))
	for _, p := range pointers {
		drop[p] = true
	}
	out := entries[:0:0]
	for _, e := range entries {
		if drop[e.PagePointer] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// readDataObjectAll concatenates every entry's bytes in order.
func (m *Manager) readDataObjectAll(object DataObjectValue) []byte {
	var out []byte
	for _, e := range object.Entries {
		out = append(out, m.readDataObjectEntry(e)...)
	}
	return out
}

// readDataObjectEntry reads exactly entry.Len bytes starting at its pages.
func (m *Manager) readDataObjectEntry(entry DataObjectEntry) []byte {
	data := make([]byte, entry.Len)
	size := int64(0)
	pages := entry.pageCount()
	for i := int64(0); i < pages; i++ {
		page := m.readPage(entry.PagePointer + uint32(i))
		if i == pages-1 {
			remain := entry.Len - size
			copy(data[size:size+remain], page[:remain])
		} else {
			copy(data[size:size+layout.PageSize], page)
			size += layout.PageSize
		}
	}
	return data
}

// recycleDataObjectAll dirties every page an object owns and empties it,
// used when set/delete is called with len==0 (replace/remove the whole
// object).
func (m *Manager) recycleDataObjectAll(object *DataObjectValue) {
	for _, e := range object.Entries {
		size := e.pageCount()
		for i := int64(0); i < size; i++ {
			m.pit.SetOwner(e.PagePointer+uint32(i), 0)
			m.bit.MarkUsed(e.PagePointer+uint32(i), false)
			m.gcMgr.SetPage(e.PagePointer+uint32(i), gc.Dirty)
		}
	}
	object.Size = 0
	object.Entries = nil
}
