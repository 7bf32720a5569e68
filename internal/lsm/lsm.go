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

// Package lsm implements the key→value index: a memtable of
// fixed-width-prefixed byte keys, flushed as a single sorted run into
// the KV region through the buffer cache, simplified to one run per
// flush rather than a multi-run compaction pipeline. The contract this
// must provide is eventual durability through BUF writes addressed into
// the KV region,
// which a single re-written sorted run already satisfies. There is no
// ordered-map/skiplist library anywhere in the retrieval pack, so the
// memtable itself is a stdlib sort.Search-maintained slice (see DESIGN.md).
package lsm

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

type kv struct {
	key   []byte
	value []byte
}

// Tree is the in-memory memtable plus its on-flash sorted run.
type Tree struct {
	mu      sync.RWMutex
	entries []kv // sorted by key
	buf     *buf.Cache
	region  layout.Region
}

// New constructs an empty Tree persisting into region through b.
func New(b *buf.Cache, region layout.Region) *Tree {
	return &Tree{buf: b, region: region}
}

func (t *Tree) find(key []byte) int {
	return sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].key, key) >= 0
	})
}

// Get returns the value for key, if present.
func (t *Tree) Get(key []byte) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.find(key)
	if i < len(t.entries) && bytes.Equal(t.entries[i].key, key) {
		out := make([]byte, len(t.entries[i].value))
		copy(out, t.entries[i].value)
		return out, true
	}
	return nil, false
}

// Put inserts or replaces the value for key.
func (t *Tree) Put(key, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := append([]byte{}, key...)
	v := append([]byte{}, value...)
	i := t.find(k)
	if i < len(t.entries) && bytes.Equal(t.entries[i].key, k) {
		t.entries[i].value = v
		return
	}
	t.entries = append(t.entries, kv{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = kv{key: k, value: v}
}

// Delete removes key, if present.
func (t *Tree) Delete(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.find(key)
	if i < len(t.entries) && bytes.Equal(t.entries[i].key, key) {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// Keys returns a snapshot of all keys in sorted order, for directory-style
// prefix scans performed by higher layers.
func (t *Tree) Keys() [][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][]byte, len(t.entries))
	for i, e := range t.entries {
		out[i] = append([]byte{}, e.key...)
	}
	return out
}

// recordSentinel terminates the persisted run: a zero-length key.
const recordSentinel = 0

// Flush persists the whole memtable as one sorted run written sequentially
// from the start of the KV region, erasing the region's blocks first.
func (t *Tree) Flush() error {
	t.mu.RLock()
	buf := encodeRun(t.entries)
	t.mu.RUnlock()

	needed := layout.PagesForBytes(int64(len(buf)))
	capacityPages := int64(t.region.NumBlocks) * layout.PagesPerBlock
	if needed > capacityPages {
		return errOutOfRegion
	}

	for b := uint32(0); b < t.region.NumBlocks; b++ {
		t.buf.Erase(t.region.StartBlock + b)
	}

	base := layout.PageAddr(t.region.StartBlock)
	for i := int64(0); i < needed; i++ {
		start := i * layout.PageSize
		end := start + layout.PageSize
		page := make([]byte, layout.PageSize)
		if start < int64(len(buf)) {
			n := copy(page, buf[start:min64(end, int64(len(buf)))])
			_ = n
		}
		t.buf.Write(base+uint32(i), page)
	}
	return nil
}

// Load replays the persisted run at mount time, rebuilding the memtable.
func (t *Tree) Load() error {
	base := layout.PageAddr(t.region.StartBlock)
	total := int64(t.region.NumBlocks) * layout.PagesPerBlock
	raw := make([]byte, 0, total*layout.PageSize)
	for i := int64(0); i < total; i++ {
		page, err := t.buf.Read(base + uint32(i))
		if err != nil {
			return err
		}
		raw = append(raw, page...)
	}

	entries, err := decodeRun(raw)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return nil
}

func encodeRun(entries []kv) []byte {
	var out []byte
	var hdr [4]byte
	for _, e := range entries {
		binary.BigEndian.PutUint16(hdr[:2], uint16(len(e.key)))
		out = append(out, hdr[:2]...)
		out = append(out, e.key...)
		binary.BigEndian.PutUint32(hdr[:4], uint32(len(e.value)))
		out = append(out, hdr[:4]...)
		out = append(out, e.value...)
	}
	binary.BigEndian.PutUint16(hdr[:2], recordSentinel)
	out = append(out, hdr[:2]...)
	return out
}

func decodeRun(raw []byte) ([]kv, error) {
	var entries []kv
	off := 0
	for {
		if off+2 > len(raw) {
			return nil, errTruncatedRun
		}
		klen := int(binary.BigEndian.Uint16(raw[off : off+2]))
		off += 2
		if klen == recordSentinel {
			break
		}
		if off+klen+4 > len(raw) {
			return nil, errTruncatedRun
		}
		key := append([]byte{}, raw[off:off+klen]...)
		off += klen
		vlen := int(binary.BigEndian.Uint32(raw[off : off+4]))
		off += 4
		if off+vlen > len(raw) {
			return nil, errTruncatedRun
		}
		value := append([]byte{}, raw[off:off+vlen]...)
		off += vlen
		entries = append(entries, kv{key: key, value: value})
	}
	return entries, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
