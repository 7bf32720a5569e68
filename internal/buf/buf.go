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

// Package buf implements the single in-memory page cache sitting above the
// translation layer: an LBA→page map holding a configurable number of pages
// (1024 by default), read-through and
// write-through to TL, and an LRU eviction policy that never silently
// drops a dirty entry. The LRU bookkeeping (container/list plus a map of
// elements) and atomic hit/miss counters follow a standard LRUCache/
// BufferPool shape; this cache has no GC/eviction callback that needs a
// free list, since TL, not BUF, owns durability.
package buf

import (
	"container/list"
	"sync"

	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/metrics"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

// Capacity is the fixed number of resident pages.
const Capacity = 1024

type entry struct {
	addr  uint32
	page  []byte
	dirty bool
}

// Cache is the buffer cache. A single mutex covers map, list, and TL calls
// so any one Read/Write/Erase is atomic.
type Cache struct {
	mu       sync.Mutex
	tl       *tl.TL
	capacity int
	ll       *list.List
	items    map[uint32]*list.Element
}

// New constructs a Cache of the given capacity over t. Capacity 0 means
// Capacity.
func New(t *tl.TL, capacity int) *Cache {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Cache{
		tl:       t,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint32]*list.Element),
	}
}

// Read returns the page at addr, populating the cache on miss.
func (c *Cache) Read(addr uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[addr]; ok {
		c.ll.MoveToFront(el)
		metrics.BufCacheHits.Inc()
		e := el.Value.(*entry)
		out := make([]byte, len(e.page))
		copy(out, e.page)
		return out, nil
	}

	metrics.BufCacheMisses.Inc()
	page, err := c.tl.Read(addr)
	if err != nil {
		return nil, err
	}
	c.insert(addr, page, false)
	out := make([]byte, len(page))
	copy(out, page)
	return out, nil
}

// Write updates the cached page and forwards it to TL's write-back cache.
func (c *Cache) Write(addr uint32, page []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tl.Write(addr, page)
	c.insert(addr, page, true)
}

// Erase removes the PagesPerBlock entries belonging to blockNo and forwards
// the erase to TL.
func (c *Cache) Erase(blockNo uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := layout.PageAddr(blockNo)
	end := start + layout.PagesPerBlock
	for a := start; a < end; a++ {
		if el, ok := c.items[a]; ok {
			c.ll.Remove(el)
			delete(c.items, a)
		}
	}
	c.tl.Erase(blockNo)
}

// insert adds or replaces the entry for addr and evicts the least-recently
// used clean entry if the cache is over capacity. Dirty entries are never
// evicted (TL already holds their copy in its write-back cache), so once no
// clean entry is left the cache grows past its capacity; an entry stays
// dirty until MarkClean is called for it.
func (c *Cache) insert(addr uint32, page []byte, dirty bool) {
	cp := make([]byte, len(page))
	copy(cp, page)

	if el, ok := c.items[addr]; ok {
		e := el.Value.(*entry)
		e.page = cp
		if dirty {
			e.dirty = true
		}
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{addr: addr, page: cp, dirty: dirty})
	c.items[addr] = el

	for c.ll.Len() > c.capacity {
		if !c.evictOneClean() {
			break
		}
	}
}

func (c *Cache) evictOneClean() bool {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.dirty {
			continue
		}
		c.ll.Remove(el)
		delete(c.items, e.addr)
		return true
	}
	return false
}

// MarkClean clears the dirty bit for addr, making the entry evictable again.
func (c *Cache) MarkClean(addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[addr]; ok {
		el.Value.(*entry).dirty = false
	}
}

// Len returns the number of resident entries, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
