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

package tl

import "sync"

// dirtyThreshold is the number of resident entries that makes the write
// cache "dirty" and eligible for a flush.
const dirtyThreshold = 32

// writeCache is TL's write-back cache, keyed by logical block address.
type writeCache struct {
	mu      sync.RWMutex
	entries map[uint32][]byte
}

func newWriteCache() *writeCache {
	return &writeCache{entries: make(map[uint32][]byte)}
}

func (c *writeCache) write(addr uint32, page []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(page))
	copy(cp, page)
	c.entries[addr] = cp
}

func (c *writeCache) read(addr uint32) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[addr]
	return p, ok
}

func (c *writeCache) containsAddress(addr uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[addr]
	return ok
}

// recallWrite drops a pending write without flushing it, used when a block
// is erased out from under the cache.
func (c *writeCache) recallWrite(addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, addr)
}

func (c *writeCache) needSync() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) >= dirtyThreshold
}

func (c *writeCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// batch is one (address, page) pair pending flush.
type batch struct {
	Address uint32
	Data    []byte
}

// getAll returns a snapshot of every resident entry without
// removing them; the caller flushes them and then calls sync to drop the
// exact set that was flushed.
func (c *writeCache) getAll() []batch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]batch, 0, len(c.entries))
	for addr, data := range c.entries {
		out = append(out, batch{Address: addr, Data: data})
	}
	return out
}

// sync removes the given addresses from the cache after a successful flush.
func (c *writeCache) sync(flushed []batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range flushed {
		delete(c.entries, b.Address)
	}
}
