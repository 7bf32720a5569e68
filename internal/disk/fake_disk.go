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

package disk

import (
	"fmt"
	"sync"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// FakeDisk is a RAM-backed Device used by tests and by disk-daemon when no
// backing file is given: a flat page array, a sleep on every write/erase
// to emulate flash latency, and a panic on write-to-dirty-page.
type FakeDisk struct {
	mu    sync.Mutex
	pages [][]byte
}

// NewFakeDisk allocates a FakeDisk with size pages. size must be a multiple
// of layout.PagesPerBlock, matching the Rust constructor's check.
func NewFakeDisk(size uint32) *FakeDisk {
	if size%layout.PagesPerBlock != 0 {
		panic("disk: FakeDisk size must be a multiple of PagesPerBlock")
	}
	pages := make([][]byte, size)
	for i := range pages {
		pages[i] = make([]byte, layout.PageSize)
	}
	return &FakeDisk{pages: pages}
}

func (d *FakeDisk) PageCount() uint32 { return uint32(len(d.pages)) }
func (d *FakeDisk) BlockCount() uint32 {
	return d.PageCount() / layout.PagesPerBlock
}

func (d *FakeDisk) ReadPage(addr uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr >= d.PageCount() {
		panic(fmt.Sprintf("disk: FakeDisk read at too big address %d", addr))
	}
	out := make([]byte, layout.PageSize)
	copy(out, d.pages[addr])
	return out
}

func (d *FakeDisk) WritePage(addr uint32, page []byte) {
	checkPage(page)
	d.mu.Lock()
	defer d.mu.Unlock()
	time.Sleep(50 * time.Microsecond)
	if addr >= d.PageCount() {
		panic(fmt.Sprintf("disk: FakeDisk write at too big address %d", addr))
	}
	if !isZero(d.pages[addr]) {
		panic(fmt.Sprintf("disk: FakeDisk write at not clean address %d", addr))
	}
	copy(d.pages[addr], page)
}

func (d *FakeDisk) Erase(blockNo uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	time.Sleep(50 * time.Microsecond)
	if blockNo >= d.BlockCount() {
		panic(fmt.Sprintf("disk: FakeDisk erase at too big block %d", blockNo))
	}
	start := blockNo * layout.PagesPerBlock
	end := start + layout.PagesPerBlock
	for i := start; i < end; i++ {
		for j := range d.pages[i] {
			d.pages[i][j] = 0
		}
	}
}
