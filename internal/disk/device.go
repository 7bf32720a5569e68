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

// Package disk implements the bottom layer of WondFS: raw page read/write
// and block erase against a physical or simulated NAND-flash device.
package disk

import "github.com/WondFS/WondFS-nfs/internal/layout"

// Device is the raw page/block interface every higher layer is built on.
// Implementations must fail fatally (panic) on an out-of-range address.
type Device interface {
	// ReadPage reads the page at addr into a freshly allocated slice of
	// layout.PageSize bytes.
	ReadPage(addr uint32) []byte

	// WritePage writes page (must be exactly layout.PageSize bytes) to addr.
	// addr must currently be clean (all-zero); writing to a dirty page is
	// forbidden and must fail.
	WritePage(addr uint32, page []byte)

	// Erase zeroes the layout.PagesPerBlock pages of block blockNo.
	Erase(blockNo uint32)

	// PageCount returns the total number of addressable pages.
	PageCount() uint32

	// BlockCount returns PageCount() / layout.PagesPerBlock.
	BlockCount() uint32
}

func checkPage(page []byte) {
	if len(page) != layout.PageSize {
		panic("disk: page buffer has wrong size")
	}
}

func isZero(page []byte) bool {
	for _, b := range page {
		if b != 0 {
			return false
		}
	}
	return true
}
