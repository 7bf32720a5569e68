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

import "github.com/WondFS/WondFS-nfs/internal/layout"

const signaturesPerPage = layout.PageSize / signatureSize // 32

// writeSignatures packs up to signaturesPerPage signature records into one
// rolling signature page and records their location for later lookup,
// accepting any chunk size up to signaturesPerPage rather than requiring
// exactly 32. Each chunk starts on a fresh signature page.
func (t *TL) writeSignatures(entries []batch) {
	if len(entries) == 0 {
		return
	}
	if len(entries) > signaturesPerPage {
		entries = entries[:signaturesPerPage]
	}

	t.signBlockMu.Lock()
	if rem := t.signBlockOffset % signaturesPerPage; rem != 0 {
		t.signBlockOffset += signaturesPerPage - rem
	}
	if t.signBlockOffset/signaturesPerPage >= layout.PagesPerBlock {
		t.usedMu.Lock()
		t.used[t.signBlockNo] = true
		t.usedMu.Unlock()
		t.signBlockMu.Unlock()
		next := t.findNextBlock()
		t.signBlockMu.Lock()
		t.signBlockNo = next
		t.signBlockOffset = 0
	}
	blockNo := t.signBlockNo
	pageOffset := t.signBlockOffset / signaturesPerPage
	baseOffset := t.signBlockOffset
	t.signBlockOffset += uint32(len(entries))
	t.signBlockMu.Unlock()

	pageData := make([]byte, layout.PageSize)
	typ := t.chooseSignType()
	for i, e := range entries {
		sig := Sign(e.Data, e.Address, typ)
		copy(pageData[i*signatureSize:(i+1)*signatureSize], sig)

		t.signMu.Lock()
		t.signBlockOf[e.Address] = blockNo
		t.signOffsetOf[e.Address] = baseOffset + uint32(i)
		t.signMu.Unlock()
	}

	t.dev.WritePage(layout.PageAddr(blockNo)+pageOffset, pageData)
}
