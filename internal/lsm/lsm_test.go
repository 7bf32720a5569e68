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

package lsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/buf"
	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/tl"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	geo := layout.NewGeometry(64)
	dev := disk.NewFakeDisk(64 * layout.PagesPerBlock)
	b := buf.New(tl.New(dev, geo), 0)
	return New(b, geo.KV)
}

func TestTree_PutGetDelete(t *testing.T) {
	tr := newTestTree(t)
	tr.Put([]byte("m:1"), []byte("hello"))
	v, ok := tr.Get([]byte("m:1"))
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)

	tr.Delete([]byte("m:1"))
	_, ok = tr.Get([]byte("m:1"))
	assert.False(t, ok)
}

func TestTree_KeysAreSorted(t *testing.T) {
	tr := newTestTree(t)
	tr.Put([]byte("m:3"), []byte("c"))
	tr.Put([]byte("m:1"), []byte("a"))
	tr.Put([]byte("m:2"), []byte("b"))

	keys := tr.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, []byte("m:1"), keys[0])
	assert.Equal(t, []byte("m:2"), keys[1])
	assert.Equal(t, []byte("m:3"), keys[2])
}

func TestTree_FlushAndLoadRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	tr.Put([]byte("d:1"), []byte("one"))
	tr.Put([]byte("d:2"), []byte("two"))
	require.NoError(t, tr.Flush())

	tr2 := newTestTree(t)
	tr2.buf = tr.buf
	require.NoError(t, tr2.Load())

	v, ok := tr2.Get([]byte("d:1"))
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)
	v, ok = tr2.Get([]byte("d:2"))
	require.True(t, ok)
	assert.Equal(t, []byte("two"), v)
}
