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

package inode

import (
	"context"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInode_WriteThenReadRoundTrips(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	defer f.Unlock()

	n, err := f.WriteAt(context.Background(), []byte("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = f.ReadAt(context.Background(), buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	attrs, err := f.Attributes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 11, attrs.Size)
}

func TestFileInode_ReadPastEOFReturnsShortRead(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	defer f.Unlock()

	_, err = f.WriteAt(context.Background(), []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := f.ReadAt(context.Background(), buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "bc", string(buf[:n]))

	n, err = f.ReadAt(context.Background(), buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileInode_WritePastEndGrowsWithZeroFill(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	defer f.Unlock()

	_, err = f.WriteAt(context.Background(), []byte("ab"), 0)
	require.NoError(t, err)
	_, err = f.WriteAt(context.Background(), []byte("z"), 5)
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := f.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0, 'z'}, buf)
}

func TestFileInode_SetAttributesTruncateShrinks(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	defer f.Unlock()

	_, err = f.WriteAt(context.Background(), []byte("hello"), 0)
	require.NoError(t, err)

	size := uint64(2)
	attrs, err := f.SetAttributes(&size, nil, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, attrs.Size)

	buf := make([]byte, 10)
	n, err := f.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "he", string(buf[:n]))
}

func TestFileInode_LinkedAndUnlinkedTrackNLink(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	defer f.Unlock()

	require.NoError(t, f.Linked())
	attrs, err := f.Attributes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, attrs.Nlink)

	zero := f.Unlinked()
	assert.False(t, zero)
	zero = f.Unlinked()
	assert.True(t, zero)
}

func TestFileInode_DestroyRemovesDataAndMetadata(t *testing.T) {
	kvMgr := newTestKV(t)
	f, err := NewFileInode(kvMgr, newTestClock(), fuseops.InodeID(5), 0, 0, 0644)
	require.NoError(t, err)

	f.Lock()
	_, err = f.WriteAt(context.Background(), []byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Destroy())
	f.Unlock()

	_, err = f.readMetadata()
	assert.Error(t, err)
}
