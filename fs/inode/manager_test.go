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

func TestManager_NewManagerBootstrapsRoot(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	in, err := m.Get(context.Background(), fuseops.RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, fuseops.RootInodeID, in.ID())
}

func TestManager_AllocMintsDistinctInos(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	a, err := m.Alloc(context.Background(), TypeFile, 0, 0, 0644, "")
	require.NoError(t, err)
	b, err := m.Alloc(context.Background(), TypeFile, 0, 0, 0644, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestManager_GetReconstructsEvictedInode(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	in, err := m.Alloc(context.Background(), TypeDirectory, 0, 0, 0755, "")
	require.NoError(t, err)
	id := in.ID()

	m.Evict(id)

	reloaded, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, reloaded.ID())
	_, ok := reloaded.(*DirInode)
	assert.True(t, ok)
}

func TestManager_GetDirRejectsNonDirectory(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	in, err := m.Alloc(context.Background(), TypeFile, 0, 0, 0644, "")
	require.NoError(t, err)

	_, err = m.GetDir(context.Background(), in.ID())
	assert.Error(t, err)
}

func TestManager_ForgetDestroysOnceLookupAndNLinkAreZero(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	in, err := m.Alloc(context.Background(), TypeFile, 0, 0, 0644, "")
	require.NoError(t, err)
	id := in.ID()

	in.Lock()
	in.IncrementLookupCount()
	in.Unlock()

	// Unlink drops n_link to zero while the kernel still holds a lookup
	// reference; destruction must wait for the matching Forget below.
	f, ok := in.(*FileInode)
	require.True(t, ok)
	f.Lock()
	zero := f.Unlinked()
	f.Unlock()
	assert.True(t, zero)

	err = m.Forget(context.Background(), id, 1)
	require.NoError(t, err)

	_, err = m.Get(context.Background(), id)
	assert.Error(t, err)
}

func TestManager_ForgetKeepsLiveWhenNLinkStillPositive(t *testing.T) {
	kvMgr := newTestKV(t)
	m, err := NewManager(kvMgr, newTestClock(), 0, 0, 0755)
	require.NoError(t, err)

	in, err := m.Alloc(context.Background(), TypeFile, 0, 0, 0644, "")
	require.NoError(t, err)
	id := in.ID()

	in.Lock()
	in.IncrementLookupCount()
	in.Unlock()

	// n_link is still 1 (from NewFileInode's bootstrap): forgetting the
	// lookup reference alone must not destroy the on-disk data.
	err = m.Forget(context.Background(), id, 1)
	require.NoError(t, err)

	// The live-table entry is dropped regardless (lookup count hit zero),
	// but metadata survives, so a later Get reconstructs it rather than
	// erroring.
	reloaded, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, reloaded.ID())
}
