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

func TestSymlinkInode_TargetRoundTrips(t *testing.T) {
	kvMgr := newTestKV(t)
	s, err := NewSymlinkInode(kvMgr, newTestClock(), fuseops.InodeID(9), 0, 0, "/a/b/c")
	require.NoError(t, err)

	s.Lock()
	defer s.Unlock()

	target, err := s.Target(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", target)

	attrs, err := s.Attributes(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, len("/a/b/c"), attrs.Size)
}

func TestSymlinkInode_EmptyTarget(t *testing.T) {
	kvMgr := newTestKV(t)
	s, err := NewSymlinkInode(kvMgr, newTestClock(), fuseops.InodeID(9), 0, 0, "")
	require.NoError(t, err)

	s.Lock()
	defer s.Unlock()

	target, err := s.Target(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", target)
}

func TestSymlinkInode_Destroy(t *testing.T) {
	kvMgr := newTestKV(t)
	s, err := NewSymlinkInode(kvMgr, newTestClock(), fuseops.InodeID(9), 0, 0, "/x")
	require.NoError(t, err)

	s.Lock()
	require.NoError(t, s.Destroy())
	s.Unlock()

	_, err = s.readMetadata()
	assert.Error(t, err)
}
