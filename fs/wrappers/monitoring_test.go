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

package wrappers

import (
	"context"
	"errors"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/metrics"
)

// dummyFS is a minimal fuseops.FileSystem stub: every method returns a
// canned result so the decorator's own bookkeeping can be exercised in
// isolation from a real file system implementation.
type dummyFS struct {
	err error
}

func (d dummyFS) Init(context.Context, *fuseops.InitOp) error                          { return d.err }
func (d dummyFS) StatFS(context.Context, *fuseops.StatFSOp) error                      { return d.err }
func (d dummyFS) LookUpInode(context.Context, *fuseops.LookUpInodeOp) error            { return d.err }
func (d dummyFS) GetInodeAttributes(context.Context, *fuseops.GetInodeAttributesOp) error { return d.err }
func (d dummyFS) SetInodeAttributes(context.Context, *fuseops.SetInodeAttributesOp) error { return d.err }
func (d dummyFS) ForgetInode(context.Context, *fuseops.ForgetInodeOp) error            { return d.err }
func (d dummyFS) MkDir(context.Context, *fuseops.MkDirOp) error                        { return d.err }
func (d dummyFS) MkNode(context.Context, *fuseops.MkNodeOp) error                      { return d.err }
func (d dummyFS) CreateFile(context.Context, *fuseops.CreateFileOp) error              { return d.err }
func (d dummyFS) CreateLink(context.Context, *fuseops.CreateLinkOp) error              { return d.err }
func (d dummyFS) CreateSymlink(context.Context, *fuseops.CreateSymlinkOp) error        { return d.err }
func (d dummyFS) Rename(context.Context, *fuseops.RenameOp) error                      { return d.err }
func (d dummyFS) RmDir(context.Context, *fuseops.RmDirOp) error                        { return d.err }
func (d dummyFS) Unlink(context.Context, *fuseops.UnlinkOp) error                      { return d.err }
func (d dummyFS) OpenDir(context.Context, *fuseops.OpenDirOp) error                    { return d.err }
func (d dummyFS) ReadDir(context.Context, *fuseops.ReadDirOp) error                    { return d.err }
func (d dummyFS) ReleaseDirHandle(context.Context, *fuseops.ReleaseDirHandleOp) error  { return d.err }
func (d dummyFS) OpenFile(context.Context, *fuseops.OpenFileOp) error                  { return d.err }
func (d dummyFS) ReadFile(context.Context, *fuseops.ReadFileOp) error                  { return d.err }
func (d dummyFS) WriteFile(context.Context, *fuseops.WriteFileOp) error                { return d.err }
func (d dummyFS) SyncFile(context.Context, *fuseops.SyncFileOp) error                  { return d.err }
func (d dummyFS) FlushFile(context.Context, *fuseops.FlushFileOp) error                { return d.err }
func (d dummyFS) ReleaseFileHandle(context.Context, *fuseops.ReleaseFileHandleOp) error { return d.err }
func (d dummyFS) ReadSymlink(context.Context, *fuseops.ReadSymlinkOp) error            { return d.err }
func (d dummyFS) RemoveXattr(context.Context, *fuseops.RemoveXattrOp) error            { return d.err }
func (d dummyFS) GetXattr(context.Context, *fuseops.GetXattrOp) error                  { return d.err }
func (d dummyFS) ListXattr(context.Context, *fuseops.ListXattrOp) error                { return d.err }
func (d dummyFS) SetXattr(context.Context, *fuseops.SetXattrOp) error                  { return d.err }
func (d dummyFS) Fallocate(context.Context, *fuseops.FallocateOp) error                { return d.err }
func (d dummyFS) SyncFS(context.Context, *fuseops.SyncFSOp) error                      { return d.err }
func (d dummyFS) Destroy()                                                            {}

var _ fuseops.FileSystem = dummyFS{}

func TestWithMonitoring_ForwardsCallsAndResult(t *testing.T) {
	wrapped := WithMonitoring(dummyFS{})
	err := wrapped.MkDir(context.Background(), &fuseops.MkDirOp{})
	assert.NoError(t, err)
}

func TestWithMonitoring_RecordsSuccessAndErrorOutcomes(t *testing.T) {
	before := testutil.ToFloat64(metrics.FSOpsTotal.WithLabelValues("MkDir", "ok"))

	ok := WithMonitoring(dummyFS{})
	require.NoError(t, ok.MkDir(context.Background(), &fuseops.MkDirOp{}))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FSOpsTotal.WithLabelValues("MkDir", "ok")))

	beforeErr := testutil.ToFloat64(metrics.FSOpsTotal.WithLabelValues("MkDir", "error"))
	failing := WithMonitoring(dummyFS{err: errors.New("boom")})
	err := failing.MkDir(context.Background(), &fuseops.MkDirOp{})
	require.Error(t, err)
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(metrics.FSOpsTotal.WithLabelValues("MkDir", "error")))
}

func TestWithMonitoring_DestroyForwards(t *testing.T) {
	wrapped := WithMonitoring(dummyFS{})
	wrapped.Destroy()
}
