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

// Package wrappers decorates a fuseops.FileSystem with cross-cutting
// concerns that have nothing to do with any single operation's semantics.
package wrappers

import (
	"context"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/WondFS/WondFS-nfs/common"
	"github.com/WondFS/WondFS-nfs/internal/metrics"
)

// monitoringFS wraps a fuseops.FileSystem, recording a count and a latency
// observation for every operation under the op's common.Op* name.
type monitoringFS struct {
	inner fuseops.FileSystem
}

// WithMonitoring returns fs decorated with the wondfs_fs_ops_total and
// wondfs_fs_op_duration_seconds metrics.
func WithMonitoring(fs fuseops.FileSystem) fuseops.FileSystem {
	return &monitoringFS{inner: fs}
}

func record(op string, start time.Time, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FSOpsTotal.WithLabelValues(op, outcome).Inc()
	metrics.FSOpDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (fs *monitoringFS) Init(ctx context.Context, op *fuseops.InitOp) error {
	start := time.Now()
	return record(common.OpInit, start, fs.inner.Init(ctx, op))
}

func (fs *monitoringFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	start := time.Now()
	return record(common.OpStatFS, start, fs.inner.StatFS(ctx, op))
}

func (fs *monitoringFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	start := time.Now()
	return record(common.OpLookUpInode, start, fs.inner.LookUpInode(ctx, op))
}

func (fs *monitoringFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	start := time.Now()
	return record(common.OpGetInodeAttributes, start, fs.inner.GetInodeAttributes(ctx, op))
}

func (fs *monitoringFS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	start := time.Now()
	return record(common.OpSetInodeAttributes, start, fs.inner.SetInodeAttributes(ctx, op))
}

func (fs *monitoringFS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	start := time.Now()
	return record(common.OpForgetInode, start, fs.inner.ForgetInode(ctx, op))
}

func (fs *monitoringFS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	start := time.Now()
	return record(common.OpMkDir, start, fs.inner.MkDir(ctx, op))
}

func (fs *monitoringFS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	start := time.Now()
	return record(common.OpMkNode, start, fs.inner.MkNode(ctx, op))
}

func (fs *monitoringFS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	start := time.Now()
	return record(common.OpCreateFile, start, fs.inner.CreateFile(ctx, op))
}

func (fs *monitoringFS) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	start := time.Now()
	return record(common.OpCreateLink, start, fs.inner.CreateLink(ctx, op))
}

func (fs *monitoringFS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	start := time.Now()
	return record(common.OpCreateSymlink, start, fs.inner.CreateSymlink(ctx, op))
}

func (fs *monitoringFS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	start := time.Now()
	return record(common.OpRename, start, fs.inner.Rename(ctx, op))
}

func (fs *monitoringFS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	start := time.Now()
	return record(common.OpRmDir, start, fs.inner.RmDir(ctx, op))
}

func (fs *monitoringFS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	start := time.Now()
	return record(common.OpUnlink, start, fs.inner.Unlink(ctx, op))
}

func (fs *monitoringFS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	start := time.Now()
	return record(common.OpOpenDir, start, fs.inner.OpenDir(ctx, op))
}

func (fs *monitoringFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	start := time.Now()
	return record(common.OpReadDir, start, fs.inner.ReadDir(ctx, op))
}

func (fs *monitoringFS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	start := time.Now()
	return record(common.OpReleaseDirHandle, start, fs.inner.ReleaseDirHandle(ctx, op))
}

func (fs *monitoringFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	start := time.Now()
	return record(common.OpOpenFile, start, fs.inner.OpenFile(ctx, op))
}

func (fs *monitoringFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	start := time.Now()
	return record(common.OpReadFile, start, fs.inner.ReadFile(ctx, op))
}

func (fs *monitoringFS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	start := time.Now()
	return record(common.OpWriteFile, start, fs.inner.WriteFile(ctx, op))
}

func (fs *monitoringFS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	start := time.Now()
	return record(common.OpSyncFile, start, fs.inner.SyncFile(ctx, op))
}

func (fs *monitoringFS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	start := time.Now()
	return record(common.OpFlushFile, start, fs.inner.FlushFile(ctx, op))
}

func (fs *monitoringFS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	start := time.Now()
	return record(common.OpReleaseFileHandle, start, fs.inner.ReleaseFileHandle(ctx, op))
}

func (fs *monitoringFS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	start := time.Now()
	return record(common.OpReadSymlink, start, fs.inner.ReadSymlink(ctx, op))
}

func (fs *monitoringFS) RemoveXattr(ctx context.Context, op *fuseops.RemoveXattrOp) error {
	start := time.Now()
	return record(common.OpRemoveXattr, start, fs.inner.RemoveXattr(ctx, op))
}

func (fs *monitoringFS) GetXattr(ctx context.Context, op *fuseops.GetXattrOp) error {
	start := time.Now()
	return record(common.OpGetXattr, start, fs.inner.GetXattr(ctx, op))
}

func (fs *monitoringFS) ListXattr(ctx context.Context, op *fuseops.ListXattrOp) error {
	start := time.Now()
	return record(common.OpListXattr, start, fs.inner.ListXattr(ctx, op))
}

func (fs *monitoringFS) SetXattr(ctx context.Context, op *fuseops.SetXattrOp) error {
	start := time.Now()
	return record(common.OpSetXattr, start, fs.inner.SetXattr(ctx, op))
}

func (fs *monitoringFS) Fallocate(ctx context.Context, op *fuseops.FallocateOp) error {
	start := time.Now()
	return record(common.OpFallocate, start, fs.inner.Fallocate(ctx, op))
}

func (fs *monitoringFS) SyncFS(ctx context.Context, op *fuseops.SyncFSOp) error {
	start := time.Now()
	return record(common.OpSyncFS, start, fs.inner.SyncFS(ctx, op))
}

func (fs *monitoringFS) Destroy() {
	fs.inner.Destroy()
}
