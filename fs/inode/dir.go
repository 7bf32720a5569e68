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
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/WondFS/WondFS-nfs/clock"
	"github.com/WondFS/WondFS-nfs/internal/kv"
)

// DirEntry is one record of a directory's entry stream:
// {ino: u32, name_len: u16, name: bytes}.
type DirEntry struct {
	Ino  uint32
	Name string
}

// DirInode is a directory inode backed by the KV Manager. Its data-object
// record (d:<ino>) holds the serialized entry stream; its meta record
// (m:<ino>) holds the usual inode metadata.
type DirInode struct {
	kvMgr *kv.Manager
	clk   clock.Clock

	id fuseops.InodeID
	// INVARIANT: ino == uint32(id)
	ino uint32

	mu sync.Mutex

	// GUARDED_BY(mu)
	lc lookupCount
}

var _ Inode = &DirInode{}

// NewRootInode creates the directory inode for the root of the file system
// (ino=1), writing its metadata record if one does not already exist.
func NewRootInode(kvMgr *kv.Manager, clk clock.Clock, uid, gid uint32, mode fileModeBits) (*DirInode, error) {
	return NewDirInode(kvMgr, clk, fuseops.RootInodeID, uid, gid, mode)
}

// NewDirInode wraps an existing directory inode (or bootstraps one, for the
// root) with the given ino.
func NewDirInode(kvMgr *kv.Manager, clk clock.Clock, id fuseops.InodeID, uid, gid uint32, mode fileModeBits) (d *DirInode, err error) {
	d = &DirInode{
		kvMgr: kvMgr,
		clk:   clk,
		id:    id,
		ino:   uint32(id),
	}

	_, ok, err := kvMgr.Get(kv.MetaKey(uint64(d.ino)), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("inode: load dir metadata: %w", err)
	}
	if !ok {
		now := d.clk.Now()
		m := Metadata{
			FileType: TypeDirectory,
			Ino:      d.ino,
			NLink:    2, // "." and the parent's entry for this directory
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Mode:     os.FileMode(mode),
			Uid:      uid,
			Gid:      gid,
		}
		if err := d.writeMetadata(m); err != nil {
			return nil, err
		}
	}

	return d, nil
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (d *DirInode) readMetadata() (Metadata, error) {
	raw, ok, err := d.kvMgr.Get(kv.MetaKey(uint64(d.ino)), 0, 0)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, fmt.Errorf("inode: missing metadata for dir %d", d.ino)
	}
	return decodeMetadata(raw)
}

func (d *DirInode) writeMetadata(m Metadata) error {
	raw := encodeMetadata(m)
	_, err := d.kvMgr.Set(kv.MetaKey(uint64(d.ino)), 0, int64(len(raw)), raw, d.ino)
	return err
}

func (d *DirInode) readEntryStream() ([]byte, error) {
	raw, ok, err := d.kvMgr.Get(kv.DataKey(uint64(d.ino)), 0, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func encodeDirEntries(entries []DirEntry) []byte {
	var buf []byte
	for _, e := range entries {
		rec := make([]byte, 4+2+len(e.Name))
		binary.BigEndian.PutUint32(rec[0:], e.Ino)
		binary.BigEndian.PutUint16(rec[4:], uint16(len(e.Name)))
		copy(rec[6:], e.Name)
		buf = append(buf, rec...)
	}
	return buf
}

func decodeDirEntries(raw []byte) ([]DirEntry, error) {
	var entries []DirEntry
	for off := 0; off < len(raw); {
		if off+6 > len(raw) {
			return nil, fmt.Errorf("inode: truncated directory entry stream")
		}
		ino := binary.BigEndian.Uint32(raw[off:])
		nameLen := int(binary.BigEndian.Uint16(raw[off+4:]))
		off += 6
		if off+nameLen > len(raw) {
			return nil, fmt.Errorf("inode: truncated directory entry name")
		}
		name := string(raw[off : off+nameLen])
		off += nameLen
		entries = append(entries, DirEntry{Ino: ino, Name: name})
	}
	return entries, nil
}

// listEntriesLocked reads and parses the full entry stream.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) listEntriesLocked() ([]DirEntry, error) {
	raw, err := d.readEntryStream()
	if err != nil {
		return nil, err
	}
	return decodeDirEntries(raw)
}

// writeEntriesLocked serializes and replaces the whole entry stream. It
// always deletes the prior record first: Set on a d: key merges the new
// range into the existing entries rather than truncating them (kv.Manager
// only recycles the whole object when length==0), so a plain Set here
// would leave a stale tail from the old stream behind whenever the new
// stream is shorter than the one it replaces.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) writeEntriesLocked(entries []DirEntry) error {
	raw := encodeDirEntries(entries)
	key := kv.DataKey(uint64(d.ino))
	if _, err := d.kvMgr.Delete(key, 0, 0, d.ino); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	_, err := d.kvMgr.Set(key, 0, int64(len(raw)), raw, d.ino)
	return err
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

func (d *DirInode) Lock()   { d.mu.Lock() }
func (d *DirInode) Unlock() { d.mu.Unlock() }

func (d *DirInode) ID() fuseops.InodeID { return d.id }
func (d *DirInode) Ino() uint32         { return d.ino }

// LOCKS_REQUIRED(d)
func (d *DirInode) IncrementLookupCount() { d.lc.Inc() }

// LOCKS_REQUIRED(d)
func (d *DirInode) DecrementLookupCount(n uint64) (destroy bool) { return d.lc.Dec(n) }

// Destroy drops the directory's entry stream and metadata record entirely,
// called once both the lookup count and n_link have reached zero, mirroring
// FileInode.Destroy.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) Destroy() error {
	if _, err := d.kvMgr.Delete(kv.DataKey(uint64(d.ino)), 0, 0, d.ino); err != nil {
		return err
	}
	_, err := d.kvMgr.Delete(kv.MetaKey(uint64(d.ino)), 0, 0, d.ino)
	return err
}

// LOCKS_REQUIRED(d)
func (d *DirInode) Attributes(ctx context.Context) (fuseops.InodeAttributes, error) {
	m, err := d.readMetadata()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return toFuseAttrs(m), nil
}

// SetAttributes updates mode/uid/gid and refreshes ctime.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) SetAttributes(mode *fileModeBits, uid, gid *uint32) (fuseops.InodeAttributes, error) {
	m, err := d.readMetadata()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	if mode != nil {
		m.Mode = os.FileMode(*mode)
	}
	if uid != nil {
		m.Uid = *uid
	}
	if gid != nil {
		m.Gid = *gid
	}
	m.Ctime = d.clk.Now()
	if err := d.writeMetadata(m); err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return toFuseAttrs(m), nil
}

// LookUpChild finds the direct child with the given name.
// Returns ino=0, ok=false if absent.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) LookUpChild(ctx context.Context, name string) (ino uint32, ok bool, err error) {
	entries, err := d.listEntriesLocked()
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Ino, true, nil
		}
	}
	return 0, false, nil
}

// Link appends a new (ino, name) entry. Fails if the name is already
// present (invariant: names within a directory are unique).
//
// LOCKS_REQUIRED(d)
func (d *DirInode) Link(ctx context.Context, childIno uint32, name string) error {
	entries, err := d.listEntriesLocked()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == name {
			return fmt.Errorf("inode: %w: %q", errAlreadyExists, name)
		}
	}
	entries = append(entries, DirEntry{Ino: childIno, Name: name})
	if err := d.writeEntriesLocked(entries); err != nil {
		return err
	}
	m, err := d.readMetadata()
	if err != nil {
		return err
	}
	m.Mtime = d.clk.Now()
	m.Ctime = m.Mtime
	return d.writeMetadata(m)
}

// Unlink removes the first matching (ino, name) entry.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) Unlink(ctx context.Context, childIno uint32, name string) error {
	entries, err := d.listEntriesLocked()
	if err != nil {
		return err
	}
	out := entries[:0]
	removed := false
	for _, e := range entries {
		if !removed && e.Name == name && e.Ino == childIno {
			removed = true
			continue
		}
		out = append(out, e)
	}
	if !removed {
		return errNotFound
	}
	if err := d.writeEntriesLocked(out); err != nil {
		return err
	}
	m, err := d.readMetadata()
	if err != nil {
		return err
	}
	m.Mtime = d.clk.Now()
	m.Ctime = m.Mtime
	return d.writeMetadata(m)
}

// IsEmpty reports whether the directory has no entries.
//
// LOCKS_REQUIRED(d)
func (d *DirInode) IsEmpty() (bool, error) {
	entries, err := d.listEntriesLocked()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// ReadEntries returns fuseutil dirents for the whole directory. WondFS
// directories are small in-memory entry streams (unlike GCS's paginated
// listings), so there is no continuation token: callers that need paging
// slice the returned entries themselves (see fs/dir_handle.go).
//
// LOCKS_REQUIRED(d)
func (d *DirInode) ReadEntries(ctx context.Context) ([]fuseutil.Dirent, error) {
	entries, err := d.listEntriesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]fuseutil.Dirent, 0, len(entries))
	for _, e := range entries {
		typ, err := d.childType(ctx, e.Ino)
		if err != nil {
			return nil, err
		}
		out = append(out, fuseutil.Dirent{
			Inode: fuseops.InodeID(e.Ino),
			Name:  e.Name,
			Type:  typ,
		})
	}
	return out, nil
}

func (d *DirInode) childType(ctx context.Context, ino uint32) (fuseutil.DirentType, error) {
	raw, ok, err := d.kvMgr.Get(kv.MetaKey(uint64(ino)), 0, 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fuseutil.DT_Unknown, nil
	}
	m, err := decodeMetadata(raw)
	if err != nil {
		return 0, err
	}
	switch m.FileType {
	case TypeDirectory:
		return fuseutil.DT_Directory, nil
	case TypeSymlink:
		return fuseutil.DT_Link, nil
	default:
		return fuseutil.DT_File, nil
	}
}
