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

// Package wfserrors defines the error kinds shared by every layer of WondFS,
// from the disk device up through the POSIX bridge.
package wfserrors

import "errors"

var (
	// ErrNotFound is returned for a missing key, inode, or path component.
	ErrNotFound = errors.New("wondfs: not found")

	// ErrInvalidArgument is returned when a stored data-object record is
	// truncated and cannot be decoded.
	ErrInvalidArgument = errors.New("wondfs: invalid argument")

	// ErrOutOfSpace is returned when no clean pages remain after forward GC.
	ErrOutOfSpace = errors.New("wondfs: out of space")

	// ErrNoSpareBlock is returned when TL cannot remap a bad block because no
	// spare block remains. This is fatal.
	ErrNoSpareBlock = errors.New("wondfs: no spare block for remap")

	// ErrCorrupt is returned when a page's signature check fails and the
	// payload cannot be recovered via ECC.
	ErrCorrupt = errors.New("wondfs: unrecoverable page corruption")

	// ErrNotADirectory and ErrIsADirectory classify inode-type mismatches
	// encountered while walking paths or performing directory-only or
	// file-only operations.
	ErrNotADirectory = errors.New("wondfs: not a directory")
	ErrIsADirectory  = errors.New("wondfs: is a directory")

	// ErrAlreadyExists is returned by directory entry creation when the name
	// is already in use.
	ErrAlreadyExists = errors.New("wondfs: already exists")

	// ErrNotEmpty is returned when removing a non-empty directory.
	ErrNotEmpty = errors.New("wondfs: directory not empty")

	// ErrUnsupported names a deliberately unimplemented operation. Nothing in
	// this module returns it; the bridge's Rename handler answers with
	// fuse.ENOSYS directly.
	ErrUnsupported = errors.New("wondfs: unsupported operation")

	// ErrInvalidKey is returned when a KV key does not carry one of the
	// recognized "m:"/"d:"/"e:" namespace prefixes.
	ErrInvalidKey = errors.New("wondfs: invalid kv key")
)
