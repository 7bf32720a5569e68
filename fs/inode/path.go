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

	"github.com/jacobsa/fuse/fuseops"
)

// SkipElem splits the first path component off path, tolerating any
// number of leading and trailing slashes between components. It reports
// ok=false once path is exhausted.
func SkipElem(path string) (rest, name string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name = path[start:i]
	for i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:], name, true
}

// WalkPath resolves path against root, always starting at the fixed root
// inode (ino=1). When parent is true it stops one component short and
// also returns the final component's name; a path that names the root
// itself with parent=true is not found.
func WalkPath(ctx context.Context, mgr *Manager, path string, parent bool) (ino fuseops.InodeID, name string, err error) {
	ino = fuseops.RootInodeID
	rest := path

	for {
		var elem string
		var ok bool
		rest, elem, ok = SkipElem(rest)
		if !ok {
			if parent {
				return 0, "", errNotFound
			}
			return ino, "", nil
		}

		dir, err := mgr.GetDir(ctx, ino)
		if err != nil {
			return 0, "", err
		}

		if parent && rest == "" {
			dir.Unlock()
			return ino, elem, nil
		}

		childIno, found, err := dir.LookUpChild(ctx, elem)
		dir.Unlock()
		if err != nil {
			return 0, "", err
		}
		if !found {
			return 0, "", errNotFound
		}
		ino = fuseops.InodeID(childIno)
	}
}
