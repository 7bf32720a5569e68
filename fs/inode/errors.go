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
	"errors"
	"os"
)

var (
	errNotFound      = errors.New("inode: not found")
	errAlreadyExists = errors.New("inode: already exists")
)

// fileModeBits is the permission/type bits portion of an os.FileMode (the
// low 9 bits plus any os.ModeType bits callers pass in explicitly); kept as
// a distinct name so call sites reviewing NewDirInode/SetAttributes don't
// mistake it for a full os.FileMode value with directory/symlink bits
// already set.
type fileModeBits = os.FileMode
