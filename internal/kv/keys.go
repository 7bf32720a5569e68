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

package kv

import (
	"fmt"

	"github.com/WondFS/WondFS-nfs/internal/wfserrors"
)

// namespace distinguishes the three key kinds: meta, data, and extra.
type namespace byte

const (
	nsMeta  namespace = 'm'
	nsData  namespace = 'd'
	nsExtra namespace = 'e'
)

// parseKey classifies key by its two-byte prefix ("m:", "d:", "e:").
func parseKey(key []byte) (namespace, error) {
	if len(key) < 2 || key[1] != ':' {
		return 0, wfserrors.ErrInvalidKey
	}
	switch namespace(key[0]) {
	case nsMeta, nsData, nsExtra:
		return namespace(key[0]), nil
	default:
		return 0, wfserrors.ErrInvalidKey
	}
}

// MetaKey builds the "m:<ino>" key for an inode's metadata record.
func MetaKey(ino uint64) []byte { return []byte(fmt.Sprintf("m:%d", ino)) }

// DataKey builds the "d:<ino>" key for an inode's data-object record.
func DataKey(ino uint64) []byte { return []byte(fmt.Sprintf("d:%d", ino)) }

// ExtraKey builds the "e:<ino>" key for an inode's extra-attribute record.
func ExtraKey(ino uint64) []byte { return []byte(fmt.Sprintf("e:%d", ino)) }
