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

package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTripHighlyCompressible(t *testing.T) {
	m := NewManager()
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 500)
	stored := m.Encode(data)
	got, err := Decode(stored)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Less(t, len(stored), len(data))
}

func TestManager_RoundTripRandomData(t *testing.T) {
	m := NewManager()
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	stored := m.Encode(data)
	got, err := Decode(stored)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestManager_RoundTripEmpty(t *testing.T) {
	m := NewManager()
	stored := m.Encode(nil)
	got, err := Decode(stored)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_RejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	assert.Error(t, err)
}
