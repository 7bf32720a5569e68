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

// Package compress implements the adaptive payload codec sitting between
// the LSM index and the buffer cache. Every stored value is prefixed with
// its decoded length and a one-byte codec tag, then encoded with
// whichever of Huffman (klauspost/compress's huff0), Snappy
// (golang/snappy), or no compression at all produces the smallest result.
package compress

import (
	"encoding/binary"
	"errors"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/huff0"
)

// Codec tags the scheme used to encode a value's payload.
type Codec byte

const (
	CodecNone Codec = iota
	CodecHuffman
	CodecSnappy
)

const headerSize = 4 + 1 // original length (be32) + codec tag

// Manager selects and applies the compression codec for stored values.
type Manager struct{}

// NewManager constructs a Manager. It holds no state; huff0 scratch buffers
// are allocated per call since the KV manager's critical section already
// serializes access to the Manager's caller.
func NewManager() *Manager { return &Manager{} }

// Encode tries Huffman and Snappy and keeps whichever (including "no
// compression") yields the smallest encoding.
func (m *Manager) Encode(data []byte) []byte {
	best := append([]byte{}, data...)
	bestCodec := CodecNone

	if huf, ok := encodeHuffman(data); ok && len(huf) < len(best) {
		best = huf
		bestCodec = CodecHuffman
	}
	if snap := snappy.Encode(nil, data); len(snap) < len(best) {
		best = snap
		bestCodec = CodecSnappy
	}

	out := make([]byte, headerSize+len(best))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(data)))
	out[4] = byte(bestCodec)
	copy(out[headerSize:], best)
	return out
}

// Decode reverses Encode.
func Decode(stored []byte) ([]byte, error) {
	if len(stored) < headerSize {
		return nil, errors.New("compress: stored value truncated")
	}
	origLen := binary.BigEndian.Uint32(stored[0:4])
	codec := Codec(stored[4])
	payload := stored[headerSize:]

	switch codec {
	case CodecNone:
		return append([]byte{}, payload...), nil
	case CodecSnappy:
		return snappy.Decode(nil, payload)
	case CodecHuffman:
		return decodeHuffman(payload, int(origLen))
	default:
		return nil, errors.New("compress: unknown codec tag")
	}
}

func encodeHuffman(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var s huff0.Scratch
	s.MaxDecodedSize = len(data)
	out, _, err := huff0.Compress1X(data, &s)
	if err != nil {
		// ErrIncompressible/ErrUseRLE/ErrTooBig: this payload doesn't
		// benefit from Huffman coding.
		return nil, false
	}
	return out, true
}

func decodeHuffman(payload []byte, origLen int) ([]byte, error) {
	var s huff0.Scratch
	s.MaxDecodedSize = origLen
	out, err := s.Decompress1X(payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}
