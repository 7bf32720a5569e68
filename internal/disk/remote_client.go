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

package disk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// RemoteClient is a Device backed by an HTTP disk-daemon. The wire format
// is JSON over POST /read, /write, /erase; addresses travel as
// decimal strings and page payloads as the raw bytes reinterpreted as a
// string, matching the daemon's protocol.
type RemoteClient struct {
	baseURL string
	hc      *http.Client
	size    uint32
}

// NewRemoteClient constructs a client against a disk-daemon listening at
// baseURL (e.g. "http://127.0.0.1:3010") managing a device of size pages.
func NewRemoteClient(baseURL string, size uint32) *RemoteClient {
	return &RemoteClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 10 * time.Second},
		size:    size,
	}
}

func (c *RemoteClient) PageCount() uint32  { return c.size }
func (c *RemoteClient) BlockCount() uint32 { return c.size / layout.PagesPerBlock }

type readRequest struct {
	Address string `json:"address"`
}

type readResponse struct {
	Status int    `json:"status"`
	Data   string `json:"data"`
}

type writeRequest struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

type eraseRequest struct {
	Address string `json:"address"`
}

func (c *RemoteClient) post(path string, body any) *http.Response {
	buf, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("disk: RemoteClient marshal %s: %v", path, err))
	}
	resp, err := c.hc.Post(c.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		panic(fmt.Sprintf("disk: RemoteClient post %s: %v", path, err))
	}
	return resp
}

func (c *RemoteClient) ReadPage(addr uint32) []byte {
	if addr >= c.size {
		panic(fmt.Sprintf("disk: RemoteClient read at too big address %d", addr))
	}
	resp := c.post("/read", readRequest{Address: strconv.FormatUint(uint64(addr), 10)})
	defer resp.Body.Close()
	var rr readResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		panic(fmt.Sprintf("disk: RemoteClient decode read response: %v", err))
	}
	page := make([]byte, layout.PageSize)
	if rr.Status == 0 {
		return page
	}
	copy(page, []byte(rr.Data))
	return page
}

func (c *RemoteClient) WritePage(addr uint32, page []byte) {
	checkPage(page)
	if addr >= c.size {
		panic(fmt.Sprintf("disk: RemoteClient write at too big address %d", addr))
	}
	resp := c.post("/write", writeRequest{
		Address: strconv.FormatUint(uint64(addr), 10),
		Data:    string(page),
	})
	resp.Body.Close()
}

func (c *RemoteClient) Erase(blockNo uint32) {
	if blockNo >= c.BlockCount() {
		panic(fmt.Sprintf("disk: RemoteClient erase at too big block %d", blockNo))
	}
	resp := c.post("/erase", eraseRequest{Address: strconv.FormatUint(uint64(blockNo), 10)})
	resp.Body.Close()
}
