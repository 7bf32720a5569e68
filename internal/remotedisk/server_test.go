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

package remotedisk

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

func newTestDaemon(t *testing.T) (*Daemon, *httptest.Server) {
	t.Helper()
	dev := disk.NewFakeDisk(64 * layout.PagesPerBlock)
	d := NewDaemon(dev)
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		d.Close()
	})
	return d, srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestDaemon_ReadUnwrittenPageIsZeroStatus(t *testing.T) {
	_, srv := newTestDaemon(t)
	resp := postJSON(t, srv, "/read", readRequest{Address: "0"})
	defer resp.Body.Close()

	var rr readResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	assert.Equal(t, 0, rr.Status)
}

func TestDaemon_WriteThenReadRoundTrip(t *testing.T) {
	_, srv := newTestDaemon(t)
	page := bytes.Repeat([]byte("Q"), layout.PageSize)

	resp := postJSON(t, srv, "/write", writeRequest{Address: "5", Data: string(page)})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv, "/read", readRequest{Address: "5"})
	defer resp.Body.Close()
	var rr readResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	assert.Equal(t, 1, rr.Status)
	assert.Equal(t, page, []byte(rr.Data))
}

func TestDaemon_EraseThenReadIsZero(t *testing.T) {
	_, srv := newTestDaemon(t)
	page := bytes.Repeat([]byte("R"), layout.PageSize)
	resp := postJSON(t, srv, "/write", writeRequest{Address: "0", Data: string(page)})
	resp.Body.Close()

	resp = postJSON(t, srv, "/erase", eraseRequest{Address: "0"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv, "/read", readRequest{Address: "0"})
	defer resp.Body.Close()
	var rr readResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	assert.Equal(t, 0, rr.Status)
}

func TestDaemon_ReadBadAddressIsBadRequest(t *testing.T) {
	_, srv := newTestDaemon(t)
	resp := postJSON(t, srv, "/read", readRequest{Address: "not-a-number"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
