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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/WondFS/WondFS-nfs/internal/disk"
	"github.com/WondFS/WondFS-nfs/internal/layout"
	"github.com/WondFS/WondFS-nfs/internal/logger"
)

// defaultMailboxCapacity bounds how many in-flight requests the HTTP layer
// may queue up ahead of the worker goroutine before push blocks.
const defaultMailboxCapacity = 256

// Daemon serves the remote-disk wire protocol in front of a
// single disk.Device, owned exclusively by one worker goroutine so the
// device implementation itself never has to be safe for concurrent use.
type Daemon struct {
	mbox   *mailbox
	router *mux.Router
}

// NewDaemon constructs a Daemon around dev and starts its worker goroutine.
func NewDaemon(dev disk.Device) *Daemon {
	d := &Daemon{
		mbox: newMailbox(defaultMailboxCapacity),
	}
	d.router = mux.NewRouter()
	d.router.HandleFunc("/read", d.handleRead).Methods(http.MethodPost)
	d.router.HandleFunc("/write", d.handleWrite).Methods(http.MethodPost)
	d.router.HandleFunc("/erase", d.handleErase).Methods(http.MethodPost)
	go d.worker(dev)
	return d
}

// Handler returns the daemon's HTTP handler for use with an http.Server.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// Close stops the worker goroutine once it has drained every message
// already queued.
func (d *Daemon) Close() {
	d.mbox.close()
}

func (d *Daemon) worker(dev disk.Device) {
	for {
		msg, ok := d.mbox.pop()
		if !ok {
			return
		}
		switch msg.kind {
		case opRead:
			page := dev.ReadPage(msg.address)
			msg.reply <- readReply{data: page}
		case opWrite:
			dev.WritePage(msg.address, msg.data)
		case opErase:
			dev.Erase(msg.address)
		}
	}
}

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

func parseAddress(r *http.Request) (uint32, bool) {
	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(req.Address, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (d *Daemon) handleRead(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply := make(chan readReply, 1)
	d.mbox.push(message{kind: opRead, address: addr, reply: reply})
	res := <-reply

	resp := readResponse{Status: 1, Data: string(res.data)}
	if isZero(res.data) {
		resp = readResponse{Status: 0}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorf("remotedisk: encode read response: %v", err)
	}
}

func (d *Daemon) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	addr, err := strconv.ParseUint(req.Address, 10, 32)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	page := make([]byte, layout.PageSize)
	copy(page, []byte(req.Data))
	d.mbox.push(message{kind: opWrite, address: uint32(addr), data: page})
	w.WriteHeader(http.StatusOK)
}

func (d *Daemon) handleErase(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r)
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	d.mbox.push(message{kind: opErase, address: addr})
	w.WriteHeader(http.StatusOK)
}

func isZero(page []byte) bool {
	for _, b := range page {
		if b != 0 {
			return false
		}
	}
	return true
}
