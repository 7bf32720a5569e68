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

// Package remotedisk implements the remote-disk HTTP daemon: a
// single-consumer mailbox in front of a disk.Device. The HTTP layer
// pushes typed messages onto a bounded queue; one worker goroutine owns the
// device and drains the queue, so the device itself never needs its own
// locking, built on common's linked-list Queue adapted here into a
// blocking, capacity-bounded mailbox (the base Queue is a plain data
// structure with no synchronization of its own).
package remotedisk

import (
	"sync"

	"github.com/WondFS/WondFS-nfs/common"
)

type opKind int

const (
	opRead opKind = iota
	opWrite
	opErase
)

type message struct {
	kind    opKind
	address uint32
	data    []byte
	reply   chan readReply // non-nil only for opRead
}

type readReply struct {
	data []byte
	err  error
}

// mailbox is a bounded, blocking single-consumer queue of messages.
type mailbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	q        common.Queue[message]
	capacity int
	closed   bool
}

func newMailbox(capacity int) *mailbox {
	m := &mailbox{
		q:        common.NewLinkedListQueue[message](),
		capacity: capacity,
	}
	m.notEmpty = sync.NewCond(&m.mu)
	m.notFull = sync.NewCond(&m.mu)
	return m
}

// push blocks until there is room, then enqueues msg.
func (m *mailbox) push(msg message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Len() >= m.capacity && !m.closed {
		m.notFull.Wait()
	}
	m.q.Push(msg)
	m.notEmpty.Signal()
}

// pop blocks until a message is available, returning ok=false once closed
// with nothing left to drain.
func (m *mailbox) pop() (message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.IsEmpty() && !m.closed {
		m.notEmpty.Wait()
	}
	if m.q.IsEmpty() {
		return message{}, false
	}
	msg := m.q.Pop()
	m.notFull.Signal()
	return msg, true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.notEmpty.Broadcast()
	m.notFull.Broadcast()
}
