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

// Package gc implements the main-area page allocator and victim-selection
// policy: find_write_pos hands out runs of clean pages favouring
// low-erase-count blocks (how many Clean pages a block holds is not
// weighed); new_gc_event picks a victim
// block maximising reclaimable dirty pages above a minimum utilisation
// threshold and describes the erase plus page moves needed to evacuate
// it. Disposing the resulting group (applying the moves, rewriting the
// owning d:<ino> LSM record, erasing the victim) is the KV manager's job,
// not this package's — this package only plans (see DESIGN.md for the
// call pattern this is grounded on).
package gc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/WondFS/WondFS-nfs/internal/bitpit"
	"github.com/WondFS/WondFS-nfs/internal/layout"
)

// PageStatus is the tri-state lifecycle of a main-area page:
// Clean -> Busy(ino) -> Dirty -> Clean.
type PageStatus int

const (
	Clean PageStatus = iota
	Busy
	Dirty
)

// minUtilization is the minimum fraction of Dirty pages a block must hold
// to be worth reclaiming; a block below it is skipped by victim selection.
// 0 means "prefer the block with the most dirty pages, with no floor",
// the simplest policy consistent with wear-levelling.
const minUtilization = 0.0

// Move describes relocating one data page before its block is erased.
type Move struct {
	OAddress uint32
	DAddress uint32
	Ino      uint32
}

// EventGroup is the outcome of one victim-selection pass: erase one block
// after relocating every Busy page it held. GroupID is a correlation id for
// logging which group a journal entry and its eventual dispose belong to;
// it carries no on-disk meaning (the journal block identifies its group by
// position, not by this id).
type EventGroup struct {
	GroupID uuid.UUID
	BlockNo uint32
	Moves   []Move
}

// Manager tracks per-page status for the main area and answers allocation
// and victim-selection queries. It does not itself perform page I/O or
// touch BIT/PIT/LSM; the KV manager drives those from the plan it returns.
type Manager struct {
	mu     sync.Mutex
	region layout.Region
	status map[uint32]PageStatus // page address -> status; absent == Clean
	owner  map[uint32]uint32     // page address -> owning inode, valid when Busy
	bit    *bitpit.BIT
}

// New constructs a Manager over the main-area region, consulting bit for
// per-block erase counts when ranking candidate victims/allocations.
func New(region layout.Region, bit *bitpit.BIT) *Manager {
	return &Manager{
		region: region,
		status: make(map[uint32]PageStatus),
		owner:  make(map[uint32]uint32),
		bit:    bit,
	}
}

// SetPage records a page's status, mirroring what PIT/BIT already say once
// KV manager has applied a mutation.
func (m *Manager) SetPage(addr uint32, status PageStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == Clean {
		delete(m.status, addr)
		delete(m.owner, addr)
		return
	}
	m.status[addr] = status
}

// SetPageOwner records the inode owning a Busy page.
func (m *Manager) SetPageOwner(addr, ino uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner[addr] = ino
}

// Status returns a page's current status.
func (m *Manager) Status(addr uint32) PageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[addr]
}

// Owner returns the inode owning a Busy page, or 0 if none.
func (m *Manager) Owner(addr uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner[addr]
}

// EraseBlock clears every page of blockNo back to Clean, called once the KV
// manager has actually erased the block on disk.
func (m *Manager) EraseBlock(blockNo uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := layout.PageAddr(blockNo)
	for i := uint32(0); i < layout.PagesPerBlock; i++ {
		delete(m.status, start+i)
		delete(m.owner, start+i)
	}
}

// FindWritePos returns the first address of a run of n consecutive Clean
// pages within one block, preferring blocks with a lower erase count. It
// returns ok=false if no block currently has such a run.
func (m *Manager) FindWritePos(n uint32) (addr uint32, ok bool) {
	return m.findWritePosExcluding(n, none)
}

const none = ^uint32(0)

func (m *Manager) findWritePosExcluding(n, excludeBlock uint32) (addr uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n == 0 || n > layout.PagesPerBlock {
		return 0, false
	}

	type candidate struct {
		addr       uint32
		eraseCount uint32
	}
	var best *candidate

	for b := uint32(0); b < m.region.NumBlocks; b++ {
		blockNo := m.region.StartBlock + b
		if blockNo == excludeBlock {
			continue
		}
		start := layout.PageAddr(blockNo)
		run := uint32(0)
		for i := uint32(0); i < layout.PagesPerBlock; i++ {
			if status, present := m.status[start+i]; present && status != Clean {
				run = 0
			} else {
				run++
			}
			if run >= n {
				ec := m.eraseCount(blockNo)
				candAddr := start + i + 1 - n
				if best == nil || ec < best.eraseCount {
					best = &candidate{addr: candAddr, eraseCount: ec}
				}
				break
			}
		}
	}
	if best == nil {
		return 0, false
	}
	return best.addr, true
}

func (m *Manager) eraseCount(blockNo uint32) uint32 {
	if m.bit == nil {
		return 0
	}
	return m.bit.Get(blockNo).EraseCount
}

// NewEvent selects a victim block to reclaim and plans the moves required
// to evacuate its Busy pages, without touching any persistent state. It
// returns ok=false if no block has any Dirty page to reclaim, or if some
// Busy page of the victim cannot be given a destination (destinations
// already reserved for the group are released again).
func (m *Manager) NewEvent() (EventGroup, bool) {
	m.mu.Lock()
	victim, _, ok := m.pickVictimLocked()
	if !ok {
		m.mu.Unlock()
		return EventGroup{}, false
	}
	busyAddrs := m.busyPagesLocked(victim)
	m.mu.Unlock()

	group := EventGroup{GroupID: uuid.New(), BlockNo: victim}
	for _, from := range busyAddrs {
		to, ok := m.findWritePosExcluding(1, victim)
		if !ok {
			for _, mv := range group.Moves {
				m.SetPage(mv.DAddress, Clean)
			}
			return EventGroup{}, false
		}
		ino := m.Owner(from)
		m.SetPage(to, Busy)
		m.SetPageOwner(to, ino)
		group.Moves = append(group.Moves, Move{OAddress: from, DAddress: to, Ino: ino})
	}
	return group, true
}

func (m *Manager) pickVictimLocked() (blockNo uint32, dirty int, ok bool) {
	var bestBlock uint32
	bestDirty := -1
	for b := uint32(0); b < m.region.NumBlocks; b++ {
		candidate := m.region.StartBlock + b
		start := layout.PageAddr(candidate)
		d := 0
		for i := uint32(0); i < layout.PagesPerBlock; i++ {
			if m.status[start+i] == Dirty {
				d++
			}
		}
		if d == 0 {
			continue
		}
		util := float64(d) / float64(layout.PagesPerBlock)
		if util < minUtilization {
			continue
		}
		if d > bestDirty {
			bestDirty = d
			bestBlock = candidate
		}
	}
	if bestDirty < 0 {
		return 0, 0, false
	}
	return bestBlock, bestDirty, true
}

func (m *Manager) busyPagesLocked(blockNo uint32) []uint32 {
	start := layout.PageAddr(blockNo)
	var out []uint32
	for i := uint32(0); i < layout.PagesPerBlock; i++ {
		if m.status[start+i] == Busy {
			out = append(out, start+i)
		}
	}
	return out
}
