/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr 25 09:12:44 2018 mstenber
 * Last modified: Fri Apr 27 14:20:31 2018 mstenber
 * Edit time:     92 min
 *
 */

// snapshot package captures isolated point-in-time copies of inodes
// (attributes + data block index) for kernel execution. Snapshots are
// grouped per execution context, and live until the context is
// explicitly deleted.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

var ErrNotFound = errors.New("snapshot not found")

type Slot int

const (
	SlotFile Slot = iota
	SlotRead
	SlotWrite
)

func (self Slot) String() string {
	switch self {
	case SlotFile:
		return "file"
	case SlotRead:
		return "read"
	case SlotWrite:
		return "write"
	}
	return fmt.Sprintf("slot%d", int(self))
}

// Context identifies one offloaded operation: the inode operated on,
// and the client that asked.
type Context struct {
	Inode  uint64
	Client uint64
}

// Snapshot must not be modified once captured.
type Snapshot struct {
	Inode      disk.InodeEntry
	DataBlocks []*disk.DataBlock
}

// LBAs returns the data sectors of the snapshot in file order, holes
// included as zero.
func (self *Snapshot) LBAs(sectorSize uint64) []uint64 {
	n := util.CeilDiv(self.Inode.Size, sectorSize)
	lbas := make([]uint64, 0, n)
	for _, db := range self.DataBlocks {
		for _, lba := range db.LBAs {
			if uint64(len(lbas)) == n {
				return lbas
			}
			lbas = append(lbas, lba)
		}
	}
	return lbas
}

// Set is the snapshots of one context. File is always present.
type Set struct {
	File, Read, Write *Snapshot
}

func (self *Set) get(slot Slot) *Snapshot {
	switch slot {
	case SlotFile:
		return self.File
	case SlotRead:
		return self.Read
	case SlotWrite:
		return self.Write
	}
	return nil
}

// Source is what snapshots are captured from.
type Source interface {
	GetInode(ino uint64) (disk.InodeEntry, error)

	// GetDataBlock returns the nth data block of the inode.
	GetDataBlock(e *disk.InodeEntry, n uint64) (*disk.DataBlock, error)

	SectorSize() uint64
}

type Manager struct {
	source Source

	lock     util.RWMutexLocked
	contexts map[Context]*Set
}

func NewManager(source Source) *Manager {
	return &Manager{source: source, contexts: make(map[Context]*Set)}
}

// Create captures ino: its attributes, then every data block its size
// implies.
func (self *Manager) Create(ino uint64) (*Snapshot, error) {
	e, err := self.source.GetInode(ino)
	if err != nil {
		return nil, err
	}
	ss := self.source.SectorSize()
	lbas := util.CeilDiv(e.Size, ss)
	blocks := util.CeilDiv(lbas, disk.DataBlockLBACount(ss))
	snap := &Snapshot{Inode: e, DataBlocks: make([]*disk.DataBlock, 0, blocks)}
	for i := uint64(0); i < blocks; i++ {
		db, err := self.source.GetDataBlock(&e, i)
		if err != nil {
			return nil, fmt.Errorf("inode %d data block %d: %w", ino, i, err)
		}
		snap.DataBlocks = append(snap.DataBlocks, db.Clone())
	}
	mlog.Printf2("snapshot/snapshot", "Create %d: size %d, %d blocks", ino, e.Size, blocks)
	return snap, nil
}

// Update (re)snapshots the kernel into the read or write slot of ctx.
// A new context captures the file first; an existing one keeps its
// file snapshot and the other kernel slot.
func (self *Manager) Update(ctx Context, kernel uint64, isWrite bool) error {
	var file *Snapshot
	if !self.Has(ctx, SlotFile) {
		var err error
		if file, err = self.Create(ctx.Inode); err != nil {
			return err
		}
	}
	k, err := self.Create(kernel)
	if err != nil {
		return err
	}
	defer self.lock.Locked()()
	set, ok := self.contexts[ctx]
	if ok {
		ns := *set
		set = &ns
	} else {
		if file == nil {
			// deleted while we were capturing
			if file, err = self.Create(ctx.Inode); err != nil {
				return err
			}
		}
		set = &Set{File: file}
	}
	if isWrite {
		set.Write = k
	} else {
		set.Read = k
	}
	self.contexts[ctx] = set
	mlog.Printf2("snapshot/snapshot", "Update %+v kernel %d write:%v", ctx, kernel, isWrite)
	return nil
}

// Replace sets one slot of an existing context.
func (self *Manager) Replace(ctx Context, slot Slot, snap *Snapshot) error {
	defer self.lock.Locked()()
	set, ok := self.contexts[ctx]
	if !ok {
		return ErrNotFound
	}
	ns := *set
	switch slot {
	case SlotFile:
		ns.File = snap
	case SlotRead:
		ns.Read = snap
	case SlotWrite:
		ns.Write = snap
	}
	self.contexts[ctx] = &ns
	return nil
}

func (self *Manager) Has(ctx Context, slot Slot) bool {
	defer self.lock.RLocked()()
	set, ok := self.contexts[ctx]
	return ok && set.get(slot) != nil
}

// Get returns a copy of the context's set.
func (self *Manager) Get(ctx Context) (Set, error) {
	defer self.lock.RLocked()()
	set, ok := self.contexts[ctx]
	if !ok {
		return Set{}, ErrNotFound
	}
	return *set, nil
}

func (self *Manager) GetSlot(ctx Context, slot Slot) (*Snapshot, error) {
	set, err := self.Get(ctx)
	if err != nil {
		return nil, err
	}
	snap := set.get(slot)
	if snap == nil {
		return nil, fmt.Errorf("%w: %s slot of %+v", ErrNotFound, slot, ctx)
	}
	return snap, nil
}

// Delete removes all slots of the context.
func (self *Manager) Delete(ctx Context) {
	defer self.lock.Locked()()
	delete(self.contexts, ctx)
}

// Len is the number of live contexts.
func (self *Manager) Len() int {
	defer self.lock.RLocked()()
	return len(self.contexts)
}
