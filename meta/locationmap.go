/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 21 11:40:05 2018 mstenber
 * Last modified: Tue Apr 24 10:31:47 2018 mstenber
 * Edit time:     88 min
 *
 */

package meta

import (
	"sort"
	"sync"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

// Location is where the newest inode block containing the inode
// lives. LBA 0 means the inode has not been flushed yet.
type Location struct {
	Inode, LBA, Parent uint64
}

type locationEntry struct {
	lba, parent uint64
	slot        int
}

const arenaChunk = 256

// lockArena hands out mutexes that never move; slots are never
// reused, so a slot identifies exactly one inode forever.
type lockArena struct {
	chunks [][]sync.Mutex
	used   int
}

func (self *lockArena) allocate() int {
	if self.used%arenaChunk == 0 {
		self.chunks = append(self.chunks, make([]sync.Mutex, arenaChunk))
	}
	self.used++
	return self.used - 1
}

func (self *lockArena) get(slot int) *sync.Mutex {
	return &self.chunks[slot/arenaChunk][slot%arenaChunk]
}

// LocationMap maps inodes to their on-disk location and owns the
// per-inode locks.
type LocationMap struct {
	lock  util.RWMutexLocked
	m     map[uint64]*locationEntry
	arena lockArena
}

func NewLocationMap() *LocationMap {
	return &LocationMap{m: make(map[uint64]*locationEntry)}
}

func (self *LocationMap) Get(ino uint64) (Location, bool) {
	defer self.lock.RLocked()()
	le, ok := self.m[ino]
	if !ok {
		return Location{}, false
	}
	return Location{Inode: ino, LBA: le.lba, Parent: le.parent}, true
}

func (self *LocationMap) update(ino, lba, parent uint64) *sync.Mutex {
	le, ok := self.m[ino]
	if ok {
		le.lba = lba
		le.parent = parent
		return self.arena.get(le.slot)
	}
	le = &locationEntry{lba: lba, parent: parent, slot: self.arena.allocate()}
	self.m[ino] = le
	return self.arena.get(le.slot)
}

// Update sets the location of ino. An existing inode keeps its lock;
// a new one gets a freshly allocated one. The lock is returned.
func (self *LocationMap) Update(ino, lba, parent uint64) *sync.Mutex {
	defer self.lock.Locked()()
	return self.update(ino, lba, parent)
}

// BulkUpdate points every inode of the batch at lba, keeping parents
// as they were. The invalid and root inodes are never accepted.
func (self *LocationMap) BulkUpdate(inodes []uint64, lba uint64) {
	defer self.lock.Locked()()
	for _, ino := range inodes {
		if ino == disk.InvalidInode || ino == disk.RootInode {
			mlog.Panicf("meta/locationmap", "bulk update of reserved inode %d", ino)
			continue
		}
		parent := uint64(0)
		if le, ok := self.m[ino]; ok {
			parent = le.parent
		}
		self.update(ino, lba, parent)
	}
}

func (self *LocationMap) mutex(ino uint64) (*sync.Mutex, error) {
	defer self.lock.RLocked()()
	le, ok := self.m[ino]
	if !ok {
		return nil, ErrNotFound
	}
	return self.arena.get(le.slot), nil
}

// Lock acquires the per-inode lock; the map lock is not held while
// waiting for it.
func (self *LocationMap) Lock(ino uint64) error {
	m, err := self.mutex(ino)
	if err != nil {
		return err
	}
	m.Lock()
	return nil
}

func (self *LocationMap) Unlock(ino uint64) error {
	m, err := self.mutex(ino)
	if err != nil {
		return err
	}
	m.Unlock()
	return nil
}

// Locked is Lock with the teardown returned for defer.
func (self *LocationMap) Locked(ino uint64) (unlock func(), err error) {
	m, err := self.mutex(ino)
	if err != nil {
		return nil, err
	}
	m.Lock()
	return m.Unlock, nil
}

func (self *LocationMap) Len() int {
	defer self.lock.RLocked()()
	return len(self.m)
}

// MaxInode returns the largest known inode, or 0 if there are none.
func (self *LocationMap) MaxInode() uint64 {
	defer self.lock.RLocked()()
	max := uint64(0)
	for ino := range self.m {
		if ino > max {
			max = ino
		}
	}
	return max
}

// Flushed returns the locations that point at an inode block, in
// inode order.
func (self *LocationMap) Flushed() []Location {
	defer self.lock.RLocked()()
	locs := make([]Location, 0, len(self.m))
	for ino, le := range self.m {
		if le.lba != 0 {
			locs = append(locs, Location{Inode: ino, LBA: le.lba, Parent: le.parent})
		}
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Inode < locs[j].Inode })
	return locs
}
