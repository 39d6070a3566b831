/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 21 10:01:22 2018 mstenber
 * Last modified: Tue Apr 24 09:55:01 2018 mstenber
 * Edit time:     63 min
 *
 */

// meta package holds the in-memory metadata of a mounted filesystem:
// pending inode entries, inode locations and lookup reference counts.
// Each map has its own writer-preferring reader-writer lock.
package meta

import (
	"errors"
	"sort"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

var ErrNotFound = errors.New("inode not found")

// EntryMap contains inode entries not yet written to an inode block.
type EntryMap struct {
	lock    util.RWMutexLocked
	entries map[uint64]disk.InodeEntry
}

func NewEntryMap() *EntryMap {
	return &EntryMap{entries: make(map[uint64]disk.InodeEntry)}
}

// Update inserts or overwrites the pending entry of e.Inode.
func (self *EntryMap) Update(e disk.InodeEntry) {
	defer self.lock.Locked()()
	self.entries[e.Inode] = e
}

func (self *EntryMap) Get(ino uint64) (disk.InodeEntry, bool) {
	defer self.lock.RLocked()()
	e, ok := self.entries[ino]
	return e, ok
}

// Erase removes flushed entries.
func (self *EntryMap) Erase(inodes []uint64) {
	defer self.lock.Locked()()
	for _, ino := range inodes {
		delete(self.entries, ino)
	}
}

func (self *EntryMap) Len() int {
	defer self.lock.RLocked()()
	return len(self.entries)
}

// Inodes returns the pending inodes in ascending order; this is the
// iteration order of FillBlock.
func (self *EntryMap) Inodes() []uint64 {
	defer self.lock.RLocked()()
	inodes := make([]uint64, 0, len(self.entries))
	for ino := range self.entries {
		inodes = append(inodes, ino)
	}
	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })
	return inodes
}

// FillBlock packs the entries of pending, in order, into a block of
// exactly capacity bytes. Packed entries are removed from pending;
// full is set when an entry did not fit, and it and everything after
// it remain in pending. Inodes without a pending entry are dropped.
func (self *EntryMap) FillBlock(pending *[]uint64, capacity int) (block []byte, packed []uint64, full bool) {
	defer self.lock.RLocked()()
	block = make([]byte, 0, capacity)
	i := 0
	for ; i < len(*pending); i++ {
		ino := (*pending)[i]
		e, ok := self.entries[ino]
		if !ok {
			continue
		}
		if len(block)+e.EncodedSize() > capacity {
			full = true
			break
		}
		block = e.AppendTo(block)
		packed = append(packed, ino)
	}
	if full && len(packed) == 0 {
		mlog.Panicf("meta/entrymap", "entry of inode %d larger than block", (*pending)[i])
	}
	*pending = (*pending)[i:]
	block = block[:capacity]
	return
}
