/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat May  5 13:41:02 2018 mstenber
 * Last modified: Wed May  9 10:18:27 2018 mstenber
 * Edit time:     59 min
 *
 */

package fs

import (
	"fmt"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
)

func rootInode() disk.InodeEntry {
	return disk.InodeEntry{Parent: disk.RootInode, Inode: disk.RootInode, Type: disk.InodeType_DIR}
}

func (self *Fs) loadInodeBlock(lba uint64) ([]disk.InodeEntry, error) {
	b, err := self.readSector(lba)
	if err != nil {
		return nil, err
	}
	mlog.Printf2("fs/inode", "loadInodeBlock %d", lba)
	return disk.UnmarshalInodeBlock(b)
}

func (self *Fs) inodeBlock(lba uint64) ([]disk.InodeEntry, error) {
	if self.blockCache == nil {
		return self.loadInodeBlock(lba)
	}
	v, err := self.blockCache.Get(lba)
	if err != nil {
		return nil, err
	}
	return v.([]disk.InodeEntry), nil
}

// GetInode returns the current attributes of ino: pending entry if
// there is one, otherwise the one in its inode block. The root inode
// is implicit.
func (self *Fs) GetInode(ino uint64) (disk.InodeEntry, error) {
	switch ino {
	case disk.InvalidInode:
		return disk.InodeEntry{}, ErrInvalidInode
	case disk.RootInode:
		return rootInode(), nil
	}
	loc, ok := self.locations.Get(ino)
	if !ok {
		return disk.InodeEntry{}, fmt.Errorf("%w: %d", ErrNotFound, ino)
	}
	if e, ok := self.entries.Get(ino); ok {
		return e, nil
	}
	if loc.LBA == 0 {
		return disk.InodeEntry{}, fmt.Errorf("%w: %d has no inode block", ErrNotFound, ino)
	}
	entries, err := self.inodeBlock(loc.LBA)
	if err != nil {
		return disk.InodeEntry{}, err
	}
	for _, e := range entries {
		if e.Inode == ino {
			return e, nil
		}
	}
	return disk.InodeEntry{}, fmt.Errorf("%w: inode %d missing from block %d",
		disk.ErrCorrupt, ino, loc.LBA)
}

// CreateInode adds a new inode of type t under parent.
func (self *Fs) CreateInode(parent uint64, name string, t disk.InodeType) (uint64, error) {
	unlock, err := self.shared()
	if err != nil {
		return 0, err
	}
	defer unlock()
	if name == "" || !disk.ValidName(name, self.layout.SectorSize) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if t != disk.InodeType_FILE && t != disk.InodeType_DIR {
		return 0, fmt.Errorf("%w: type %v", ErrInvalidInode, t)
	}
	p, err := self.GetInode(parent)
	if err != nil {
		return 0, err
	}
	if p.Type != disk.InodeType_DIR {
		return 0, fmt.Errorf("%w: %d", ErrNotDir, parent)
	}
	ino := self.inoPtr.Next()
	self.entries.Update(disk.InodeEntry{Parent: parent, Inode: ino, Type: t, Name: name})
	self.locations.Update(ino, 0, parent)
	mlog.Printf2("fs/inode", "CreateInode %d/%s -> %d", parent, name, ino)
	return ino, nil
}

// Lookup adds a reference to ino.
func (self *Fs) Lookup(ino uint64) (disk.InodeEntry, error) {
	unlock, err := self.shared()
	if err != nil {
		return disk.InodeEntry{}, err
	}
	defer unlock()
	e, err := self.GetInode(ino)
	if err != nil {
		return e, err
	}
	self.refs.Increment(ino)
	return e, nil
}

// Forget drops n references to ino.
func (self *Fs) Forget(ino, n uint64) {
	self.refs.Decrement(ino, int64(n))
}

// References returns the number of outstanding lookups of ino.
func (self *Fs) References(ino uint64) int64 {
	n, _ := self.refs.Get(ino)
	return n
}

// Lock serializes operations on ino.
func (self *Fs) Lock(ino uint64) error {
	return self.locations.Lock(ino)
}

func (self *Fs) Unlock(ino uint64) error {
	return self.locations.Unlock(ino)
}

// lockInode is Lock with the root inode allowed (it has no lock of
// its own, and nothing needs one).
func (self *Fs) lockInode(ino uint64) (unlock func(), err error) {
	if ino == disk.RootInode {
		return func() {}, nil
	}
	if ino == disk.InvalidInode {
		return nil, ErrInvalidInode
	}
	unlock, err = self.locations.Locked(ino)
	if err != nil {
		err = fmt.Errorf("%w: %d", ErrNotFound, ino)
	}
	return
}

// SetSize changes the size of a file. Shrinking drops the sectors
// past the end and zeroes the tail of the last one.
func (self *Fs) SetSize(ino, size uint64) error {
	unlock, err := self.shared()
	if err != nil {
		return err
	}
	defer unlock()
	iunlock, err := self.lockInode(ino)
	if err != nil {
		return err
	}
	defer iunlock()
	e, err := self.GetInode(ino)
	if err != nil {
		return err
	}
	if e.Type != disk.InodeType_FILE {
		return fmt.Errorf("%w: %d", ErrIsDir, ino)
	}
	if size < e.Size {
		if err = self.truncate(&e, size); err != nil {
			return err
		}
	}
	e.Size = size
	self.entries.Update(e)
	return nil
}
