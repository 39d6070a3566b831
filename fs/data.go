/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat May  5 15:02:51 2018 mstenber
 * Last modified: Wed May  9 13:55:06 2018 mstenber
 * Edit time:     121 min
 *
 */

package fs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

func (self *Fs) readDataBlock(lba uint64) (*disk.DataBlock, error) {
	b, err := self.readSector(lba)
	if err != nil {
		return nil, err
	}
	db := &disk.DataBlock{}
	if err = db.Unmarshal(b, self.layout.SectorSize); err != nil {
		return nil, err
	}
	return db, nil
}

// chain returns the LBAs of (at most max) data blocks of e on disk.
func (self *Fs) chain(e *disk.InodeEntry, max uint64) ([]uint64, error) {
	var lbas []uint64
	lba := e.DataLBA
	for lba != 0 && uint64(len(lbas)) < max {
		lbas = append(lbas, lba)
		if uint64(len(lbas)) == max {
			break
		}
		db, err := self.readDataBlock(lba)
		if err != nil {
			return nil, err
		}
		lba = db.Next
	}
	return lbas, nil
}

// GetDataBlock returns a copy of the nth data block of e; unflushed
// changes are included. Blocks past the end are empty.
func (self *Fs) GetDataBlock(e *disk.InodeEntry, n uint64) (*disk.DataBlock, error) {
	self.dataLock.Lock()
	if db, ok := self.dataBlocks[e.Inode][n]; ok {
		db = db.Clone()
		self.dataLock.Unlock()
		return db, nil
	}
	self.dataLock.Unlock()
	lbas, err := self.chain(e, n+1)
	if err != nil {
		return nil, err
	}
	if uint64(len(lbas)) <= n {
		return disk.NewDataBlock(self.layout.SectorSize), nil
	}
	return self.readDataBlock(lbas[n])
}

// sectorLBAs returns the LBAs of count sectors of e starting from
// sector first.
func (self *Fs) sectorLBAs(e *disk.InodeEntry, first, count uint64) ([]uint64, error) {
	per := disk.DataBlockLBACount(self.layout.SectorSize)
	lbas := make([]uint64, 0, count)
	var db *disk.DataBlock
	for s := first; s < first+count; s++ {
		if db == nil || s%per == 0 {
			var err error
			if db, err = self.GetDataBlock(e, s/per); err != nil {
				return nil, err
			}
		}
		lbas = append(lbas, db.LBAs[s%per])
	}
	return lbas, nil
}

// setDataLBAs points sectors first.. of e at lbas. The modified data
// blocks become pending until the next Sync. Caller holds the inode
// lock.
func (self *Fs) setDataLBAs(e *disk.InodeEntry, first uint64, lbas []uint64) error {
	per := disk.DataBlockLBACount(self.layout.SectorSize)
	modified := make(map[uint64]*disk.DataBlock)
	for i, lba := range lbas {
		s := first + uint64(i)
		n := s / per
		db, ok := modified[n]
		if !ok {
			var err error
			if db, err = self.GetDataBlock(e, n); err != nil {
				return err
			}
			modified[n] = db
		}
		db.LBAs[s%per] = lba
	}
	defer self.dataLock.Locked()()
	m, ok := self.dataBlocks[e.Inode]
	if !ok {
		m = make(map[uint64]*disk.DataBlock)
		self.dataBlocks[e.Inode] = m
	}
	for n, db := range modified {
		m[n] = db
	}
	return nil
}

// readLBAs reads limit bytes from the sectors lbas, starting off
// bytes into the first one. Holes read as zeros.
func (self *Fs) readLBAs(lbas []uint64, off, limit uint64) ([]byte, error) {
	ss := self.layout.SectorSize
	out := make([]byte, limit)
	pos := uint64(0)
	for _, lba := range lbas {
		if pos == limit {
			break
		}
		n := util.UMin(ss-off, limit-pos)
		if lba != 0 {
			p := self.layout.ToPosition(lba)
			if err := self.dev.Read(p.Zone, p.Sector, off, out[pos:pos+n]); err != nil {
				return nil, err
			}
		}
		pos += n
		off = 0
	}
	return out, nil
}

// rangeSectors returns the first sector and number of sectors that
// bytes [off, off+size) touch.
func (self *Fs) rangeSectors(off, size uint64) (first, count uint64) {
	ss := self.layout.SectorSize
	if size == 0 {
		return off / ss, 0
	}
	first = off / ss
	count = util.CeilDiv(off+size, ss) - first
	return
}

func (self *Fs) fileEntry(ino uint64) (disk.InodeEntry, error) {
	e, err := self.GetInode(ino)
	if err != nil {
		return e, err
	}
	if e.Type != disk.InodeType_FILE {
		return e, fmt.Errorf("%w: %d", ErrIsDir, ino)
	}
	return e, nil
}

// Read returns up to size bytes of ino starting at off.
func (self *Fs) Read(ino, size, off uint64) ([]byte, error) {
	unlock, err := self.shared()
	if err != nil {
		return nil, err
	}
	defer unlock()
	iunlock, err := self.lockInode(ino)
	if err != nil {
		return nil, err
	}
	defer iunlock()
	e, err := self.fileEntry(ino)
	if err != nil {
		return nil, err
	}
	if off >= e.Size {
		return []byte{}, nil
	}
	limit := util.UMin(size, e.Size-off)
	first, count := self.rangeSectors(off, limit)
	lbas, err := self.sectorLBAs(&e, first, count)
	if err != nil {
		return nil, err
	}
	return self.readLBAs(lbas, off%self.layout.SectorSize, limit)
}

// Write stores data at off. Partially covered sectors are
// read-modify-written; every touched sector goes to a new LBA.
func (self *Fs) Write(ino uint64, data []byte, off uint64) (int, error) {
	unlock, err := self.shared()
	if err != nil {
		return 0, err
	}
	defer unlock()
	iunlock, err := self.lockInode(ino)
	if err != nil {
		return 0, err
	}
	defer iunlock()
	e, err := self.fileEntry(ino)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	ss := self.layout.SectorSize
	end := off + uint64(len(data))
	first, count := self.rangeSectors(off, uint64(len(data)))
	old, err := self.sectorLBAs(&e, first, count)
	if err != nil {
		return 0, err
	}
	lbas := make([]uint64, count)
	for i := range lbas {
		start := (first + uint64(i)) * ss
		lo := util.UMax(off, start) - start
		hi := util.UMin(end, start+ss) - start
		buf := make([]byte, ss)
		if (lo > 0 || hi < ss) && old[i] != 0 {
			if buf, err = self.readSector(old[i]); err != nil {
				return 0, err
			}
		}
		copy(buf[lo:hi], data[start+lo-off:start+hi-off])
		if lbas[i], err = self.logAppend(buf); err != nil {
			return 0, err
		}
	}
	if err = self.setDataLBAs(&e, first, lbas); err != nil {
		return 0, err
	}
	e.Size = util.UMax(e.Size, end)
	self.entries.Update(e)
	mlog.Printf2("fs/data", "Write %d: %d bytes at %d -> %v", ino, len(data), off, lbas)
	return len(data), nil
}

// truncate drops sectors of e past size. Caller holds the inode lock
// and updates the size.
func (self *Fs) truncate(e *disk.InodeEntry, size uint64) error {
	ss := self.layout.SectorSize
	keep := util.CeilDiv(size, ss)
	old := util.CeilDiv(e.Size, ss)
	if keep < old {
		if err := self.setDataLBAs(e, keep, make([]uint64, old-keep)); err != nil {
			return err
		}
	}
	tail := size % ss
	if tail == 0 {
		return nil
	}
	lbas, err := self.sectorLBAs(e, size/ss, 1)
	if err != nil || lbas[0] == 0 {
		return err
	}
	buf, err := self.readSector(lbas[0])
	if err != nil {
		return err
	}
	for i := tail; i < ss; i++ {
		buf[i] = 0
	}
	lba, err := self.logAppend(buf)
	if err != nil {
		return err
	}
	return self.setDataLBAs(e, size/ss, []uint64{lba})
}

// Sync writes everything pending to the device: data blocks, then
// inode blocks, then NAT blocks.
func (self *Fs) Sync() error {
	unlock, err := self.exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	return self.sync()
}

func (self *Fs) sync() error {
	if err := self.flushDataBlocks(); err != nil {
		return err
	}
	if err := self.flushInodes(); err != nil {
		return err
	}
	err := self.updateNatBlocks()
	if errors.Is(err, ErrRandomZoneFull) {
		err = self.rewriteRandomBlocks()
	}
	return err
}

// flushDataBlocks writes the pending data blocks of every inode.
// Blocks are written last first, so that each can link to the next;
// the chain past the last modified block is reused as-is.
func (self *Fs) flushDataBlocks() error {
	ss := self.layout.SectorSize
	self.dataLock.Lock()
	inodes := make([]uint64, 0, len(self.dataBlocks))
	for ino := range self.dataBlocks {
		inodes = append(inodes, ino)
	}
	self.dataLock.Unlock()
	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })
	for _, ino := range inodes {
		self.dataLock.Lock()
		blocks := self.dataBlocks[ino]
		self.dataLock.Unlock()
		e, err := self.GetInode(ino)
		if errors.Is(err, ErrNotFound) {
			self.dataLock.Lock()
			delete(self.dataBlocks, ino)
			self.dataLock.Unlock()
			continue
		}
		if err != nil {
			return err
		}
		last := uint64(0)
		for n := range blocks {
			last = util.UMax(last, n)
		}
		chain, err := self.chain(&e, last+2)
		if err != nil {
			return err
		}
		next := uint64(0)
		if uint64(len(chain)) > last+1 {
			next = chain[last+1]
		}
		for n := last; ; n-- {
			db, ok := blocks[n]
			switch {
			case ok:
				db = db.Clone()
			case n < uint64(len(chain)):
				if db, err = self.readDataBlock(chain[n]); err != nil {
					return err
				}
			default:
				db = disk.NewDataBlock(ss)
			}
			db.Next = next
			if next, err = self.logAppend(db.Marshal(ss)); err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
		e.DataLBA = next
		self.entries.Update(e)
		self.dataLock.Lock()
		delete(self.dataBlocks, ino)
		self.dataLock.Unlock()
		mlog.Printf2("fs/data", "flushDataBlocks %d: %d blocks, first at %d", ino, last+1, next)
	}
	return nil
}

// flushInodes packs the pending inode entries into inode blocks.
func (self *Fs) flushInodes() error {
	pending := self.entries.Inodes()
	for len(pending) > 0 {
		block, packed, full := self.entries.FillBlock(&pending, int(self.layout.SectorSize))
		if len(packed) == 0 {
			break
		}
		lba, err := self.logAppend(block)
		if err != nil {
			return err
		}
		self.entries.Erase(packed)
		self.locations.BulkUpdate(packed, lba)
		for _, ino := range packed {
			self.natPending[ino] = true
		}
		mlog.Printf2("fs/data", "flushInodes: %d inodes at %d", len(packed), lba)
		if !full {
			break
		}
	}
	return nil
}
