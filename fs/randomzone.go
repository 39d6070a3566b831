/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat May  5 10:02:44 2018 mstenber
 * Last modified: Tue May  8 16:20:31 2018 mstenber
 * Edit time:     67 min
 *
 */

package fs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

// The random region is a linear sequence of NAT blocks starting from
// the region start. It is only appended to, and reclaimed as a whole
// by rewriteRandomBlocks.

// determineRandomPtr finds the first unwritten sector of the random
// region starting from lba.
func (self *Fs) determineRandomPtr(lba uint64) error {
	r := self.layout.Random
	end := self.layout.RegionEnd(r)
	for ; lba < end; lba = self.layout.Next(r, lba) {
		_, err := self.readSector(lba)
		if errors.Is(err, device.ErrUnwritten) {
			break
		}
		if err != nil {
			return err
		}
	}
	self.randomPtr = lba
	if lba == end {
		return ErrRandomZoneFull
	}
	return nil
}

// readRandomZone loads the NAT blocks from start up to the random
// pointer into the location map. The newest inode block, that is the
// highest LBA, wins.
func (self *Fs) readRandomZone(start uint64) error {
	r := self.layout.Random
	ss := self.layout.SectorSize
	for lba := start; lba < self.randomPtr; lba = self.layout.Next(r, lba) {
		b, err := self.readSector(lba)
		if err != nil {
			return err
		}
		entries, err := disk.UnmarshalNatBlock(b, ss)
		if err != nil {
			return fmt.Errorf("random zone lba %d: %w", lba, err)
		}
		for _, e := range entries {
			loc, ok := self.locations.Get(e.Inode)
			if !ok || loc.LBA < e.LBA {
				self.locations.Update(e.Inode, e.LBA, loc.Parent)
			}
		}
	}
	mlog.Printf2("fs/randomzone", "readRandomZone: %d inodes", self.locations.Len())
	return nil
}

func (self *Fs) appendRandomBlock(b []byte) error {
	r := self.layout.Random
	if self.randomPtr >= self.layout.RegionEnd(r) {
		return ErrRandomZoneFull
	}
	p := self.layout.ToPosition(self.randomPtr)
	sector, err := self.dev.Append(p.Zone, 0, b)
	if err != nil {
		return err
	}
	if sector != p.Sector {
		mlog.Panicf("fs/randomzone", "random block at %d, expected %v", sector, p)
		return fmt.Errorf("%w: random block at %d:%d, expected %v",
			ErrAppendMismatch, p.Zone, sector, p)
	}
	self.randomPtr = self.layout.Next(r, self.randomPtr)
	return nil
}

func (self *Fs) natBlocks(entries []disk.NatEntry) [][]byte {
	ss := self.layout.SectorSize
	n := disk.NatBlockEntries(ss)
	var blocks [][]byte
	for len(entries) > 0 {
		c := int(util.UMin(uint64(n), uint64(len(entries))))
		blocks = append(blocks, disk.MarshalNatBlock(entries[:c], ss))
		entries = entries[c:]
	}
	return blocks
}

// updateNatBlocks appends NAT blocks for the pending inodes. On
// ErrRandomZoneFull the inodes not yet written stay pending.
func (self *Fs) updateNatBlocks() error {
	inodes := make([]uint64, 0, len(self.natPending))
	for ino := range self.natPending {
		inodes = append(inodes, ino)
	}
	sort.Slice(inodes, func(i, j int) bool { return inodes[i] < inodes[j] })
	entries := make([]disk.NatEntry, 0, len(inodes))
	for _, ino := range inodes {
		loc, ok := self.locations.Get(ino)
		if !ok || loc.LBA == 0 {
			delete(self.natPending, ino)
			continue
		}
		entries = append(entries, disk.NatEntry{Inode: ino, LBA: loc.LBA})
	}
	per := disk.NatBlockEntries(self.layout.SectorSize)
	for i, b := range self.natBlocks(entries) {
		if err := self.appendRandomBlock(b); err != nil {
			return err
		}
		for _, e := range entries[i*per : int(util.UMin(uint64((i+1)*per), uint64(len(entries))))] {
			delete(self.natPending, e.Inode)
		}
	}
	return nil
}

// rewriteRandomBlocks resets the random region and writes the NAT of
// every flushed inode into it. It fails, without touching the
// device, if the live entries alone would fill the region.
func (self *Fs) rewriteRandomBlocks() error {
	r := self.layout.Random
	locs := self.locations.Flushed()
	entries := make([]disk.NatEntry, len(locs))
	for i, loc := range locs {
		entries[i] = disk.NatEntry{Inode: loc.Inode, LBA: loc.LBA}
	}
	blocks := self.natBlocks(entries)
	if uint64(len(blocks)) >= self.layout.Capacity(r) {
		return fmt.Errorf("%w: %d live nat blocks, capacity %d",
			ErrRandomZoneFull, len(blocks), self.layout.Capacity(r))
	}
	for z := r.Start; z < r.End; z++ {
		if err := self.dev.Reset(z); err != nil {
			return err
		}
	}
	self.randomPtr = self.layout.RegionStart(r)
	for _, b := range blocks {
		if err := self.appendRandomBlock(b); err != nil {
			return err
		}
	}
	self.natPending = make(map[uint64]bool)
	mlog.Printf2("fs/randomzone", "rewriteRandomBlocks: %d inodes in %d blocks",
		len(entries), len(blocks))
	return self.updateCheckpointblock(self.layout.RegionStart(r), self.getLogPtr())
}
