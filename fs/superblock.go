/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri May  4 16:44:20 2018 mstenber
 * Last modified: Mon May  7 11:30:55 2018 mstenber
 * Edit time:     31 min
 *
 */

package fs

import (
	"errors"
	"fmt"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/zone"
)

func (self *Fs) superblock() *disk.SuperBlock {
	g := self.layout.Geometry
	return &disk.SuperBlock{
		Magic:      disk.MagicCookie,
		Zones:      g.ZoneCount,
		Sectors:    g.ZoneSize,
		SectorSize: uint32(g.SectorSize),
		UUID:       self.uuid,
	}
}

// writeSuperblock appends the superblock to the (empty) superblock
// zone.
func (self *Fs) writeSuperblock() error {
	b := self.superblock().Marshal(self.layout.SectorSize)
	sector, err := self.dev.Append(zone.SuperblockZone, 0, b)
	if err != nil {
		return err
	}
	if sector != 0 {
		mlog.Panicf("fs/superblock", "superblock appended at sector %d", sector)
		return fmt.Errorf("%w: superblock at sector %d", ErrAppendMismatch, sector)
	}
	return nil
}

func (self *Fs) verifySuperblock() error {
	b, err := self.readSector(self.layout.ToLBA(zone.SuperblockZone, 0))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSuperblock, err)
	}
	var sb disk.SuperBlock
	if err = sb.Unmarshal(b); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSuperblock, err)
	}
	if sb.Magic != disk.MagicCookie {
		return fmt.Errorf("%w: magic %x", ErrBadSuperblock, sb.Magic)
	}
	want := self.superblock()
	if sb.Zones != want.Zones || sb.Sectors != want.Sectors || sb.SectorSize != want.SectorSize {
		return fmt.Errorf("%w: superblock %d/%d/%d, device %d/%d/%d",
			ErrGeometryMismatch, sb.Zones, sb.Sectors, sb.SectorSize,
			want.Zones, want.Sectors, want.SectorSize)
	}
	self.uuid = sb.UUID
	return nil
}

// verifyDirtyblock reports whether the dirty flag is set. An
// unwritten dirty block means clean.
func (self *Fs) verifyDirtyblock() (dirty bool, err error) {
	b, err := self.readSector(self.layout.ToLBA(zone.DirtyZone, 0))
	if errors.Is(err, device.ErrUnwritten) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var db disk.DirtyBlock
	if err = db.Unmarshal(b); err != nil {
		return false, err
	}
	return db.IsDirty == 1, nil
}

func (self *Fs) writeDirtyblock() error {
	wp, err := self.dev.WritePointer(zone.DirtyZone)
	if err != nil {
		return err
	}
	if wp != 0 {
		if err = self.dev.Reset(zone.DirtyZone); err != nil {
			return err
		}
	}
	b := (&disk.DirtyBlock{IsDirty: 1}).Marshal(self.layout.SectorSize)
	sector, err := self.dev.Append(zone.DirtyZone, 0, b)
	if err != nil {
		return err
	}
	if sector != 0 {
		return fmt.Errorf("%w: dirty block at sector %d", ErrAppendMismatch, sector)
	}
	return nil
}

// removeDirtyblock clears the flag by erasing the whole zone; nothing
// else lives there.
func (self *Fs) removeDirtyblock() error {
	return self.dev.Reset(zone.DirtyZone)
}
