/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat May  5 09:12:37 2018 mstenber
 * Last modified: Mon May  7 11:41:19 2018 mstenber
 * Edit time:     22 min
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

// updateCheckpointblock appends a checkpoint after the superblock.
// Once the zone is full it is reset and the superblock rewritten
// first.
func (self *Fs) updateCheckpointblock(randomLBA, logLBA uint64) error {
	cp := disk.CheckpointBlock{RandomLBA: randomLBA, LogLBA: logLBA}
	b := cp.Marshal(self.layout.SectorSize)
	_, err := self.dev.Append(zone.SuperblockZone, 0, b)
	if errors.Is(err, device.ErrZoneFull) {
		mlog.Printf2("fs/checkpoint", "checkpoint zone full, rotating")
		if err = self.dev.Reset(zone.SuperblockZone); err != nil {
			return err
		}
		if err = self.writeSuperblock(); err != nil {
			return err
		}
		_, err = self.dev.Append(zone.SuperblockZone, 0, b)
	}
	if err != nil {
		return err
	}
	mlog.Printf2("fs/checkpoint", "updateCheckpointblock %+v", cp)
	return nil
}

// getCheckpointblock returns the last checkpoint in the superblock
// zone.
func (self *Fs) getCheckpointblock() (cp disk.CheckpointBlock, err error) {
	found := false
	for s := uint64(1); s < self.layout.ZoneCapacity; s++ {
		b, err := self.readSector(self.layout.ToLBA(zone.SuperblockZone, s))
		if errors.Is(err, device.ErrUnwritten) {
			break
		}
		if err != nil {
			return cp, err
		}
		if err = cp.Unmarshal(b); err != nil {
			return cp, err
		}
		found = true
	}
	if !found {
		err = fmt.Errorf("%w: no checkpoint", ErrBadSuperblock)
	}
	return
}
