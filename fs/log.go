/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat May  5 11:20:09 2018 mstenber
 * Last modified: Tue May  8 17:02:48 2018 mstenber
 * Edit time:     28 min
 *
 */

package fs

import (
	"errors"
	"fmt"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/kernel"
	"github.com/fingon/go-zlfs/mlog"
)

// The log region holds data sectors, data blocks and inode blocks.
// It is append-only; there is no garbage collection, so once the
// pointer reaches the region end writes fail with ErrLogFull.

func (self *Fs) getLogPtr() uint64 {
	defer self.logLock.Locked()()
	return self.logPtr
}

// determineLogPtr scans forward from lba to the first unwritten
// sector of the log.
func (self *Fs) determineLogPtr(lba uint64) error {
	r := self.layout.Log
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
	defer self.logLock.Locked()()
	self.logPtr = lba
	return nil
}

// logAppend writes one sector at the log pointer and returns its LBA.
func (self *Fs) logAppend(b []byte) (uint64, error) {
	if uint64(len(b)) != self.layout.SectorSize {
		mlog.Panicf("fs/log", "log append of %d bytes", len(b))
	}
	defer self.logLock.Locked()()
	return self.logAppendLocked(b)
}

func (self *Fs) logAppendLocked(b []byte) (uint64, error) {
	r := self.layout.Log
	lba := self.logPtr
	if lba >= self.layout.RegionEnd(r) {
		return 0, ErrLogFull
	}
	p := self.layout.ToPosition(lba)
	sector, err := self.dev.Append(p.Zone, 0, b)
	if err != nil {
		return 0, err
	}
	if sector != p.Sector {
		mlog.Panicf("fs/log", "log append at %d, expected %v", sector, p)
		return 0, fmt.Errorf("%w: log append at %d:%d, expected %v",
			ErrAppendMismatch, p.Zone, sector, p)
	}
	self.logPtr = self.layout.Next(r, lba)
	return lba, nil
}

// logWindow is the append window of the current log zone. Caller
// holds logLock.
func (self *Fs) logWindow() (w kernel.Window, err error) {
	if self.logPtr >= self.layout.RegionEnd(self.layout.Log) {
		return w, ErrLogFull
	}
	p := self.layout.ToPosition(self.logPtr)
	w.Start = self.layout.ToLBA(p.Zone, 0)
	w.WP = self.logPtr
	w.End = w.Start + self.layout.ZoneCapacity
	return
}

// advanceLogWindow moves the log pointer past what a kernel appended;
// an exhausted window rotates to the next zone. Caller holds logLock.
func (self *Fs) advanceLogWindow(w kernel.Window) {
	if w.WP >= w.End {
		self.logPtr = self.layout.Next(self.layout.Log, w.End-1)
	} else {
		self.logPtr = w.WP
	}
	mlog.Printf2("fs/log", "advanceLogWindow %+v -> %d", w, self.logPtr)
}
