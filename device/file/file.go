/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 15:44:41 2018 mstenber
 * Last modified: Wed Apr 18 10:02:33 2018 mstenber
 * Edit time:     104 min
 *
 */

package file

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gofrs/flock"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

// fileStore keeps the device as a flat image file, with sector lba at
// byte offset lba * sector size.
//
// Files:
//
// - <path>: the image
// - <path>.state: CBOR encoded geometry + write pointers
// - <path>.lock: exclusive lock held while the device is open
//
// Sector images are fixed size, so codecs cannot be layered on top.
type fileStore struct {
	path  string
	image *os.File
	lock  *flock.Flock
	state device.State

	// stateLock protects state
	stateLock util.MutexLocked
}

var _ device.Store = &fileStore{}

const lockPollInterval = 50 * time.Millisecond

func NewFileStore() device.Store {
	return &fileStore{}
}

func (self *fileStore) statePath() string {
	return self.path + ".state"
}

func (self *fileStore) acquire(wait time.Duration) error {
	self.lock = flock.New(self.path + ".lock")
	attempts := uint(wait/lockPollInterval) + 1
	return retry.Do(func() error {
		ok, err := self.lock.TryLock()
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if !ok {
			return device.ErrLocked
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(lockPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true))
}

func (self *fileStore) Open(config device.Config) (g zone.Geometry, pointers []uint64, err error) {
	self.path = config.Path
	if err = self.acquire(config.Wait); err != nil {
		err = fmt.Errorf("%s: %w", self.path, err)
		return
	}
	defer func() {
		if err != nil {
			self.lock.Unlock()
		}
	}()
	b, err := os.ReadFile(self.statePath())
	switch {
	case err == nil:
		if err = self.state.Decode(b); err != nil {
			return
		}
		if self.image, err = os.OpenFile(self.path, os.O_RDWR, 0600); err != nil {
			return
		}
		mlog.Printf2("device/file/file", "Open existing %s %+v", self.path, self.state.Geometry)
		return self.state.Geometry, self.state.Pointers, nil
	case errors.Is(err, os.ErrNotExist):
	default:
		return
	}
	g = config.Geometry
	if err = g.Validate(); err != nil {
		return
	}
	if self.image, err = os.OpenFile(self.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600); err != nil {
		return
	}
	if err = self.image.Truncate(int64(g.Sectors() * g.SectorSize)); err != nil {
		self.image.Close()
		return
	}
	self.state = device.State{Geometry: g, Pointers: make([]uint64, g.ZoneCount)}
	if err = self.writeState(); err != nil {
		self.image.Close()
		return
	}
	mlog.Printf2("device/file/file", "Created %s %+v", self.path, g)
	return g, nil, nil
}

// writeState must be called with stateLock held (or before the store
// is shared).
func (self *fileStore) writeState() error {
	b, err := self.state.Encode()
	if err != nil {
		return err
	}
	tmp := self.statePath() + ".tmp"
	if err = os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, self.statePath())
}

func (self *fileStore) offset(lba uint64) int64 {
	return int64(lba * self.state.Geometry.SectorSize)
}

func (self *fileStore) GetSector(lba uint64) ([]byte, error) {
	b := make([]byte, self.state.Geometry.SectorSize)
	_, err := self.image.ReadAt(b, self.offset(lba))
	return b, err
}

func (self *fileStore) PutSector(lba uint64, data []byte) error {
	_, err := self.image.WriteAt(data, self.offset(lba))
	return err
}

// SetPointer makes the sectors durable before the pointer that
// covers them.
func (self *fileStore) SetPointer(z, wp uint64) error {
	if err := self.image.Sync(); err != nil {
		return err
	}
	defer self.stateLock.Locked()()
	self.state.Pointers[z] = wp
	return self.writeState()
}

func (self *fileStore) EraseZone(z, first, end uint64) error {
	if end <= first {
		return nil
	}
	zeros := make([]byte, (end-first)*self.state.Geometry.SectorSize)
	_, err := self.image.WriteAt(zeros, self.offset(first))
	return err
}

func (self *fileStore) Close() error {
	err := self.image.Close()
	if uerr := self.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
