/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 14 10:40:57 2018 mstenber
 * Last modified: Wed Apr 18 11:42:03 2018 mstenber
 * Edit time:     118 min
 *
 */

package device

import (
	"fmt"

	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

// Zoned is a Device on top of a Store.
type Zoned struct {
	store    Store
	geometry zone.Geometry

	// lock protects pointers and closed; appends and resets take
	// it exclusively
	lock     util.RWMutexLocked
	pointers []uint64
	closed   bool
}

var _ Device = &Zoned{}

func NewZoned(store Store, config Config) (*Zoned, error) {
	g, pointers, err := store.Open(config)
	if err != nil {
		return nil, err
	}
	if err = g.Validate(); err != nil {
		store.Close()
		return nil, err
	}
	if pointers == nil {
		pointers = make([]uint64, g.ZoneCount)
	}
	if uint64(len(pointers)) != g.ZoneCount {
		store.Close()
		return nil, fmt.Errorf("%w: %d write pointers for %d zones",
			zone.ErrGeometry, len(pointers), g.ZoneCount)
	}
	mlog.Printf2("device/zoned", "NewZoned %+v", g)
	return &Zoned{store: store, geometry: g, pointers: pointers}, nil
}

func (self *Zoned) Geometry() zone.Geometry {
	return self.geometry
}

func (self *Zoned) checkZone(z uint64) error {
	if self.closed {
		return ErrClosed
	}
	if z >= self.geometry.ZoneCount {
		return fmt.Errorf("%w: zone %d", ErrOutOfRange, z)
	}
	return nil
}

func (self *Zoned) Read(z, sector, offset uint64, buf []byte) error {
	defer self.lock.RLocked()()
	if err := self.checkZone(z); err != nil {
		return err
	}
	ss := self.geometry.SectorSize
	sector += offset / ss
	offset %= ss
	n := util.CeilDiv(offset+uint64(len(buf)), ss)
	if n == 0 {
		n = 1
	}
	wp := self.pointers[z]
	if sector+n > wp {
		return fmt.Errorf("%w: %d:%d+%d (write pointer %d)",
			ErrUnwritten, z, sector, n, wp)
	}
	done := 0
	for i := uint64(0); i < n && done < len(buf); i++ {
		lba := self.geometry.ToLBA(z, sector+i)
		data, err := self.store.GetSector(lba)
		if err != nil {
			return fmt.Errorf("read lba %d: %w", lba, err)
		}
		image := make([]byte, ss)
		copy(image, data)
		done += copy(buf[done:], image[offset:])
		offset = 0
	}
	return nil
}

func (self *Zoned) Append(z, offset uint64, buf []byte) (sector uint64, err error) {
	defer self.lock.Locked()()
	if err = self.checkZone(z); err != nil {
		return
	}
	if len(buf) == 0 {
		err = ErrEmpty
		return
	}
	ss := self.geometry.SectorSize
	n := util.CeilDiv(offset+uint64(len(buf)), ss)
	wp := self.pointers[z]
	if wp+n > self.geometry.ZoneCapacity {
		err = fmt.Errorf("%w: zone %d at %d, need %d", ErrZoneFull, z, wp, n)
		return
	}
	image := make([]byte, n*ss)
	copy(image[offset:], buf)
	for i := uint64(0); i < n; i++ {
		lba := self.geometry.ToLBA(z, wp+i)
		if err = self.store.PutSector(lba, image[i*ss:(i+1)*ss]); err != nil {
			err = fmt.Errorf("write lba %d: %w", lba, err)
			return
		}
	}
	if err = self.store.SetPointer(z, wp+n); err != nil {
		return
	}
	self.pointers[z] = wp + n
	mlog.Printf2("device/zoned", "Append zone %d -> %d (+%d)", z, wp, n)
	sector = wp
	return
}

func (self *Zoned) Reset(z uint64) error {
	defer self.lock.Locked()()
	if err := self.checkZone(z); err != nil {
		return err
	}
	first := self.geometry.ToLBA(z, 0)
	end := self.geometry.ToLBA(z, self.pointers[z])
	if err := self.store.EraseZone(z, first, end); err != nil {
		return err
	}
	if err := self.store.SetPointer(z, 0); err != nil {
		return err
	}
	self.pointers[z] = 0
	mlog.Printf2("device/zoned", "Reset zone %d", z)
	return nil
}

func (self *Zoned) WritePointer(z uint64) (uint64, error) {
	defer self.lock.RLocked()()
	if err := self.checkZone(z); err != nil {
		return 0, err
	}
	return self.pointers[z], nil
}

func (self *Zoned) Close() error {
	defer self.lock.Locked()()
	if self.closed {
		return nil
	}
	self.closed = true
	return self.store.Close()
}
