/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue May  1 10:12:04 2018 mstenber
 * Last modified: Fri May  4 13:55:30 2018 mstenber
 * Edit time:     97 min
 *
 */

package kernel

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

// ErrAppendMismatch means the device put an append somewhere else
// than the window said it would.
var ErrAppendMismatch = errors.New("append landed at unexpected sector")

// BlockDevice is the part of the device an invocation touches.
type BlockDevice interface {
	Geometry() zone.Geometry
	Read(zone, sector, offset uint64, buf []byte) error
	Append(zone, offset uint64, buf []byte) (sector uint64, err error)
}

// Invocation is the host side of one kernel execution. It confines
// device access to the snapshot's sectors and, for writes, the
// append window in the descriptor.
type Invocation struct {
	dev      BlockDevice
	geometry zone.Geometry
	caps     CapabilitySet
	callInfo []byte
	mem      []byte
	readable map[uint64]bool

	lock        util.MutexLocked
	window      Window
	written     []uint64
	returned    []byte
	returnCalls int
	dead        int32
}

var _ Host = &Invocation{}

// NewInvocation prepares an invocation of desc. readable lists the
// LBAs the kernel may read (zero LBAs are ignored); mem is the
// scratch buffer given to the kernel.
func NewInvocation(dev BlockDevice, desc *CallDescriptor, mem []byte, readable []uint64) *Invocation {
	self := &Invocation{
		dev:      dev,
		geometry: dev.Geometry(),
		caps:     ReadCapabilities,
		callInfo: desc.Marshal(),
		mem:      mem,
		readable: make(map[uint64]bool, len(readable)),
		window:   desc.Window,
	}
	if desc.Op == OpWrite {
		self.caps = WriteCapabilities
	}
	for _, lba := range readable {
		if lba != 0 {
			self.readable[lba] = true
		}
	}
	return self
}

// Abort poisons the invocation; every later capability call fails.
// An append in flight finishes before Abort returns, and none start
// after it.
func (self *Invocation) Abort() {
	defer self.lock.Locked()()
	atomic.StoreInt32(&self.dead, 1)
}

func (self *Invocation) Aborted() bool {
	return atomic.LoadInt32(&self.dead) != 0
}

func (self *Invocation) Allowed(c Capability) bool {
	return !self.Aborted() && self.caps.Has(c)
}

func (self *Invocation) check(c Capability) error {
	if self.Aborted() {
		return ErrAborted
	}
	if !self.caps.Has(c) {
		return fmt.Errorf("%w: %v not permitted", ErrViolation, c)
	}
	return nil
}

func (self *Invocation) ReturnData(data []byte) error {
	defer self.lock.Locked()()
	if err := self.check(CapReturnData); err != nil {
		return err
	}
	self.returnCalls++
	if self.returnCalls > 1 {
		return fmt.Errorf("%w: return_data called %d times", ErrViolation, self.returnCalls)
	}
	self.returned = append([]byte(nil), data...)
	return nil
}

func (self *Invocation) Read(z, sector, offset uint64, buf []byte) error {
	if err := self.check(CapRead); err != nil {
		return err
	}
	ss := self.geometry.SectorSize
	if offset+uint64(len(buf)) > ss || len(buf) == 0 {
		return fmt.Errorf("%w: read of %d bytes at offset %d", ErrViolation, len(buf), offset)
	}
	if z >= self.geometry.ZoneCount || sector >= self.geometry.ZoneSize {
		return fmt.Errorf("%w: read at %d:%d", ErrViolation, z, sector)
	}
	lba := self.geometry.ToLBA(z, sector)
	if !self.readable[lba] {
		self.lock.Lock()
		own := false
		for _, w := range self.written {
			own = own || w == lba
		}
		self.lock.Unlock()
		if !own {
			return fmt.Errorf("%w: lba %d outside snapshot", ErrViolation, lba)
		}
	}
	return self.dev.Read(z, sector, offset, buf)
}

func (self *Invocation) Write(z, offset uint64, buf []byte) (sector uint64, err error) {
	defer self.lock.Locked()()
	if err = self.check(CapWrite); err != nil {
		return
	}
	ss := self.geometry.SectorSize
	n := util.CeilDiv(offset+uint64(len(buf)), ss)
	w := self.window
	if n == 0 || w.WP+n > w.End || self.geometry.ToPosition(w.WP).Zone != z ||
		self.geometry.ToPosition(w.End-1).Zone != z {
		err = fmt.Errorf("%w: write of %d sectors to zone %d outside window %+v",
			ErrViolation, n, z, w)
		return
	}
	sector, err = self.dev.Append(z, offset, buf)
	if err != nil {
		return
	}
	lba := self.geometry.ToLBA(z, sector)
	if lba != w.WP {
		mlog.Printf2("kernel/invocation", "append mismatch: %d != %d", lba, w.WP)
		self.window.WP = lba + n
		err = fmt.Errorf("%w: lba %d, window at %d", ErrAppendMismatch, lba, w.WP)
		return
	}
	for i := uint64(0); i < n; i++ {
		self.written = append(self.written, lba+i)
	}
	self.window.WP += n
	return
}

func (self *Invocation) SectorSize() uint64 {
	return self.geometry.SectorSize
}

func (self *Invocation) ZoneCapacity() uint64 {
	return self.geometry.ZoneCapacity
}

func (self *Invocation) ZoneSize() uint64 {
	return self.geometry.ZoneSize
}

func (self *Invocation) MemInfo() []byte {
	return self.mem
}

func (self *Invocation) CallInfo() []byte {
	return self.callInfo
}

// Returned is the data of the (first) return_data call.
func (self *Invocation) Returned() (data []byte, calls int) {
	defer self.lock.Locked()()
	return self.returned, self.returnCalls
}

// Written returns the LBAs appended by the kernel, in order.
func (self *Invocation) Written() []uint64 {
	defer self.lock.Locked()()
	return append([]uint64(nil), self.written...)
}

// Window returns the append window as it is now.
func (self *Invocation) Window() Window {
	defer self.lock.Locked()()
	return self.window
}
