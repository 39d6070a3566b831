/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue May  1 14:40:31 2018 mstenber
 * Last modified: Fri May  4 14:20:02 2018 mstenber
 * Edit time:     64 min
 *
 */

package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
)

// abort carries a host-call failure out of the kernel; the executor
// recovers it.
type abort struct {
	err error
}

// returned unwinds a kernel once it has called return_data.
type returned struct{}

// Kernel is what a program sees while it runs. Every capability call
// and every Step is charged against the budget. Failures do not
// return: they unwind the program and the executor turns them into
// an abort status.
type Kernel struct {
	ctx    context.Context
	host   Host
	params []byte
	budget uint64
	steps  uint64
}

func newKernel(ctx context.Context, host Host, params []byte, budget uint64) *Kernel {
	return &Kernel{ctx: ctx, host: host, params: params, budget: budget}
}

// Abort unwinds the program with err.
func (self *Kernel) Abort(err error) {
	panic(abort{err})
}

func (self *Kernel) Violation(format string, args ...interface{}) {
	self.Abort(fmt.Errorf("%w: %s", ErrViolation, fmt.Sprintf(format, args...)))
}

// Step charges n units of work.
func (self *Kernel) Step(n uint64) {
	steps := atomic.AddUint64(&self.steps, n)
	if self.budget > 0 && steps > self.budget {
		self.Abort(fmt.Errorf("%w: %d > %d", ErrBudget, steps, self.budget))
	}
	if err := self.ctx.Err(); err != nil {
		self.Abort(fmt.Errorf("%w: %v", ErrTimeout, err))
	}
}

func (self *Kernel) Steps() uint64 {
	return atomic.LoadUint64(&self.steps)
}

func (self *Kernel) Params() []byte {
	return self.params
}

func (self *Kernel) call(c Capability) {
	self.Step(1)
	if !self.host.Allowed(c) {
		self.Violation("%v not permitted", c)
	}
}

func (self *Kernel) check(err error) {
	if err != nil {
		self.Abort(err)
	}
}

// ReturnData hands data to the host and ends the invocation.
func (self *Kernel) ReturnData(data []byte) {
	self.call(CapReturnData)
	self.check(self.host.ReturnData(data))
	panic(returned{})
}

// Read reads len(buf) bytes at offset within the sector at lba.
func (self *Kernel) Read(lba, offset uint64, buf []byte) {
	self.call(CapRead)
	zs := self.host.ZoneSize()
	self.check(self.host.Read(lba/zs, lba%zs, offset, buf))
}

// Write appends buf to zone z and returns the LBA it landed at.
func (self *Kernel) Write(z, offset uint64, buf []byte) uint64 {
	self.call(CapWrite)
	sector, err := self.host.Write(z, offset, buf)
	self.check(err)
	return z*self.host.ZoneSize() + sector
}

func (self *Kernel) SectorSize() uint64 {
	self.call(CapSectorSize)
	return self.host.SectorSize()
}

func (self *Kernel) ZoneCapacity() uint64 {
	self.call(CapZoneCapacity)
	return self.host.ZoneCapacity()
}

func (self *Kernel) ZoneSize() uint64 {
	self.call(CapZoneSize)
	return self.host.ZoneSize()
}

// Mem returns the scratch memory of the invocation.
func (self *Kernel) Mem() []byte {
	self.call(CapMemInfo)
	return self.host.MemInfo()
}

// CallInfo returns the decoded call descriptor.
func (self *Kernel) CallInfo() *CallDescriptor {
	self.call(CapCallInfo)
	var desc CallDescriptor
	self.check(desc.Unmarshal(self.host.CallInfo()))
	return &desc
}

// Walk feeds cb the bytes of the descriptor range in order, at most
// limit bytes in total. Holes read as zeros.
func (self *Kernel) Walk(desc *CallDescriptor, limit uint64, cb func(b []byte)) {
	ss := self.SectorSize()
	off := desc.Dims.Offset % ss
	buf := make([]byte, ss)
	c := desc.Cursor()
	for limit > 0 {
		lba, err := c.LBA()
		if err != nil {
			self.Violation("range needs more than %d lbas", len(desc.LBAs))
		}
		n := ss - off
		if n > limit {
			n = limit
		}
		chunk := buf[:n]
		if lba == 0 {
			self.Step(1)
			for i := range chunk {
				chunk[i] = 0
			}
		} else {
			self.Read(lba, off, chunk)
		}
		cb(chunk)
		limit -= n
		off = 0
		c.Next()
	}
}

func (self *Kernel) run(fn ProgramFunc) (err error) {
	defer func() {
		switch v := recover().(type) {
		case nil:
		case returned:
		case abort:
			err = v.err
		default:
			err = fmt.Errorf("%w: kernel panic: %v", ErrViolation, v)
		}
	}()
	fn(self)
	return nil
}
