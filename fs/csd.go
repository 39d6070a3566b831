/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon May  7 13:20:44 2018 mstenber
 * Last modified: Wed May  9 16:01:37 2018 mstenber
 * Edit time:     94 min
 *
 */

package fs

import (
	"context"
	"errors"
	"fmt"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/kernel"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/snapshot"
	"github.com/fingon/go-zlfs/util"
)

// SetKernel installs kernelIno as the read (or write) kernel of ctx.
// Both the kernel and, for a new context, the file are snapshotted;
// later changes to either are not seen by the kernel.
func (self *Fs) SetKernel(ctx snapshot.Context, kernelIno uint64, isWrite bool) error {
	unlock, err := self.shared()
	if err != nil {
		return err
	}
	defer unlock()
	if _, err = self.fileEntry(kernelIno); err != nil {
		return err
	}
	iunlock, err := self.lockInode(ctx.Inode)
	if err != nil {
		return err
	}
	defer iunlock()
	if _, err = self.fileEntry(ctx.Inode); err != nil {
		return err
	}
	return self.snapshots.Update(ctx, kernelIno, isWrite)
}

func (self *Fs) HasSnapshot(ctx snapshot.Context, slot snapshot.Slot) bool {
	return self.snapshots.Has(ctx, slot)
}

// Release drops every snapshot of ctx. Callers of SetKernel must call
// it once they are done.
func (self *Fs) Release(ctx snapshot.Context) {
	self.snapshots.Delete(ctx)
}

func inodeInfo(e *disk.InodeEntry) kernel.InodeInfo {
	return kernel.InodeInfo{Inode: e.Inode, Parent: e.Parent,
		Type: kernel.FileTypeOf(e.Type), Size: e.Size}
}

// kernelOf returns the snapshot set of ctx and its kernel in slot.
func (self *Fs) kernelOf(ctx snapshot.Context, slot snapshot.Slot) (set snapshot.Set, program []byte, err error) {
	set, err = self.snapshots.Get(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		err = fmt.Errorf("%w: %+v", ErrNoSnapshot, ctx)
		return
	}
	if err != nil {
		return
	}
	k := set.Read
	if slot == snapshot.SlotWrite {
		k = set.Write
	}
	if k == nil {
		err = fmt.Errorf("%w: %s kernel of %+v", ErrNoKernel, slot, ctx)
		return
	}
	program, err = self.readLBAs(k.LBAs(self.layout.SectorSize), 0, k.Inode.Size)
	return
}

func kernelError(res *kernel.Result) error {
	return fmt.Errorf("%w: status %d: %v", ErrKernel, res.Status, res.Err)
}

// ReadCSD runs the read kernel of ctx over [off, off+size) of the
// file snapshot and returns what it produced.
func (self *Fs) ReadCSD(c context.Context, ctx snapshot.Context, size, off uint64) (*kernel.Result, error) {
	unlock, err := self.shared()
	if err != nil {
		return nil, err
	}
	defer unlock()
	iunlock, err := self.lockInode(ctx.Inode)
	if err != nil {
		return nil, err
	}
	defer iunlock()
	set, program, err := self.kernelOf(ctx, snapshot.SlotRead)
	if err != nil {
		return nil, err
	}
	file := set.File
	lbas := file.LBAs(self.layout.SectorSize)
	desc := &kernel.CallDescriptor{Op: kernel.OpRead,
		Dims:  kernel.Dims{Size: size, Offset: off},
		Inode: inodeInfo(&file.Inode),
	}
	if off < file.Inode.Size {
		first, count := self.rangeSectors(off, util.UMin(size, file.Inode.Size-off))
		desc.LBAs = lbas[first : first+count]
	}
	inv := kernel.NewInvocation(self.dev, desc, make([]byte, self.opts.KernelMemory), lbas)
	res := self.executor.Execute(c, program, inv)
	if !res.OK() {
		return &res, kernelError(&res)
	}
	mlog.Printf2("fs/csd", "ReadCSD %+v: %d bytes at %d -> %d bytes", ctx, size, off, len(res.Data))
	return &res, nil
}

// WriteCSD hands data, padded to whole sectors with the existing file
// content, to the write kernel of ctx, which appends it to the
// current log zone. The sectors it reports are then made part of the
// file, and the file snapshot of ctx is refreshed.
func (self *Fs) WriteCSD(c context.Context, ctx snapshot.Context, data []byte, off uint64) (*kernel.WriteResult, error) {
	unlock, err := self.shared()
	if err != nil {
		return nil, err
	}
	defer unlock()
	iunlock, err := self.lockInode(ctx.Inode)
	if err != nil {
		return nil, err
	}
	defer iunlock()
	set, program, err := self.kernelOf(ctx, snapshot.SlotWrite)
	if err != nil {
		return nil, err
	}
	wr := &kernel.WriteResult{}
	if len(data) == 0 {
		return wr, nil
	}
	ss := self.layout.SectorSize
	file := set.File
	size := uint64(len(data))
	first, count := self.rangeSectors(off, size)
	fileLBAs := file.LBAs(ss)
	old := make([]uint64, count)
	for i := range old {
		if s := first + uint64(i); s < uint64(len(fileLBAs)) {
			old[i] = fileLBAs[s]
		}
	}
	desc := &kernel.CallDescriptor{Op: kernel.OpWrite,
		Dims:    kernel.Dims{Size: size, Offset: off},
		Inode:   inodeInfo(&file.Inode),
		PrePad:  off % ss,
		PostPad: count*ss - off%ss - size,
		LBAs:    old,
	}
	mem := make([]byte, util.UMax(count*ss, uint64(self.opts.KernelMemory)))
	for _, i := range []uint64{0, count - 1} {
		partial := (i == 0 && desc.PrePad > 0) || (i == count-1 && desc.PostPad > 0)
		if partial && old[i] != 0 {
			p := self.layout.ToPosition(old[i])
			if err = self.dev.Read(p.Zone, p.Sector, 0, mem[i*ss:(i+1)*ss]); err != nil {
				return nil, err
			}
		}
	}
	copy(mem[desc.PrePad:], data)

	self.logLock.Lock()
	var inv *kernel.Invocation
	for attempt := 0; ; attempt++ {
		if desc.Window, err = self.logWindow(); err != nil {
			self.logLock.Unlock()
			return nil, err
		}
		inv = kernel.NewInvocation(self.dev, desc, mem, fileLBAs)
		res := self.executor.Execute(c, program, inv)
		self.advanceLogWindow(inv.Window())
		if !res.OK() {
			self.logLock.Unlock()
			return nil, kernelError(&res)
		}
		if err = wr.Unmarshal(res.Data); err != nil {
			self.logLock.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrKernel, err)
		}
		if wr.Status != kernel.WriteStatus_DEVICE_FULL_FAIL || attempt > 0 {
			break
		}
		mlog.Printf2("fs/csd", " log zone exhausted, retrying in next zone")
	}
	self.logLock.Unlock()
	if !wr.Status.Succeeded() {
		return wr, fmt.Errorf("%w: write status %v", ErrKernel, wr.Status)
	}
	// The report must be exactly the appends, one per file sector.
	written := inv.Written()
	if uint64(len(wr.LBAs)) != count || len(written) != len(wr.LBAs) {
		return wr, fmt.Errorf("%w: %d lbas reported, %d written, for %d sectors",
			ErrKernel, len(wr.LBAs), len(written), count)
	}
	for i, lba := range wr.LBAs {
		if lba != written[i] {
			return wr, fmt.Errorf("%w: lba %d reported as %d, kernel wrote %d",
				ErrKernel, i, lba, written[i])
		}
	}

	e, err := self.fileEntry(ctx.Inode)
	if err != nil {
		return wr, err
	}
	if err = self.setDataLBAs(&e, first, wr.LBAs); err != nil {
		return wr, err
	}
	e.Size = util.UMax(e.Size, off+size)
	self.entries.Update(e)
	snap, err := self.snapshots.Create(ctx.Inode)
	if err != nil {
		return wr, err
	}
	mlog.Printf2("fs/csd", "WriteCSD %+v: %d bytes at %d -> %v", ctx, size, off, wr.LBAs)
	return wr, self.snapshots.Replace(ctx, snapshot.SlotFile, snap)
}
