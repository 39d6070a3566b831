/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri May  4 16:10:53 2018 mstenber
 * Last modified: Wed May  9 14:40:02 2018 mstenber
 * Edit time:     188 min
 *
 */

// fs package is the log-structured filesystem proper. It lays the
// filesystem out over a zoned device (see zone.Layout), keeps the
// metadata in memory (meta), and runs offloaded kernels against
// snapshots of files (snapshot, kernel).
//
// Flush order on Sync is always data blocks, then inode blocks, then
// NAT blocks: data blocks contain data LBAs, inode blocks contain data
// block LBAs, and NAT blocks contain inode block LBAs.
package fs

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/kernel"
	"github.com/fingon/go-zlfs/meta"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/snapshot"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

type Options struct {
	// InodeCacheSize is the number of decoded inode blocks kept in
	// memory; zero disables the cache.
	InodeCacheSize int `yaml:"inode_cache_size"`

	// KernelMemory is the scratch memory given to each kernel.
	KernelMemory int `yaml:"kernel_memory"`

	KernelSteps   uint64        `yaml:"kernel_steps"`
	KernelTimeout time.Duration `yaml:"kernel_timeout"`

	// FlushInterval > 0 syncs periodically in the background.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Executor overrides the default native executor.
	Executor kernel.Executor `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		InodeCacheSize: 128,
		KernelMemory:   1 << 20,
		KernelSteps:    1 << 24,
		KernelTimeout:  5 * time.Second,
	}
}

type Fs struct {
	// These have their own locking
	entries    *meta.EntryMap
	locations  *meta.LocationMap
	refs       *meta.RefCountMap
	snapshots  *snapshot.Manager
	blockCache gcache.Cache
	inoPtr     util.AtomicUint64

	dev      device.Device
	layout   *zone.Layout
	opts     Options
	executor kernel.Executor
	uuid     uuid.UUID
	closing  chan chan struct{}
	mounted  int32

	// Shared by all operations, exclusive for Sync and Unmount.
	lock util.RWMutexLocked

	// Guarded by lock held exclusively (or during mount).
	randomPtr  uint64
	natPending map[uint64]bool

	logLock util.MutexLocked
	logPtr  uint64

	dataLock   util.MutexLocked
	dataBlocks map[uint64]map[uint64]*disk.DataBlock
}

var _ snapshot.Source = &Fs{}

func newFs(dev device.Device, opts Options) (*Fs, error) {
	layout, err := zone.NewLayout(dev.Geometry())
	if err != nil {
		return nil, err
	}
	self := &Fs{dev: dev, layout: layout, opts: opts,
		entries:    meta.NewEntryMap(),
		locations:  meta.NewLocationMap(),
		refs:       meta.NewRefCountMap(),
		natPending: make(map[uint64]bool),
		dataBlocks: make(map[uint64]map[uint64]*disk.DataBlock),
	}
	self.snapshots = snapshot.NewManager(self)
	self.executor = opts.Executor
	if self.executor == nil {
		self.executor = &kernel.Native{Budget: opts.KernelSteps, Timeout: opts.KernelTimeout}
	}
	if opts.InodeCacheSize > 0 {
		self.blockCache = gcache.New(opts.InodeCacheSize).
			ARC().
			LoaderFunc(func(k interface{}) (interface{}, error) {
				return self.loadInodeBlock(k.(uint64))
			}).
			Build()
	}
	return self, nil
}

// Format erases the whole device and writes a fresh superblock and
// checkpoint.
func Format(dev device.Device) error {
	self, err := newFs(dev, Options{})
	if err != nil {
		return err
	}
	g := dev.Geometry()
	for z := uint64(0); z < g.ZoneCount; z++ {
		if err = dev.Reset(z); err != nil {
			return err
		}
	}
	self.uuid = uuid.New()
	if err = self.writeSuperblock(); err != nil {
		return err
	}
	err = self.updateCheckpointblock(self.layout.RegionStart(self.layout.Random),
		self.layout.RegionStart(self.layout.Log))
	if err != nil {
		return err
	}
	mlog.Printf2("fs/fs", "Format %v: %+v", self.uuid, self.layout)
	return nil
}

// Mount verifies the device, marks it dirty and rebuilds the
// in-memory state from the checkpoint, random zone and log.
func Mount(dev device.Device, opts Options) (*Fs, error) {
	self, err := newFs(dev, opts)
	if err != nil {
		return nil, err
	}
	if err = self.verifySuperblock(); err != nil {
		return nil, err
	}
	dirty, err := self.verifyDirtyblock()
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, ErrDirty
	}
	if err = self.writeDirtyblock(); err != nil {
		return nil, err
	}
	rewrote, err := self.load()
	if err != nil {
		// Only a half-done random zone rewrite leaves the device
		// really dirty.
		if !rewrote {
			if rerr := self.removeDirtyblock(); rerr != nil {
				mlog.Printf2("fs/fs", " removeDirtyblock failed: %v", rerr)
			}
		}
		return nil, err
	}
	atomic.StoreInt32(&self.mounted, 1)
	if opts.FlushInterval > 0 {
		self.closing = make(chan chan struct{})
		go self.flusher(opts.FlushInterval)
	}
	mlog.Printf2("fs/fs", "Mount %v: random %d log %d next inode %d",
		self.uuid, self.randomPtr, self.logPtr, self.inoPtr.Get())
	return self, nil
}

// load rebuilds the in-memory state from the checkpoint, the random
// zone and the log. rewrote is set once the random zone rewrite has
// started.
func (self *Fs) load() (rewrote bool, err error) {
	cp, err := self.getCheckpointblock()
	if err != nil {
		return
	}
	if !self.layout.Contains(self.layout.Random, cp.RandomLBA) ||
		(cp.LogLBA != self.layout.RegionEnd(self.layout.Log) &&
			!self.layout.Contains(self.layout.Log, cp.LogLBA)) {
		err = fmt.Errorf("%w: checkpoint %+v outside regions", disk.ErrCorrupt, cp)
		return
	}
	err = self.determineRandomPtr(cp.RandomLBA)
	if errors.Is(err, ErrRandomZoneFull) {
		mlog.Printf2("fs/fs", " random zone full, rewriting")
		if err = self.determineLogPtr(cp.LogLBA); err != nil {
			return
		}
		if err = self.readRandomZone(cp.RandomLBA); err != nil {
			return
		}
		rewrote = true
		if err = self.rewriteRandomBlocks(); err != nil {
			return
		}
		cp.RandomLBA = self.layout.RegionStart(self.layout.Random)
		err = self.determineRandomPtr(cp.RandomLBA)
	}
	if err != nil {
		return
	}
	if err = self.readRandomZone(cp.RandomLBA); err != nil {
		return
	}
	next := self.locations.MaxInode() + 1
	if next < disk.RootInode+1 {
		next = disk.RootInode + 1
	}
	self.inoPtr.Set(next)
	err = self.determineLogPtr(cp.LogLBA)
	return
}

func (self *Fs) flusher(interval time.Duration) {
	for {
		select {
		case done := <-self.closing:
			done <- struct{}{}
			return
		case <-time.After(interval):
			if err := self.Sync(); err != nil {
				mlog.Printf2("fs/fs", "background Sync failed: %v", err)
			}
		}
	}
}

// Unmount flushes everything, checkpoints and clears the dirty
// block. The device is left open.
func (self *Fs) Unmount() error {
	if self.closing != nil {
		done := make(chan struct{})
		self.closing <- done
		<-done
		self.closing = nil
	}
	unlock, err := self.exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	if err = self.sync(); err != nil {
		return err
	}
	atomic.StoreInt32(&self.mounted, 0)
	err = self.updateCheckpointblock(self.layout.RegionStart(self.layout.Random),
		self.getLogPtr())
	if err != nil {
		return err
	}
	if err = self.removeDirtyblock(); err != nil {
		return err
	}
	mlog.Printf2("fs/fs", "Unmount %v done", self.uuid)
	return nil
}

// shared takes the filesystem lock for an ordinary operation.
func (self *Fs) shared() (unlock func(), err error) {
	unlock = self.lock.RLocked()
	if atomic.LoadInt32(&self.mounted) == 0 {
		unlock()
		return nil, ErrNotMounted
	}
	return unlock, nil
}

func (self *Fs) exclusive() (unlock func(), err error) {
	unlock = self.lock.Locked()
	if atomic.LoadInt32(&self.mounted) == 0 {
		unlock()
		return nil, ErrNotMounted
	}
	return unlock, nil
}

func (self *Fs) Device() device.Device {
	return self.dev
}

func (self *Fs) Layout() *zone.Layout {
	return self.layout
}

func (self *Fs) SectorSize() uint64 {
	return self.layout.SectorSize
}

// readSector reads the full sector at lba.
func (self *Fs) readSector(lba uint64) ([]byte, error) {
	b := make([]byte, self.layout.SectorSize)
	p := self.layout.ToPosition(lba)
	if err := self.dev.Read(p.Zone, p.Sector, 0, b); err != nil {
		return nil, err
	}
	return b, nil
}

type Stat struct {
	UUID           uuid.UUID     `json:"uuid"`
	Geometry       zone.Geometry `json:"geometry"`
	Random         zone.Region   `json:"random"`
	Log            zone.Region   `json:"log"`
	RandomPtr      uint64        `json:"random_ptr"`
	LogPtr         uint64        `json:"log_ptr"`
	LogFree        uint64        `json:"log_free"`
	NextInode      uint64        `json:"next_inode"`
	Inodes         int           `json:"inodes"`
	PendingEntries int           `json:"pending_entries"`
	Referenced     int           `json:"referenced"`
	Snapshots      int           `json:"snapshots"`
}

func (self *Fs) Stat() (st Stat, err error) {
	unlock, err := self.shared()
	if err != nil {
		return
	}
	defer unlock()
	st = Stat{UUID: self.uuid,
		Geometry:       self.layout.Geometry,
		Random:         self.layout.Random,
		Log:            self.layout.Log,
		RandomPtr:      self.randomPtr,
		LogPtr:         self.getLogPtr(),
		NextInode:      self.inoPtr.Get(),
		Inodes:         self.locations.Len(),
		PendingEntries: self.entries.Len(),
		Referenced:     self.refs.Len(),
		Snapshots:      self.snapshots.Len(),
	}
	st.LogFree = self.regionFree(self.layout.Log, st.LogPtr)
	return
}

// regionFree is the number of writable sectors from ptr to the end
// of region r.
func (self *Fs) regionFree(r zone.Region, ptr uint64) uint64 {
	if ptr >= self.layout.RegionEnd(r) {
		return 0
	}
	p := self.layout.ToPosition(ptr)
	return (r.End-p.Zone-1)*self.layout.ZoneCapacity + self.layout.ZoneCapacity - p.Sector
}
