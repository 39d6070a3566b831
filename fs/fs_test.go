/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue May  8 09:30:12 2018 mstenber
 * Last modified: Wed May  9 17:12:40 2018 mstenber
 * Edit time:     142 min
 *
 */

package fs

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/device/inmemory"
	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/zone"
)

var testGeometry = zone.Geometry{ZoneCount: 8, ZoneSize: 64, ZoneCapacity: 64, SectorSize: 512}

func newDevice(t *testing.T, g zone.Geometry) device.Device {
	dev, err := inmemory.New(g)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func formatted(t *testing.T, g zone.Geometry) device.Device {
	dev := newDevice(t, g)
	assert.Nil(t, Format(dev))
	return dev
}

func mount(t *testing.T, dev device.Device) *Fs {
	opts := DefaultOptions()
	opts.KernelMemory = 64 << 10
	fs, err := Mount(dev, opts)
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func createFile(t *testing.T, fs *Fs, parent uint64, name string, data []byte) uint64 {
	ino, err := fs.CreateInode(parent, name, disk.InodeType_FILE)
	assert.Nil(t, err)
	if len(data) > 0 {
		n, err := fs.Write(ino, data, 0)
		assert.Nil(t, err)
		assert.Equal(t, n, len(data))
	}
	return ino
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31) + seed
	}
	return b
}

func TestSuperblock(t *testing.T) {
	t.Parallel()
	dev := formatted(t, testGeometry)
	self, err := newFs(dev, Options{})
	assert.Nil(t, err)
	assert.Nil(t, self.verifySuperblock())

	good := *self.superblock()
	mutations := map[string]func(sb *disk.SuperBlock){
		"zones":       func(sb *disk.SuperBlock) { sb.Zones++ },
		"sectors":     func(sb *disk.SuperBlock) { sb.Sectors-- },
		"sector_size": func(sb *disk.SuperBlock) { sb.SectorSize *= 2 },
		"magic":       func(sb *disk.SuperBlock) { sb.Magic = 42 },
	}
	for name, mutate := range mutations {
		sb := good
		mutate(&sb)
		assert.Nil(t, dev.Reset(zone.SuperblockZone))
		_, err = dev.Append(zone.SuperblockZone, 0, sb.Marshal(testGeometry.SectorSize))
		assert.Nil(t, err)
		err = self.verifySuperblock()
		if name == "magic" {
			assert.True(t, errors.Is(err, ErrBadSuperblock), name)
		} else {
			assert.True(t, errors.Is(err, ErrGeometryMismatch), name)
		}
	}

	_, err = Mount(newDevice(t, testGeometry), Options{})
	assert.True(t, errors.Is(err, ErrBadSuperblock))
}

func TestDirtyblock(t *testing.T) {
	t.Parallel()
	dev := formatted(t, testGeometry)
	self, err := newFs(dev, Options{})
	assert.Nil(t, err)
	dirty, err := self.verifyDirtyblock()
	assert.Nil(t, err)
	assert.True(t, !dirty)
	assert.Nil(t, self.writeDirtyblock())
	dirty, err = self.verifyDirtyblock()
	assert.Nil(t, err)
	assert.True(t, dirty)
	assert.Nil(t, self.removeDirtyblock())
	dirty, err = self.verifyDirtyblock()
	assert.Nil(t, err)
	assert.True(t, !dirty)
}

func TestMountDirty(t *testing.T) {
	t.Parallel()
	dev := formatted(t, testGeometry)
	fs := mount(t, dev)
	_, err := Mount(dev, DefaultOptions())
	assert.Equal(t, err, ErrDirty)
	assert.Nil(t, fs.Unmount())
	assert.Equal(t, fs.Unmount(), ErrNotMounted)
	fs = mount(t, dev)
	assert.Nil(t, fs.Unmount())
}

func TestMountFailureClearsDirty(t *testing.T) {
	t.Parallel()
	dev := formatted(t, testGeometry)
	self, err := newFs(dev, Options{})
	assert.Nil(t, err)
	assert.Nil(t, self.updateCheckpointblock(0, 0))
	for i := 0; i < 2; i++ {
		_, err = Mount(dev, DefaultOptions())
		assert.True(t, errors.Is(err, disk.ErrCorrupt), err)
		dirty, err := self.verifyDirtyblock()
		assert.Nil(t, err)
		assert.True(t, !dirty)
	}
	l := self.layout
	assert.Nil(t, self.updateCheckpointblock(l.RegionStart(l.Random), l.RegionStart(l.Log)))
	fs := mount(t, dev)
	assert.Nil(t, fs.Unmount())
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	dev := formatted(t, testGeometry)
	fs := mount(t, dev)
	dir, err := fs.CreateInode(disk.RootInode, "dir", disk.InodeType_DIR)
	assert.Nil(t, err)
	assert.Equal(t, dir, uint64(2))

	// more than one data block worth of sectors
	per := int(disk.DataBlockLBACount(testGeometry.SectorSize))
	big := pattern((per+5)*512+100, 1)
	small := pattern(700, 2)
	f1 := createFile(t, fs, dir, "big", big)
	f2 := createFile(t, fs, dir, "small", small)
	assert.Nil(t, fs.Sync())

	// unaligned overwrite across a sector boundary after a sync
	patch := pattern(300, 3)
	_, err = fs.Write(f2, patch, 400)
	assert.Nil(t, err)
	copy(small[400:], patch)

	check := func(fs *Fs) {
		b, err := fs.Read(f1, uint64(len(big)), 0)
		assert.Nil(t, err)
		assert.True(t, bytes.Equal(b, big))
		b, err = fs.Read(f2, 10000, 0)
		assert.Nil(t, err)
		assert.True(t, bytes.Equal(b, small))
		b, err = fs.Read(f1, 1000, uint64(per*512-10))
		assert.Nil(t, err)
		assert.True(t, bytes.Equal(b, big[per*512-10:per*512+990]))
		e, err := fs.GetInode(f2)
		assert.Nil(t, err)
		assert.Equal(t, e.Name, "small")
		assert.Equal(t, e.Parent, dir)
		assert.Equal(t, e.Size, uint64(700))
		e, err = fs.GetInode(dir)
		assert.Nil(t, err)
		assert.Equal(t, e.Type, disk.InodeType_DIR)
	}
	check(fs)
	assert.Nil(t, fs.Unmount())

	fs = mount(t, dev)
	check(fs)
	f3, err := fs.CreateInode(dir, "new", disk.InodeType_FILE)
	assert.Nil(t, err)
	assert.Equal(t, f3, f2+1)
	assert.Nil(t, fs.Unmount())
}

func TestHolesAndSetSize(t *testing.T) {
	t.Parallel()
	fs := mount(t, formatted(t, testGeometry))
	data := pattern(100, 5)
	f := createFile(t, fs, disk.RootInode, "f", nil)
	_, err := fs.Write(f, data, 2000)
	assert.Nil(t, err)
	b, err := fs.Read(f, 3000, 0)
	assert.Nil(t, err)
	assert.Equal(t, len(b), 2100)
	assert.True(t, bytes.Equal(b[:2000], make([]byte, 2000)))
	assert.True(t, bytes.Equal(b[2000:], data))

	// shrinking zeroes what is cut off
	assert.Nil(t, fs.SetSize(f, 2050))
	assert.Nil(t, fs.SetSize(f, 3000))
	b, err = fs.Read(f, 3000, 0)
	assert.Nil(t, err)
	assert.Equal(t, len(b), 3000)
	assert.True(t, bytes.Equal(b[2000:2050], data[:50]))
	assert.True(t, bytes.Equal(b[2050:], make([]byte, 950)))

	b, err = fs.Read(f, 10, 5000)
	assert.Nil(t, err)
	assert.Equal(t, len(b), 0)
	assert.Nil(t, fs.Unmount())
}

func TestErrors(t *testing.T) {
	t.Parallel()
	fs := mount(t, formatted(t, testGeometry))
	f := createFile(t, fs, disk.RootInode, "f", []byte("x"))
	_, err := fs.Write(disk.RootInode, []byte("x"), 0)
	assert.True(t, errors.Is(err, ErrIsDir))
	_, err = fs.GetInode(0)
	assert.Equal(t, err, ErrInvalidInode)
	_, err = fs.GetInode(99)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = fs.Read(99, 1, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = fs.CreateInode(f, "sub", disk.InodeType_FILE)
	assert.True(t, errors.Is(err, ErrNotDir))
	_, err = fs.CreateInode(disk.RootInode, "", disk.InodeType_FILE)
	assert.True(t, errors.Is(err, ErrInvalidName))
	_, err = fs.CreateInode(disk.RootInode, "a\x00b", disk.InodeType_FILE)
	assert.True(t, errors.Is(err, ErrInvalidName))
	assert.Nil(t, fs.Unmount())
	_, err = fs.Write(f, []byte("x"), 0)
	assert.Equal(t, err, ErrNotMounted)
}

func TestReferences(t *testing.T) {
	t.Parallel()
	fs := mount(t, formatted(t, testGeometry))
	f := createFile(t, fs, disk.RootInode, "f", nil)
	_, err := fs.Lookup(f)
	assert.Nil(t, err)
	_, err = fs.Lookup(f)
	assert.Nil(t, err)
	assert.Equal(t, fs.References(f), int64(2))
	fs.Forget(f, 1)
	assert.Equal(t, fs.References(f), int64(1))
	fs.Forget(f, 1)
	assert.Equal(t, fs.References(f), int64(0))
	_, err = fs.Lookup(1234)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Nil(t, fs.Unmount())
}

// small regions: one random zone and three log zones of 4 sectors
var tinyGeometry = zone.Geometry{ZoneCount: 6, ZoneSize: 8, ZoneCapacity: 4, SectorSize: 512}

func TestRandomZoneRewrite(t *testing.T) {
	t.Parallel()
	dev := formatted(t, tinyGeometry)
	fs := mount(t, dev)
	start := fs.layout.RegionStart(fs.layout.Random)
	var inodes []uint64
	for i := 0; i < 5; i++ {
		ino, err := fs.CreateInode(disk.RootInode, fmt.Sprintf("f%d", i), disk.InodeType_DIR)
		assert.Nil(t, err)
		inodes = append(inodes, ino)
		assert.Nil(t, fs.Sync())
	}
	// four NAT blocks filled the zone; the fifth sync rewrote it
	st, err := fs.Stat()
	assert.Nil(t, err)
	assert.Equal(t, st.RandomPtr, start+1)
	assert.Nil(t, fs.Unmount())

	fs = mount(t, dev)
	for i, ino := range inodes {
		e, err := fs.GetInode(ino)
		assert.Nil(t, err)
		assert.Equal(t, e.Name, fmt.Sprintf("f%d", i))
	}
	assert.Nil(t, fs.Unmount())
}

func TestMountRandomZoneFull(t *testing.T) {
	t.Parallel()
	dev := formatted(t, tinyGeometry)
	fs := mount(t, dev)
	start := fs.layout.RegionStart(fs.layout.Random)
	for i := 0; i < 4; i++ {
		_, err := fs.CreateInode(disk.RootInode, fmt.Sprintf("d%d", i), disk.InodeType_DIR)
		assert.Nil(t, err)
		assert.Nil(t, fs.Sync())
	}
	st, err := fs.Stat()
	assert.Nil(t, err)
	assert.Equal(t, st.RandomPtr, fs.layout.RegionEnd(fs.layout.Random))
	assert.Nil(t, fs.Unmount())

	fs = mount(t, dev)
	st, err = fs.Stat()
	assert.Nil(t, err)
	assert.Equal(t, st.RandomPtr, start+1)
	assert.Equal(t, st.Inodes, 4)
	e, err := fs.GetInode(5)
	assert.Nil(t, err)
	assert.Equal(t, e.Name, "d3")
	assert.Nil(t, fs.Unmount())
}

func TestLogFull(t *testing.T) {
	t.Parallel()
	fs := mount(t, formatted(t, tinyGeometry))
	f := createFile(t, fs, disk.RootInode, "f", nil)
	capacity := fs.layout.Capacity(fs.layout.Log)
	_, err := fs.Write(f, pattern(int(capacity)*512, 0), 0)
	assert.Nil(t, err)
	st, err := fs.Stat()
	assert.Nil(t, err)
	assert.Equal(t, st.LogFree, uint64(0))
	_, err = fs.Write(f, []byte("x"), 0)
	assert.Equal(t, err, ErrLogFull)
	assert.Equal(t, fs.Sync(), ErrLogFull)
}

func TestCheckpointRotation(t *testing.T) {
	t.Parallel()
	dev := formatted(t, tinyGeometry)
	data := []byte("persistent")
	fs := mount(t, dev)
	f := createFile(t, fs, disk.RootInode, "f", data)
	assert.Nil(t, fs.Unmount())
	// zone 0 holds the superblock and three checkpoints
	for i := 0; i < 5; i++ {
		fs = mount(t, dev)
		b, err := fs.Read(f, 100, 0)
		assert.Nil(t, err)
		assert.Equal(t, b, data)
		assert.Nil(t, fs.Unmount())
	}
}
