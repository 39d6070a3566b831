/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri May 11 09:20:31 2018 mstenber
 * Last modified: Fri May 11 09:45:02 2018 mstenber
 * Edit time:     12 min
 *
 */

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-zlfs/device/inmemory"
	"github.com/fingon/go-zlfs/fs"
	"github.com/fingon/go-zlfs/zone"
)

func TestExecWrite(t *testing.T) {
	dev, err := inmemory.New(zone.Geometry{ZoneCount: 4, ZoneSize: 16, ZoneCapacity: 16, SectorSize: 512})
	assert.Nil(t, err)
	assert.Nil(t, fs.Format(dev))
	myfs, err := fs.Mount(dev, fs.DefaultOptions())
	assert.Nil(t, err)
	kernelName = "write"
	assert.Nil(t, execKernel(myfs, "f", []byte("hello world"), nil))
	b, err := myfs.Read(2, 100, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(b), "hello world")
	assert.Nil(t, myfs.Unmount())
}

func TestCommands(t *testing.T) {
	dir, err := os.MkdirTemp("", "zlfs-cmd")
	assert.Nil(t, err)
	defer os.RemoveAll(dir)
	img := filepath.Join(dir, "zlfs.img")
	args := []string{"--backend", "file", "--path", img,
		"--zones", "4", "--zone-size", "16", "--zone-capacity", "16",
		"--sector-size", "512"}
	for _, cmd := range []string{"mkfs", "check", "check"} {
		rootCmd.SetArgs(append([]string{cmd}, args...))
		assert.Nil(t, rootCmd.Execute(), cmd)
	}
	assert.Equal(t, cfg.Device.Geometry, zone.Geometry{ZoneCount: 4, ZoneSize: 16,
		ZoneCapacity: 16, SectorSize: 512})
	assert.Equal(t, cfg.Device.Backend, "file")
}
