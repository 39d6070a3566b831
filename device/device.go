/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 14 10:05:13 2018 mstenber
 * Last modified: Wed Apr 18 11:20:49 2018 mstenber
 * Edit time:     96 min
 *
 */

// device package provides the zoned block device the filesystem is
// built on. Zones are append-only and must be reset before reuse;
// every append reports the sector it actually landed on.
//
// Zoned implements the zone state machine once; the Store beneath it
// only needs to persist sector images, write pointers and geometry.
package device

import (
	"errors"
	"time"

	"github.com/fingon/go-zlfs/codec"
	"github.com/fingon/go-zlfs/zone"
)

var (
	ErrOutOfRange = errors.New("position out of range")
	ErrUnwritten  = errors.New("sector not written")
	ErrZoneFull   = errors.New("zone full")
	ErrClosed     = errors.New("device closed")
	ErrLocked     = errors.New("device locked by another process")
	ErrEmpty      = errors.New("empty append")
)

// Device is the zoned block device contract the filesystem consumes.
type Device interface {
	Geometry() zone.Geometry

	// Read fills buf starting at offset bytes into the given sector;
	// it may span consecutive sectors of the zone, all of which must
	// be below the write pointer.
	Read(zone, sector, offset uint64, buf []byte) error

	// Append writes buf at offset within the first sector at the
	// write pointer, and returns that sector. The pointer advances
	// by ceil((offset+len(buf))/sector size).
	Append(zone, offset uint64, buf []byte) (sector uint64, err error)

	// Reset erases the zone and rewinds its write pointer.
	Reset(zone uint64) error

	WritePointer(zone uint64) (uint64, error)

	Close() error
}

type Config struct {
	// Path of the backing store (file or directory, backend specific)
	Path string `yaml:"path"`

	// Geometry used when the store is created; existing stores
	// report their own.
	Geometry zone.Geometry `yaml:"geometry"`

	// Wait is how long to wait for an exclusive lock on the store.
	Wait time.Duration `yaml:"wait"`

	Codec codec.Codec `yaml:"-"`
}

// Store is the persistence beneath Zoned.
type Store interface {
	// Open attaches the store. A store that already holds a device
	// returns its persisted geometry and write pointers; a fresh one
	// adopts config.Geometry and returns nil pointers.
	Open(config Config) (zone.Geometry, []uint64, error)

	// GetSector returns the sector image, or nil if there is none.
	GetSector(lba uint64) ([]byte, error)

	PutSector(lba uint64, data []byte) error

	SetPointer(zone, wp uint64) error

	// EraseZone removes sectors [first, end).
	EraseZone(zone, first, end uint64) error

	Close() error
}
