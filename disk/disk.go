/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 19 09:30:12 2018 mstenber
 * Last modified: Fri Apr 20 15:11:48 2018 mstenber
 * Edit time:     103 min
 *
 */

// disk package contains the fixed binary layouts of the on-disk
// records. Everything is little-endian and exactly one sector long;
// derived sizes (entries per NAT block, LBAs per data block) depend
// on the sector size only.
package disk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const MagicCookie uint64 = 0x10ADEDB00BDEC0DE

var ErrCorrupt = errors.New("corrupt block")
var ErrShort = errors.New("short block")

var le = binary.LittleEndian

func checkLen(b []byte, want int, what string) error {
	if len(b) < want {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShort, what, want, len(b))
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////////

// SuperBlock identifies the filesystem and the geometry it was
// formatted for.
type SuperBlock struct {
	Magic      uint64
	Zones      uint64
	Sectors    uint64
	SectorSize uint32
	UUID       uuid.UUID
}

const superBlockSize = 8 + 8 + 8 + 4 + 16

func (self *SuperBlock) Marshal(sectorSize uint64) []byte {
	b := make([]byte, sectorSize)
	le.PutUint64(b[0:], self.Magic)
	le.PutUint64(b[8:], self.Zones)
	le.PutUint64(b[16:], self.Sectors)
	le.PutUint32(b[24:], self.SectorSize)
	copy(b[28:44], self.UUID[:])
	return b
}

func (self *SuperBlock) Unmarshal(b []byte) error {
	if err := checkLen(b, superBlockSize, "superblock"); err != nil {
		return err
	}
	self.Magic = le.Uint64(b[0:])
	self.Zones = le.Uint64(b[8:])
	self.Sectors = le.Uint64(b[16:])
	self.SectorSize = le.Uint32(b[24:])
	copy(self.UUID[:], b[28:44])
	return nil
}

/////////////////////////////////////////////////////////////////////////////

type DirtyBlock struct {
	IsDirty uint8
}

func (self *DirtyBlock) Marshal(sectorSize uint64) []byte {
	b := make([]byte, sectorSize)
	b[0] = self.IsDirty
	return b
}

func (self *DirtyBlock) Unmarshal(b []byte) error {
	if err := checkLen(b, 1, "dirty block"); err != nil {
		return err
	}
	self.IsDirty = b[0]
	return nil
}

/////////////////////////////////////////////////////////////////////////////

// CheckpointBlock holds the last-known write pointers of the random
// and log regions.
type CheckpointBlock struct {
	RandomLBA uint64
	LogLBA    uint64
}

func (self *CheckpointBlock) Marshal(sectorSize uint64) []byte {
	b := make([]byte, sectorSize)
	le.PutUint64(b[0:], self.RandomLBA)
	le.PutUint64(b[8:], self.LogLBA)
	return b
}

func (self *CheckpointBlock) Unmarshal(b []byte) error {
	if err := checkLen(b, 16, "checkpoint"); err != nil {
		return err
	}
	self.RandomLBA = le.Uint64(b[0:])
	self.LogLBA = le.Uint64(b[8:])
	return nil
}
