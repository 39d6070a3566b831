/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 19 10:44:31 2018 mstenber
 * Last modified: Fri Apr 20 15:02:10 2018 mstenber
 * Edit time:     58 min
 *
 */

package disk

import (
	"bytes"
	"fmt"
)

type InodeType uint8

const (
	InodeType_NONE InodeType = iota
	InodeType_FILE
	InodeType_DIR
)

func (self InodeType) String() string {
	switch self {
	case InodeType_FILE:
		return "file"
	case InodeType_DIR:
		return "dir"
	}
	return "none"
}

const (
	InvalidInode uint64 = 0
	RootInode    uint64 = 1
)

// InodeEntryHeaderSize is the packed size of the fixed fields:
// parent u64, inode u64, type u8, size u64, data_lba u64.
const InodeEntryHeaderSize = 8 + 8 + 1 + 8 + 8

// InodeEntry is the attributes of an inode along with its name. On
// disk the fixed header is followed by the NUL-terminated name.
type InodeEntry struct {
	Parent  uint64
	Inode   uint64
	Type    InodeType
	Size    uint64
	DataLBA uint64
	Name    string
}

// EncodedSize is the number of bytes the entry occupies in an inode
// block.
func (self *InodeEntry) EncodedSize() int {
	return InodeEntryHeaderSize + len(self.Name) + 1
}

// MaxNameLength is the longest name that fits an inode block.
func MaxNameLength(sectorSize uint64) int {
	return int(sectorSize) - InodeEntryHeaderSize - 1
}

func ValidName(name string, sectorSize uint64) bool {
	return len(name) <= MaxNameLength(sectorSize) && !bytes.ContainsRune([]byte(name), 0)
}

// AppendTo packs the entry to b, which must have room for it.
func (self *InodeEntry) AppendTo(b []byte) []byte {
	var h [InodeEntryHeaderSize]byte
	le.PutUint64(h[0:], self.Parent)
	le.PutUint64(h[8:], self.Inode)
	h[16] = byte(self.Type)
	le.PutUint64(h[17:], self.Size)
	le.PutUint64(h[25:], self.DataLBA)
	b = append(b, h[:]...)
	b = append(b, self.Name...)
	return append(b, 0)
}

// UnmarshalInodeBlock parses the entries packed in one inode block.
func UnmarshalInodeBlock(b []byte) ([]InodeEntry, error) {
	entries := []InodeEntry{}
	off := 0
	for off+InodeEntryHeaderSize <= len(b) {
		h := b[off:]
		e := InodeEntry{
			Parent:  le.Uint64(h[0:]),
			Inode:   le.Uint64(h[8:]),
			Type:    InodeType(h[16]),
			Size:    le.Uint64(h[17:]),
			DataLBA: le.Uint64(h[25:]),
		}
		if e.Inode == InvalidInode {
			break
		}
		name := h[InodeEntryHeaderSize:]
		end := bytes.IndexByte(name, 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated name for inode %d", ErrCorrupt, e.Inode)
		}
		e.Name = string(name[:end])
		entries = append(entries, e)
		off += e.EncodedSize()
	}
	return entries, nil
}
