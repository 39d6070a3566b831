/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr 30 09:20:11 2018 mstenber
 * Last modified: Fri May  4 11:40:26 2018 mstenber
 * Edit time:     112 min
 *
 */

// kernel package is the boundary between the filesystem and the
// sandboxed programs ("kernels") it runs against file data. The
// binary layouts in this file are what a kernel sees; they are
// versioned independently of anything else in the filesystem.
package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fingon/go-zlfs/disk"
)

// Version of the call descriptor layout.
const Version uint32 = 1

var le = binary.LittleEndian

var ErrABI = errors.New("malformed kernel ABI structure")

type Op uint32

const (
	OpRead Op = iota
	OpWrite
)

func (self Op) String() string {
	switch self {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("op%d", uint32(self))
}

// FileType is the kernel-visible inode type.
type FileType uint32

const (
	FileType_FILE FileType = iota
	FileType_DIR
)

func FileTypeOf(t disk.InodeType) FileType {
	if t == disk.InodeType_DIR {
		return FileType_DIR
	}
	return FileType_FILE
}

type Dims struct {
	Size, Offset uint64
}

type InodeInfo struct {
	Inode, Parent uint64
	Type          FileType
	Size          uint64
}

// Window is the append window a write kernel may use, as LBAs:
// appends land at WP, and the window is exhausted once WP == End.
type Window struct {
	Start, WP, End uint64
}

// CallDescriptor is handed to the kernel via get_call_info.
//
// Layout (little-endian):
//
//	0   version u32
//	4   op u32
//	8   dims.size u64
//	16  dims.offset u64
//	24  inode u64
//	32  parent u64
//	40  type u32
//	44  padding u32
//	48  inode size u64
//	56  pre_pad u64     (write only)
//	64  post_pad u64    (write only)
//	72  window start u64 (write only)
//	80  window wp u64    (write only)
//	88  window end u64   (write only)
//	96  lba count u64
//	104 lbas[count] u64
//
// The LBAs cover the sectors of the requested range in file order; a
// zero LBA is a hole. dims.offset modulo the sector size is the
// offset within the first of them.
type CallDescriptor struct {
	Op      Op
	Dims    Dims
	Inode   InodeInfo
	PrePad  uint64
	PostPad uint64
	Window  Window
	LBAs    []uint64
}

const callDescriptorHeader = 104

func (self *CallDescriptor) Marshal() []byte {
	b := make([]byte, callDescriptorHeader+8*len(self.LBAs))
	le.PutUint32(b[0:], Version)
	le.PutUint32(b[4:], uint32(self.Op))
	le.PutUint64(b[8:], self.Dims.Size)
	le.PutUint64(b[16:], self.Dims.Offset)
	le.PutUint64(b[24:], self.Inode.Inode)
	le.PutUint64(b[32:], self.Inode.Parent)
	le.PutUint32(b[40:], uint32(self.Inode.Type))
	le.PutUint64(b[48:], self.Inode.Size)
	le.PutUint64(b[56:], self.PrePad)
	le.PutUint64(b[64:], self.PostPad)
	le.PutUint64(b[72:], self.Window.Start)
	le.PutUint64(b[80:], self.Window.WP)
	le.PutUint64(b[88:], self.Window.End)
	le.PutUint64(b[96:], uint64(len(self.LBAs)))
	for i, lba := range self.LBAs {
		le.PutUint64(b[callDescriptorHeader+8*i:], lba)
	}
	return b
}

func (self *CallDescriptor) Unmarshal(b []byte) error {
	if len(b) < callDescriptorHeader {
		return fmt.Errorf("%w: descriptor of %d bytes", ErrABI, len(b))
	}
	if v := le.Uint32(b[0:]); v != Version {
		return fmt.Errorf("%w: descriptor version %d", ErrABI, v)
	}
	self.Op = Op(le.Uint32(b[4:]))
	self.Dims.Size = le.Uint64(b[8:])
	self.Dims.Offset = le.Uint64(b[16:])
	self.Inode.Inode = le.Uint64(b[24:])
	self.Inode.Parent = le.Uint64(b[32:])
	self.Inode.Type = FileType(le.Uint32(b[40:]))
	self.Inode.Size = le.Uint64(b[48:])
	self.PrePad = le.Uint64(b[56:])
	self.PostPad = le.Uint64(b[64:])
	self.Window.Start = le.Uint64(b[72:])
	self.Window.WP = le.Uint64(b[80:])
	self.Window.End = le.Uint64(b[88:])
	n := le.Uint64(b[96:])
	if n > uint64(len(b)-callDescriptorHeader)/8 {
		return fmt.Errorf("%w: %d lbas in %d bytes", ErrABI, n, len(b))
	}
	self.LBAs = make([]uint64, n)
	for i := range self.LBAs {
		self.LBAs[i] = le.Uint64(b[callDescriptorHeader+8*i:])
	}
	return nil
}

// Cursor walks the LBAs; Next moves to the following one and reports
// whether one remains.
func (self *CallDescriptor) Cursor() *Cursor {
	return &Cursor{lbas: self.LBAs}
}

type WriteStatus uint32

const (
	WriteStatus_SUCCESS WriteStatus = iota
	WriteStatus_FAIL
	WriteStatus_DEVICE_FULL_SUCCESS
	WriteStatus_DEVICE_FULL_FAIL
)

func (self WriteStatus) String() string {
	switch self {
	case WriteStatus_SUCCESS:
		return "SUCCESS"
	case WriteStatus_FAIL:
		return "FAIL"
	case WriteStatus_DEVICE_FULL_SUCCESS:
		return "DEVICE_FULL_SUCCESS"
	case WriteStatus_DEVICE_FULL_FAIL:
		return "DEVICE_FULL_FAIL"
	}
	return fmt.Sprintf("status%d", uint32(self))
}

func (self WriteStatus) Succeeded() bool {
	return self == WriteStatus_SUCCESS || self == WriteStatus_DEVICE_FULL_SUCCESS
}

func (self WriteStatus) DeviceFull() bool {
	return self == WriteStatus_DEVICE_FULL_SUCCESS || self == WriteStatus_DEVICE_FULL_FAIL
}

// WriteResult is what a write kernel returns via return_data.
//
// Layout: status u32, padding u32, size u64, count u64, lbas[count].
type WriteResult struct {
	Status WriteStatus
	Size   uint64
	LBAs   []uint64
}

const writeResultHeader = 24

func (self *WriteResult) Marshal() []byte {
	b := make([]byte, writeResultHeader+8*len(self.LBAs))
	le.PutUint32(b[0:], uint32(self.Status))
	le.PutUint64(b[8:], self.Size)
	le.PutUint64(b[16:], uint64(len(self.LBAs)))
	for i, lba := range self.LBAs {
		le.PutUint64(b[writeResultHeader+8*i:], lba)
	}
	return b
}

func (self *WriteResult) Unmarshal(b []byte) error {
	if len(b) < writeResultHeader {
		return fmt.Errorf("%w: write result of %d bytes", ErrABI, len(b))
	}
	self.Status = WriteStatus(le.Uint32(b[0:]))
	if self.Status > WriteStatus_DEVICE_FULL_FAIL {
		return fmt.Errorf("%w: write status %d", ErrABI, self.Status)
	}
	self.Size = le.Uint64(b[8:])
	n := le.Uint64(b[16:])
	if n > uint64(len(b)-writeResultHeader)/8 {
		return fmt.Errorf("%w: %d lbas in %d bytes", ErrABI, n, len(b))
	}
	self.LBAs = make([]uint64, n)
	for i := range self.LBAs {
		self.LBAs[i] = le.Uint64(b[writeResultHeader+8*i:])
	}
	return nil
}
