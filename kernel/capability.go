/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr 30 13:31:40 2018 mstenber
 * Last modified: Thu May  3 10:02:19 2018 mstenber
 * Edit time:     26 min
 *
 */

package kernel

import (
	"errors"
	"fmt"
)

// Capability numbers are part of the ABI.
type Capability int

const (
	CapReturnData Capability = iota + 1
	CapRead
	CapWrite
	CapSectorSize
	CapZoneCapacity
	CapZoneSize
	CapMemInfo
	CapCallInfo
)

var capabilityNames = map[Capability]string{
	CapReturnData:   "return_data",
	CapRead:         "read",
	CapWrite:        "write",
	CapSectorSize:   "get_sector_size",
	CapZoneCapacity: "get_zone_capacity",
	CapZoneSize:     "get_zone_size",
	CapMemInfo:      "get_mem_info",
	CapCallInfo:     "get_call_info",
}

func (self Capability) String() string {
	if n, ok := capabilityNames[self]; ok {
		return n
	}
	return fmt.Sprintf("capability%d", int(self))
}

// CapabilitySet is a bitmask of permitted capabilities.
type CapabilitySet uint32

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= 1 << uint(c)
	}
	return s
}

func (self CapabilitySet) Has(c Capability) bool {
	return self&(1<<uint(c)) != 0
}

var ReadCapabilities = NewCapabilitySet(CapReturnData, CapRead, CapSectorSize,
	CapZoneCapacity, CapZoneSize, CapMemInfo, CapCallInfo)

var WriteCapabilities = ReadCapabilities | NewCapabilitySet(CapWrite)

// Status of an invocation; negative values are aborts.
const (
	StatusOK        int64 = 0
	StatusViolation int64 = -1
	StatusBudget    int64 = -2
	StatusTimeout   int64 = -3
	StatusIO        int64 = -4
)

var (
	ErrViolation      = errors.New("kernel contract violation")
	ErrBudget         = errors.New("kernel step budget exceeded")
	ErrTimeout        = errors.New("kernel timed out")
	ErrAborted        = errors.New("kernel invocation aborted")
	ErrUnknownProgram = errors.New("unknown kernel program")
)

// Host is the capability table a kernel is given; every method is
// one numbered capability.
type Host interface {
	ReturnData(data []byte) error
	Read(zone, sector, offset uint64, buf []byte) error
	Write(zone, offset uint64, buf []byte) (sector uint64, err error)
	SectorSize() uint64
	ZoneCapacity() uint64
	ZoneSize() uint64
	MemInfo() []byte
	CallInfo() []byte

	// Allowed is consulted before every capability call.
	Allowed(c Capability) bool
}
