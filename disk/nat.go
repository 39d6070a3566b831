/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 19 13:20:55 2018 mstenber
 * Last modified: Fri Apr 20 14:41:30 2018 mstenber
 * Edit time:     34 min
 *
 */

package disk

import "fmt"

const BlockType_NAT uint64 = 1

// NatEntry maps an inode to the LBA of the inode block holding it.
type NatEntry struct {
	Inode, LBA uint64
}

// NatBlockEntries is the number of pairs one NAT block holds. The
// layout is type u64, inode[N], lba[N], padding.
func NatBlockEntries(sectorSize uint64) int {
	return int((sectorSize - 8) / 16)
}

func MarshalNatBlock(entries []NatEntry, sectorSize uint64) []byte {
	n := NatBlockEntries(sectorSize)
	if len(entries) > n {
		panic(fmt.Sprintf("%d nat entries do not fit %d", len(entries), n))
	}
	b := make([]byte, sectorSize)
	le.PutUint64(b, BlockType_NAT)
	inodes := b[8:]
	lbas := b[8+8*n:]
	for i, e := range entries {
		le.PutUint64(inodes[8*i:], e.Inode)
		le.PutUint64(lbas[8*i:], e.LBA)
	}
	return b
}

func UnmarshalNatBlock(b []byte, sectorSize uint64) ([]NatEntry, error) {
	if err := checkLen(b, int(sectorSize), "nat block"); err != nil {
		return nil, err
	}
	if t := le.Uint64(b); t != BlockType_NAT {
		return nil, fmt.Errorf("%w: nat block type %d", ErrCorrupt, t)
	}
	n := NatBlockEntries(sectorSize)
	inodes := b[8:]
	lbas := b[8+8*n:]
	entries := []NatEntry{}
	for i := 0; i < n; i++ {
		ino := le.Uint64(inodes[8*i:])
		if ino == InvalidInode {
			break
		}
		entries = append(entries, NatEntry{Inode: ino, LBA: le.Uint64(lbas[8*i:])})
	}
	return entries, nil
}
