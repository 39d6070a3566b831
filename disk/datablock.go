/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 19 14:02:17 2018 mstenber
 * Last modified: Fri Apr 20 14:52:44 2018 mstenber
 * Edit time:     21 min
 *
 */

package disk

// DataBlock indexes the data sectors of one stretch of a file; blocks
// of a file form a chain through Next. Zero LBA means a hole.
type DataBlock struct {
	LBAs []uint64
	Next uint64
}

// DataBlockLBACount is the number of data LBAs one block indexes.
func DataBlockLBACount(sectorSize uint64) uint64 {
	return (sectorSize - 8) / 8
}

func NewDataBlock(sectorSize uint64) *DataBlock {
	return &DataBlock{LBAs: make([]uint64, DataBlockLBACount(sectorSize))}
}

func (self *DataBlock) Clone() *DataBlock {
	return &DataBlock{LBAs: append([]uint64(nil), self.LBAs...), Next: self.Next}
}

func (self *DataBlock) Marshal(sectorSize uint64) []byte {
	b := make([]byte, sectorSize)
	n := DataBlockLBACount(sectorSize)
	for i := uint64(0); i < n && i < uint64(len(self.LBAs)); i++ {
		le.PutUint64(b[8*i:], self.LBAs[i])
	}
	le.PutUint64(b[8*n:], self.Next)
	return b
}

func (self *DataBlock) Unmarshal(b []byte, sectorSize uint64) error {
	if err := checkLen(b, int(sectorSize), "data block"); err != nil {
		return err
	}
	n := DataBlockLBACount(sectorSize)
	self.LBAs = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		self.LBAs[i] = le.Uint64(b[8*i:])
	}
	self.Next = le.Uint64(b[8*n:])
	return nil
}
