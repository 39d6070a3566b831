/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan  6 00:13:13 2018 mstenber
 * Last modified: Tue Apr 17 09:12:40 2018 mstenber
 * Edit time:     14 min
 *
 */

package device

import (
	"fmt"

	"github.com/fingon/go-zlfs/codec"
	"github.com/fingon/go-zlfs/util"
)

// CodecStore transforms sector images on their way to and from the
// underlying store. The LBA is the additional data, so an image
// cannot be replayed at another address.
type CodecStore struct {
	Store
	Codec codec.Codec
}

func (self *CodecStore) GetSector(lba uint64) ([]byte, error) {
	data, err := self.Store.GetSector(lba)
	if err != nil || data == nil {
		return data, err
	}
	b, err := self.Codec.DecodeBytes(data, util.Uint64Bytes(lba))
	if err != nil {
		return nil, fmt.Errorf("decoding lba %d: %w", lba, err)
	}
	return b, nil
}

func (self *CodecStore) PutSector(lba uint64, data []byte) error {
	b, err := self.Codec.EncodeBytes(data, util.Uint64Bytes(lba))
	if err != nil {
		return fmt.Errorf("encoding lba %d: %w", lba, err)
	}
	return self.Store.PutSector(lba, b)
}
