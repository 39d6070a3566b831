/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 23 15:10:01 2017 mstenber
 * Last modified: Tue Apr 17 13:40:55 2018 mstenber
 * Edit time:     161 min
 *
 */

package badger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

// badgerStore provides on-disk storage.
//
// - key prefix g -> geometry
// - key prefix p + zone -> write pointer
// - key prefix s + lba -> sector image
type badgerStore struct {
	db *badger.DB
}

var _ device.Store = &badgerStore{}

var geometryKey = []byte("g")

func pointerKey(z uint64) []byte {
	return util.ConcatBytes([]byte("p"), util.Uint64Bytes(z))
}

func sectorKey(lba uint64) []byte {
	return util.ConcatBytes([]byte("s"), util.Uint64Bytes(lba))
}

func NewBadgerStore() device.Store {
	return &badgerStore{}
}

func (self *badgerStore) Open(config device.Config) (g zone.Geometry, pointers []uint64, err error) {
	if err = os.MkdirAll(config.Path, 0700); err != nil {
		return
	}
	opts := badger.DefaultOptions
	opts.Dir = config.Path
	opts.ValueDir = config.Path
	db, err := badger.Open(opts)
	if err != nil {
		err = fmt.Errorf("badger.Open: %w", err)
		return
	}
	self.db = db
	gb, err := self.get(geometryKey)
	if err != nil {
		db.Close()
		return
	}
	if gb == nil {
		g = config.Geometry
		if gb, err = device.EncodeGeometry(g); err == nil {
			err = self.set(geometryKey, gb)
		}
		if err != nil {
			db.Close()
		}
		return
	}
	if g, err = device.DecodeGeometry(gb); err != nil {
		db.Close()
		return
	}
	pointers = make([]uint64, g.ZoneCount)
	for z := range pointers {
		var v []byte
		if v, err = self.get(pointerKey(uint64(z))); err != nil {
			db.Close()
			return
		}
		if v != nil {
			pointers[z] = util.BytesUint64(v)
		}
	}
	mlog.Printf2("device/badger/badger", "Open %s %+v", config.Path, g)
	return
}

// get returns nil if the key does not exist
func (self *badgerStore) get(k []byte) (v []byte, err error) {
	err = self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err == nil {
			v, err = i.ValueCopy(nil)
		}
		return err
	})
	return
}

func (self *badgerStore) set(k, v []byte) error {
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (self *badgerStore) GetSector(lba uint64) ([]byte, error) {
	return self.get(sectorKey(lba))
}

func (self *badgerStore) PutSector(lba uint64, data []byte) error {
	return self.set(sectorKey(lba), append([]byte(nil), data...))
}

func (self *badgerStore) SetPointer(z, wp uint64) error {
	return self.set(pointerKey(z), util.Uint64Bytes(wp))
}

func (self *badgerStore) EraseZone(z, first, end uint64) error {
	mlog.Printf2("device/badger/badger", "EraseZone %d [%d, %d)", z, first, end)
	return self.db.Update(func(txn *badger.Txn) error {
		for lba := first; lba < end; lba++ {
			if err := txn.Delete(sectorKey(lba)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *badgerStore) Close() error {
	return self.db.Close()
}
