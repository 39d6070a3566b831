/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 22:49:15 2018 mstenber
 * Last modified: Tue Apr 17 12:58:20 2018 mstenber
 * Edit time:     52 min
 *
 */

package bolt

import (
	"fmt"
	"os"
	"path/filepath"

	bbolt "go.etcd.io/bbolt"

	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

var sectorKey = []byte("sector")
var pointerKey = []byte("pointer")
var metaKey = []byte("meta")
var geometryKey = []byte("geometry")

// boltStore provides on-disk storage.
//
// - sector bucket: lba -> sector image
// - pointer bucket: zone -> write pointer
// - meta bucket: geometry
type boltStore struct {
	db *bbolt.DB
}

var _ device.Store = &boltStore{}

func NewBoltStore() device.Store {
	return &boltStore{}
}

func (self *boltStore) Open(config device.Config) (g zone.Geometry, pointers []uint64, err error) {
	if err = os.MkdirAll(config.Path, 0700); err != nil {
		return
	}
	opts := &bbolt.Options{Timeout: config.Wait}
	db, err := bbolt.Open(filepath.Join(config.Path, "bbolt.db"), 0600, opts)
	if err != nil {
		err = fmt.Errorf("bbolt.Open: %w", err)
		return
	}
	self.db = db
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, k := range [][]byte{sectorKey, pointerKey, metaKey} {
			if _, err := tx.CreateBucketIfNotExists(k); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaKey)
		gb := meta.Get(geometryKey)
		if gb == nil {
			g = config.Geometry
			gb, err := device.EncodeGeometry(g)
			if err != nil {
				return err
			}
			return meta.Put(geometryKey, gb)
		}
		var err error
		if g, err = device.DecodeGeometry(gb); err != nil {
			return err
		}
		pointers = make([]uint64, g.ZoneCount)
		return tx.Bucket(pointerKey).ForEach(func(k, v []byte) error {
			z := util.BytesUint64(k)
			if z < g.ZoneCount {
				pointers[z] = util.BytesUint64(v)
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return
	}
	mlog.Printf2("device/bolt/bolt", "Open %s %+v", config.Path, g)
	return
}

func (self *boltStore) GetSector(lba uint64) (v []byte, err error) {
	err = self.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sectorKey).Get(util.Uint64Bytes(lba))
		if b != nil {
			v = append([]byte(nil), b...)
		}
		return nil
	})
	return
}

func (self *boltStore) PutSector(lba uint64, data []byte) error {
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sectorKey).Put(util.Uint64Bytes(lba), data)
	})
}

func (self *boltStore) SetPointer(z, wp uint64) error {
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pointerKey).Put(util.Uint64Bytes(z), util.Uint64Bytes(wp))
	})
}

func (self *boltStore) EraseZone(z, first, end uint64) error {
	mlog.Printf2("device/bolt/bolt", "EraseZone %d [%d, %d)", z, first, end)
	return self.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sectorKey)
		for lba := first; lba < end; lba++ {
			if err := b.Delete(util.Uint64Bytes(lba)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *boltStore) Close() error {
	return self.db.Close()
}
