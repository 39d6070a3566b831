/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 11:42:04 2018 mstenber
 * Last modified: Tue Apr 17 10:41:12 2018 mstenber
 * Edit time:     17 min
 *
 */

package inmemory

import (
	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/util"
	"github.com/fingon/go-zlfs/zone"
)

// inMemoryStore keeps everything in a map; it forgets everything on
// Close.
type inMemoryStore struct {
	lock    util.MutexLocked
	sectors map[uint64][]byte
}

var _ device.Store = &inMemoryStore{}

func NewInMemoryStore() device.Store {
	return &inMemoryStore{sectors: make(map[uint64][]byte)}
}

// New returns a ready in-memory device.
func New(g zone.Geometry) (*device.Zoned, error) {
	return device.NewZoned(NewInMemoryStore(), device.Config{Geometry: g})
}

func (self *inMemoryStore) Open(config device.Config) (zone.Geometry, []uint64, error) {
	return config.Geometry, nil, nil
}

func (self *inMemoryStore) GetSector(lba uint64) ([]byte, error) {
	defer self.lock.Locked()()
	return self.sectors[lba], nil
}

func (self *inMemoryStore) PutSector(lba uint64, data []byte) error {
	defer self.lock.Locked()()
	self.sectors[lba] = append([]byte(nil), data...)
	return nil
}

func (self *inMemoryStore) SetPointer(z, wp uint64) error {
	return nil
}

func (self *inMemoryStore) EraseZone(z, first, end uint64) error {
	defer self.lock.Locked()()
	for lba := first; lba < end; lba++ {
		delete(self.sectors, lba)
	}
	return nil
}

func (self *inMemoryStore) Close() error {
	defer self.lock.Locked()()
	self.sectors = make(map[uint64][]byte)
	return nil
}
