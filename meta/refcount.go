/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 21 14:12:39 2018 mstenber
 * Last modified: Mon Apr 23 16:02:58 2018 mstenber
 * Edit time:     27 min
 *
 */

package meta

import (
	"github.com/fingon/go-zlfs/mlog"
	"github.com/fingon/go-zlfs/util"
)

// RefCountMap tracks outstanding lookups per inode. Increment of a
// known inode only needs the read lock as the counter itself is
// atomic.
type RefCountMap struct {
	lock util.RWMutexLocked
	m    map[uint64]*util.AtomicInt
}

func NewRefCountMap() *RefCountMap {
	return &RefCountMap{m: make(map[uint64]*util.AtomicInt)}
}

func (self *RefCountMap) increment(ino uint64) bool {
	defer self.lock.RLocked()()
	c, ok := self.m[ino]
	if ok {
		c.Add(1)
	}
	return ok
}

func (self *RefCountMap) Increment(ino uint64) {
	if self.increment(ino) {
		return
	}
	defer self.lock.Locked()()
	c, ok := self.m[ino]
	if !ok {
		c = new(util.AtomicInt)
		self.m[ino] = c
	}
	c.Add(1)
}

// Decrement subtracts n, removing the entry when it reaches zero.
func (self *RefCountMap) Decrement(ino uint64, n int64) {
	defer self.lock.Locked()()
	c, ok := self.m[ino]
	if !ok {
		mlog.Panicf("meta/refcount", "decrement of unknown inode %d", ino)
		return
	}
	v, clamped := c.SubClamped(n)
	if clamped {
		mlog.Panicf("meta/refcount", "inode %d decremented below zero by %d", ino, n)
	}
	if v == 0 {
		delete(self.m, ino)
	}
}

func (self *RefCountMap) Get(ino uint64) (int64, bool) {
	defer self.lock.RLocked()()
	c, ok := self.m[ino]
	if !ok {
		return 0, false
	}
	return c.Get(), true
}

func (self *RefCountMap) Len() int {
	defer self.lock.RLocked()()
	return len(self.m)
}
