/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr 23 10:20:31 2018 mstenber
 * Last modified: Tue Apr 24 11:12:09 2018 mstenber
 * Edit time:     57 min
 *
 */

package meta

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-zlfs/disk"
	"github.com/fingon/go-zlfs/mlog"
)

const capacity = 4096

func entry(ino uint64, namelen int) disk.InodeEntry {
	name := make([]byte, namelen)
	for i := range name {
		name[i] = 'a'
	}
	return disk.InodeEntry{Parent: 1, Inode: ino, Type: disk.InodeType_FILE, Name: string(name)}
}

func TestEntryMapUpdate(t *testing.T) {
	t.Parallel()
	em := NewEntryMap()
	em.Update(entry(3, 1))
	e := entry(3, 2)
	e.Size = 42
	em.Update(e)
	got, ok := em.Get(3)
	assert.True(t, ok)
	assert.Equal(t, got.Size, uint64(42))
	assert.Equal(t, em.Len(), 1)
	em.Erase([]uint64{3})
	_, ok = em.Get(3)
	assert.True(t, !ok)
}

func TestFillBlock(t *testing.T) {
	t.Parallel()
	em := NewEntryMap()
	// 4 * (33 + 990 + 1) = 4096: exactly one block
	for i := uint64(2); i < 6; i++ {
		em.Update(entry(i, 990))
	}
	pending := em.Inodes()
	block, packed, full := em.FillBlock(&pending, capacity)
	assert.True(t, !full)
	assert.Equal(t, len(block), capacity)
	assert.Equal(t, packed, []uint64{2, 3, 4, 5})
	assert.Equal(t, len(pending), 0)

	entries, err := disk.UnmarshalInodeBlock(block)
	assert.Nil(t, err)
	assert.Equal(t, len(entries), 4)

	// one more does not fit
	em.Update(entry(6, 1))
	pending = em.Inodes()
	block, packed, full = em.FillBlock(&pending, capacity)
	assert.True(t, full)
	assert.Equal(t, packed, []uint64{2, 3, 4, 5})
	assert.Equal(t, pending, []uint64{6})
	entries, err = disk.UnmarshalInodeBlock(block)
	assert.Nil(t, err)
	assert.Equal(t, len(entries), 4)

	em.Erase(packed)
	block, packed, full = em.FillBlock(&pending, capacity)
	assert.True(t, !full)
	assert.Equal(t, packed, []uint64{6})
	entries, err = disk.UnmarshalInodeBlock(block)
	assert.Nil(t, err)
	assert.Equal(t, entries[0].Inode, uint64(6))
}

func TestFillBlockKeepsOrder(t *testing.T) {
	t.Parallel()
	em := NewEntryMap()
	em.Update(entry(2, 2000))
	em.Update(entry(3, 2100))
	em.Update(entry(4, 10))
	pending := em.Inodes()
	_, packed, full := em.FillBlock(&pending, capacity)
	// 4 would fit but comes after the entry that did not
	assert.True(t, full)
	assert.Equal(t, packed, []uint64{2})
	assert.Equal(t, pending, []uint64{3, 4})
}

func TestLocationMapLocks(t *testing.T) {
	t.Parallel()
	lm := NewLocationMap()
	m1 := lm.Update(2, 0, 1)
	m2 := lm.Update(2, 100, 1)
	assert.True(t, m1 == m2)
	m3 := lm.Update(3, 0, 1)
	assert.True(t, m1 != m3)

	// stable across arena growth
	for i := uint64(10); i < 10+3*arenaChunk; i++ {
		lm.Update(i, 0, 1)
	}
	assert.True(t, lm.Update(2, 5, 1) == m1)

	loc, ok := lm.Get(2)
	assert.True(t, ok)
	assert.Equal(t, loc, Location{Inode: 2, LBA: 5, Parent: 1})
	assert.Equal(t, lm.MaxInode(), uint64(9+3*arenaChunk))

	assert.Equal(t, lm.Lock(1<<20), ErrNotFound)
	assert.Equal(t, lm.Unlock(1<<20), ErrNotFound)

	// a held lock follows the inode when it moves
	assert.Nil(t, lm.Lock(3))
	lm.Update(3, 200, 1)
	lm.BulkUpdate([]uint64{3}, 300)
	assert.Nil(t, lm.Unlock(3))
	assert.True(t, m3.TryLock())
	m3.Unlock()
}

func TestLocationMapBulkUpdate(t *testing.T) {
	t.Parallel()
	lm := NewLocationMap()
	lm.Update(2, 0, 1)
	lm.Update(3, 0, 2)
	lm.BulkUpdate([]uint64{2, 3, 4}, 77)
	for _, ino := range []uint64{2, 3, 4} {
		loc, ok := lm.Get(ino)
		assert.True(t, ok)
		assert.Equal(t, loc.LBA, uint64(77))
	}
	loc, _ := lm.Get(3)
	assert.Equal(t, loc.Parent, uint64(2))
	assert.Equal(t, len(lm.Flushed()), 3)

	panicked := false
	func() {
		defer func() { panicked = recover() != nil }()
		lm.BulkUpdate([]uint64{1}, 78)
	}()
	assert.True(t, panicked)
	_, ok := lm.Get(1)
	assert.True(t, !ok)
}

func TestLocationMapLockExclusion(t *testing.T) {
	t.Parallel()
	lm := NewLocationMap()
	lm.Update(2, 0, 1)
	lm.Update(3, 0, 1)
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lm.Locked(2)
			if err != nil {
				panic(err)
			}
			defer unlock()
			counter++
		}()
	}
	// another inode's lock is independent
	assert.Nil(t, lm.Lock(3))
	wg.Wait()
	assert.Nil(t, lm.Unlock(3))
	assert.Equal(t, counter, 20)
}

func TestRefCount(t *testing.T) {
	t.Parallel()
	rc := NewRefCountMap()
	rc.Increment(5)
	rc.Increment(5)
	v, ok := rc.Get(5)
	assert.True(t, ok)
	assert.Equal(t, v, int64(2))
	rc.Decrement(5, 1)
	v, _ = rc.Get(5)
	assert.Equal(t, v, int64(1))
	rc.Decrement(5, 1)
	_, ok = rc.Get(5)
	assert.True(t, !ok)
	assert.Equal(t, rc.Len(), 0)
}

func TestRefCountConcurrent(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ n, m int }{{100, 0}, {100, 40}, {100, 100}, {1, 1}} {
		t.Run(fmt.Sprintf("%d-%d", tc.n, tc.m), func(t *testing.T) {
			rc := NewRefCountMap()
			var wg sync.WaitGroup
			inodes := []uint64{7, 8, 9}
			for _, ino := range inodes {
				for i := 0; i < tc.n; i++ {
					wg.Add(1)
					go func(ino uint64) {
						defer wg.Done()
						rc.Increment(ino)
					}(ino)
				}
			}
			wg.Wait()
			for _, ino := range inodes {
				for i := 0; i < tc.m; i++ {
					wg.Add(1)
					go func(ino uint64) {
						defer wg.Done()
						rc.Decrement(ino, 1)
					}(ino)
				}
				// increments racing the decrements
				for i := 0; i < tc.n; i++ {
					wg.Add(1)
					go func(ino uint64) {
						defer wg.Done()
						rc.Increment(ino)
					}(ino)
				}
			}
			wg.Wait()
			for _, ino := range inodes {
				v, ok := rc.Get(ino)
				assert.True(t, ok)
				assert.Equal(t, v, int64(2*tc.n-tc.m))
			}
			for _, ino := range inodes {
				rc.Decrement(ino, int64(2*tc.n-tc.m))
				_, ok := rc.Get(ino)
				assert.True(t, !ok)
			}
		})
	}
}

func TestRefCountClamp(t *testing.T) {
	old := mlog.Debug
	mlog.Debug = false
	defer func() { mlog.Debug = old }()

	rc := NewRefCountMap()
	rc.Decrement(5, 1)
	_, ok := rc.Get(5)
	assert.True(t, !ok)

	rc.Increment(5)
	rc.Decrement(5, 3)
	_, ok = rc.Get(5)
	assert.True(t, !ok)
}
