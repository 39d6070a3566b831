/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Mar 21 11:19:49 2018 mstenber
 * Last modified: Mon Apr  9 10:44:12 2018 mstenber
 * Edit time:     12 min
 *
 */

package util

import "sync/atomic"

type AtomicInt int64

func (self *AtomicInt) Get() int64 {
	i := (*int64)(self)
	return atomic.LoadInt64(i)
}

func (self *AtomicInt) GetInt() int {
	return int(self.Get())
}

// Add adds value and returns the new value.
func (self *AtomicInt) Add(value int64) int64 {
	i := (*int64)(self)
	return atomic.AddInt64(i, value)
}

func (self *AtomicInt) AddInt(value int) int {
	return int(self.Add(int64(value)))
}

func (self *AtomicInt) Set(value int64) {
	i := (*int64)(self)
	atomic.StoreInt64(i, value)
}

func (self *AtomicInt) CompareAndSwap(old, value int64) bool {
	i := (*int64)(self)
	return atomic.CompareAndSwapInt64(i, old, value)
}

// SubClamped subtracts at most the current value; the result never
// goes below zero. Returns the new value and whether clamping
// happened.
func (self *AtomicInt) SubClamped(value int64) (int64, bool) {
	for {
		old := self.Get()
		nv := old - value
		clamped := false
		if nv < 0 {
			nv = 0
			clamped = true
		}
		if self.CompareAndSwap(old, nv) {
			return nv, clamped
		}
	}
}

// AtomicUint64 is a monotonic allocation counter.
type AtomicUint64 uint64

func (self *AtomicUint64) Get() uint64 {
	return atomic.LoadUint64((*uint64)(self))
}

func (self *AtomicUint64) Set(value uint64) {
	atomic.StoreUint64((*uint64)(self), value)
}

// Next returns the current value and advances the counter by one.
func (self *AtomicUint64) Next() uint64 {
	return atomic.AddUint64((*uint64)(self), 1) - 1
}
