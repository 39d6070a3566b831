/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Jan  4 12:21:40 2018 mstenber
 * Last modified: Mon Apr  9 10:12:31 2018 mstenber
 * Edit time:     31 min
 *
 */

package util

import "sync"

// MutexLocked is sync.Mutex with convenience features (just defer
// x.Locked()()).
type MutexLocked struct {
	sync.Mutex
}

func (self *MutexLocked) Locked() (unlock func()) {
	self.Lock()
	return self.Unlock
}

// RWMutexLocked is sync.RWMutex with the same convenience. The
// underlying lock is writer-preferring (a blocked Lock call keeps new
// readers out) and must not be acquired recursively.
type RWMutexLocked struct {
	sync.RWMutex
}

func (self *RWMutexLocked) Locked() (unlock func()) {
	self.Lock()
	return self.Unlock
}

func (self *RWMutexLocked) RLocked() (unlock func()) {
	self.RLock()
	return self.RUnlock
}
