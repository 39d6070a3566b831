/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr 30 11:02:58 2018 mstenber
 * Last modified: Wed May  2 09:14:20 2018 mstenber
 * Edit time:     9 min
 *
 */

package kernel

import "errors"

var ErrCursorEnd = errors.New("lba cursor past end")

// Cursor is a bounds-checked walk over the descriptor LBAs.
type Cursor struct {
	lbas  []uint64
	index int
}

// Valid reports whether the cursor points at an LBA.
func (self *Cursor) Valid() bool {
	return self.index < len(self.lbas)
}

// LBA returns the current LBA; past the end it fails instead.
func (self *Cursor) LBA() (uint64, error) {
	if !self.Valid() {
		return 0, ErrCursorEnd
	}
	return self.lbas[self.index], nil
}

// Next advances, and reports whether the cursor is still valid.
func (self *Cursor) Next() bool {
	if self.index < len(self.lbas) {
		self.index++
	}
	return self.Valid()
}

func (self *Cursor) Remaining() int {
	return len(self.lbas) - self.index
}
