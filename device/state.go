/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Apr 15 12:01:44 2018 mstenber
 * Last modified: Tue Apr 17 10:30:19 2018 mstenber
 * Edit time:     19 min
 *
 */

package device

import (
	"github.com/ugorji/go/codec"

	"github.com/fingon/go-zlfs/zone"
)

// State is the persisted shape of a device apart from its sectors.
type State struct {
	Geometry zone.Geometry `codec:"geometry"`
	Pointers []uint64      `codec:"pointers"`
}

var cborHandle codec.CborHandle

func (self *State) Encode() ([]byte, error) {
	var b []byte
	err := codec.NewEncoderBytes(&b, &cborHandle).Encode(self)
	return b, err
}

func (self *State) Decode(b []byte) error {
	return codec.NewDecoderBytes(b, &cborHandle).Decode(self)
}

// Geometry-only helpers for stores keeping pointers separately.

func EncodeGeometry(g zone.Geometry) ([]byte, error) {
	s := State{Geometry: g}
	return s.Encode()
}

func DecodeGeometry(b []byte) (zone.Geometry, error) {
	var s State
	err := s.Decode(b)
	return s.Geometry, err
}
