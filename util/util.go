/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 09:03:12 2017 mstenber
 * Last modified: Tue Apr 10 09:02:19 2018 mstenber
 * Edit time:     11 min
 *
 */

package util

import "encoding/binary"

func ConcatBytes(bytes ...[]byte) []byte {
	nl := 0
	for _, b := range bytes {
		nl += len(b)
	}
	r := make([]byte, 0, nl)
	for _, b := range bytes {
		r = append(r, b...)
	}
	return r
}

// Uint64Bytes is big endian so that byte-sorted keys sort
// numerically too.
func Uint64Bytes(n uint64) []byte {
	nb := make([]byte, 8)
	binary.BigEndian.PutUint64(nb, n)
	return nb
}

func BytesUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// CeilDiv returns a / b rounded up.
func CeilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}

func UMin(i uint64, ints ...uint64) uint64 {
	for _, v := range ints {
		if v < i {
			i = v
		}
	}
	return i
}

func UMax(i uint64, ints ...uint64) uint64 {
	for _, v := range ints {
		if v > i {
			i = v
		}
	}
	return i
}
