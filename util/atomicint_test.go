/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Mar 21 11:23:33 2018 mstenber
 * Last modified: Mon Apr  9 10:46:40 2018 mstenber
 * Edit time:     4 min
 *
 */

package util

import (
	"testing"

	"github.com/stvp/assert"
)

func TestAtomicInt(t *testing.T) {
	t.Parallel()
	var ai AtomicInt
	assert.Equal(t, ai.GetInt(), 0)
	assert.Equal(t, ai.AddInt(1), 1)
	assert.Equal(t, ai.Get(), int64(1))
	ai.Set(32)
	assert.Equal(t, ai.GetInt(), 32)

	v, clamped := ai.SubClamped(2)
	assert.Equal(t, v, int64(30))
	assert.True(t, !clamped)
	v, clamped = ai.SubClamped(40)
	assert.Equal(t, v, int64(0))
	assert.True(t, clamped)
}

func TestAtomicUint64(t *testing.T) {
	t.Parallel()
	var au AtomicUint64
	au.Set(2)
	assert.Equal(t, au.Next(), uint64(2))
	assert.Equal(t, au.Next(), uint64(3))
	assert.Equal(t, au.Get(), uint64(4))
}
