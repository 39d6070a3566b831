/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 14:31:18 2017 mstenber
 * Last modified: Wed Apr 11 14:10:28 2018 mstenber
 * Edit time:     27 min
 *
 */

package mlog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stvp/assert"
)

func TestMlog(t *testing.T) {
	add := func(pattern string, outputted bool) {
		t.Run(pattern, func(t *testing.T) {
			var b bytes.Buffer
			logger := log.New(&b, "", 0)
			defer SetLogger(logger)()
			defer SetPattern(pattern)()
			Printf2("fs/inode", "foo %s", "bar")
			assert.Equal(t, b.Len() > 0, outputted)
			if outputted {
				assert.Equal(t, b.String(), "foo bar\n")
			}
		})
	}
	add("", false)
	add("zzzglorb", false)
	add("fs/", true)
	add("^fs/inode$", true)
}

func TestPanicf(t *testing.T) {
	var b bytes.Buffer
	defer SetLogger(log.New(&b, "", 0))()

	old := Debug
	defer func() { Debug = old }()

	Debug = false
	Panicf("meta/refcount", "count %d", -1)
	assert.Equal(t, b.String(), "meta/refcount: invariant violated: count -1\n")

	Debug = true
	panicked := false
	func() {
		defer func() {
			panicked = recover() != nil
		}()
		Panicf("meta/refcount", "count %d", -1)
	}()
	assert.True(t, panicked)
}

func BenchmarkMlogDisabled(b *testing.B) {
	defer SetPattern("")()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Printf2("x", "y %d", 42)
	}
}

func BenchmarkMlogNotMatching(b *testing.B) {
	defer SetPattern("zzglorb")()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Printf2("x", "y %d", 42)
	}
}
