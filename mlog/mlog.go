/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 30 13:41:33 2017 mstenber
 * Last modified: Wed Apr 11 14:03:55 2018 mstenber
 * Edit time:     121 min
 *
 */

// mlog is maybe-log. It is a small wrapper of the standard 'log'
// package that only prints what has been asked for:
//
// - environment-variable-based (MLOG) and 'flag' (-mlog) regular
// expression chooses which file tags are printed; what is not printed
// costs a single atomic load
//
// - Panicf is used for invariant violations; it panics when Debug is
// set, and otherwise logs unconditionally so that the caller can
// clamp and carry on
package mlog

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
)

var logMode = log.Ltime | log.Lmicroseconds
var logger = log.New(os.Stderr, "", logMode)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

var status = stateUninitialized

// Debug makes Panicf actually panic. Release builds flip it off via
// the ZLFS_RELEASE environment variable.
var Debug = os.Getenv("ZLFS_RELEASE") == ""

var mutex sync.Mutex

// Everything below must be used only with mutex held
var flagPattern *string
var pattern string
var patternRegexp *regexp.Regexp
var tag2Debug map[string]bool

func init() {
	flagPattern = flag.String("mlog", "", "Enable logging based on the given file tag regular expression")
}

// Reset returns the module to its initial state; the next log call
// re-reads the environment and flag.
func Reset() {
	mutex.Lock()
	defer mutex.Unlock()
	atomic.StoreInt32(&status, stateUninitialized)
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive.
func IsEnabled() bool {
	return atomic.LoadInt32(&status) != stateDisabled
}

// SetLogger overrides the output logger. The returned undo function
// restores the previous one.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldLogger := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = oldLogger
	}
}

// SetPattern overrides the environment-provided pattern. The
// returned undo function restores the previous one.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldPattern := pattern
	setPattern(p)
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		setPattern(oldPattern)
	}
}

func setPattern(p string) {
	pattern = p
	if p == "" {
		atomic.StoreInt32(&status, stateDisabled)
		return
	}
	patternRegexp = regexp.MustCompile(p)
	tag2Debug = make(map[string]bool)
	atomic.StoreInt32(&status, stateEnabled)
}

func initialize() {
	p := os.Getenv("MLOG")
	if flagPattern != nil && *flagPattern != "" {
		p = *flagPattern
	}
	setPattern(p)
}

// Printf2 prints if the file tag matches the active pattern. Tags are
// conventionally "package/file".
func Printf2(tag string, format string, args ...interface{}) {
	if atomic.LoadInt32(&status) == stateDisabled {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	if atomic.LoadInt32(&status) == stateUninitialized {
		initialize()
		if pattern == "" {
			return
		}
	}
	debug, ok := tag2Debug[tag]
	if !ok {
		debug = patternRegexp.MatchString(tag)
		tag2Debug[tag] = debug
	}
	if debug {
		logger.Printf(format, args...)
	}
}

// Panicf reports a violated invariant.
func Panicf(tag string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if Debug {
		log.Panicf("%s: %s", tag, msg)
	}
	mutex.Lock()
	defer mutex.Unlock()
	logger.Printf("%s: invariant violated: %s", tag, msg)
}
