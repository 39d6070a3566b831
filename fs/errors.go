/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri May  4 16:02:11 2018 mstenber
 * Last modified: Mon May  7 10:12:40 2018 mstenber
 * Edit time:     6 min
 *
 */

package fs

import "errors"

var (
	ErrNotFound         = errors.New("inode not found")
	ErrInvalidInode     = errors.New("invalid inode")
	ErrInvalidName      = errors.New("invalid name")
	ErrIsDir            = errors.New("is a directory")
	ErrNotDir           = errors.New("not a directory")
	ErrBadSuperblock    = errors.New("missing or foreign superblock")
	ErrGeometryMismatch = errors.New("superblock geometry does not match device")
	ErrDirty            = errors.New("filesystem was not unmounted cleanly")
	ErrAppendMismatch   = errors.New("append landed at unexpected sector")
	ErrRandomZoneFull   = errors.New("random zone full")
	ErrLogFull          = errors.New("log zone full")
	ErrNoSnapshot       = errors.New("no snapshot for context")
	ErrNoKernel         = errors.New("no kernel set for context")
	ErrKernel           = errors.New("kernel invocation failed")
	ErrNotMounted       = errors.New("filesystem not mounted")
)
