/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr 14 09:12:40 2018 mstenber
 * Last modified: Fri May 11 10:02:16 2018 mstenber
 * Edit time:     6 min
 *
 */

// zlfs is a log-structured filesystem for zoned block devices, with
// computational storage offload: small sandboxed kernels run over a
// snapshot of a file's sectors on the device side instead of the data
// being shipped to the host.
//
// Layout of the code:
//
// - zone: geometry, LBA translation and on-device region layout
//
// - device: the zoned device contract, and stores backing it
// (inmemory, file, bolt, badger) with optional codecs (compression,
// encryption, checksums)
//
// - disk: fixed on-disk records (superblock, checkpoint, NAT, inode
// and data blocks)
//
// - meta: in-memory inode entries, locations and reference counts
//
// - snapshot: isolated views of files and kernels for offload
//
// - kernel: host/kernel ABI, capabilities, executor and built-in
// programs
//
// - fs: mount protocol, checkpoints, random and log regions, data path
// and offload
//
// - cmd/zlfs: mkfs, check, inspect and exec
package zlfs
