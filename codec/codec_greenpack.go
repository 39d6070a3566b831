/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:58 2017 mstenber
 * Last modified: Mon Apr 16 13:02:11 2018 mstenber
 * Edit time:     37 min
 *
 */

package codec

import (
	"fmt"
	"strings"

	"github.com/glycerine/greenpack/msgp"
)

/////////////////////////////////////////////////////////////////////////////

// Codec layer

// The envelopes are small fixed msgpack arrays; the encoders below
// are written by hand on top of the msgp runtime rather than
// generated.

type EncryptedData struct {
	// nonce used for AES GCM
	Nonce []byte `zid:"0"`

	// EncryptedData is AES GCM encrypted payload
	EncryptedData []byte `zid:"1"`
}

type CompressionType byte

const (
	CompressionType_UNSET CompressionType = iota

	// The data has not been compressed.
	CompressionType_PLAIN

	CompressionType_SNAPPY

	CompressionType_LZ4

	CompressionType_ZSTD
)

var compressionNames = map[string]CompressionType{
	"":       CompressionType_UNSET,
	"none":   CompressionType_PLAIN,
	"plain":  CompressionType_PLAIN,
	"snappy": CompressionType_SNAPPY,
	"lz4":    CompressionType_LZ4,
	"zstd":   CompressionType_ZSTD,
}

func ParseCompressionType(s string) (CompressionType, error) {
	ct, ok := compressionNames[strings.ToLower(s)]
	if !ok {
		return CompressionType_UNSET, fmt.Errorf("%w: compression %q", ErrUnknownType, s)
	}
	return ct, nil
}

type CompressedData struct {
	// CompressionType describes how the data has been compressed.
	CompressionType CompressionType `zid:"0"`

	// Size is the uncompressed size
	Size uint64 `zid:"1"`

	// RawData is the raw data of the client (whatever it is)
	RawData []byte `zid:"2"`
}

type ChecksumType byte

const (
	ChecksumType_UNSET ChecksumType = iota
	ChecksumType_BLAKE3
	ChecksumType_SHA256
)

type ChecksummedData struct {
	ChecksumType ChecksumType `zid:"0"`
	Sum          []byte       `zid:"1"`
	Data         []byte       `zid:"2"`
}

// nbs is the greenpack reader; a nil stack decodes without nil-bit
// tracking.
var nbs *msgp.NilBitsStack

func readHeader(bts []byte, want uint32) (o []byte, err error) {
	var sz uint32
	sz, o, err = nbs.ReadArrayHeaderBytes(bts)
	if err != nil {
		return
	}
	if sz != want {
		err = fmt.Errorf("envelope: want %d fields, got %d", want, sz)
	}
	return
}

func (z *EncryptedData) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendArrayHeader(b, 2)
	o = msgp.AppendBytes(o, z.Nonce)
	o = msgp.AppendBytes(o, z.EncryptedData)
	return
}

func (z *EncryptedData) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if o, err = readHeader(bts, 2); err != nil {
		return
	}
	if z.Nonce, o, err = nbs.ReadBytesBytes(o, nil); err != nil {
		return
	}
	z.EncryptedData, o, err = nbs.ReadBytesBytes(o, nil)
	return
}

func (z *CompressedData) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendArrayHeader(b, 3)
	o = msgp.AppendUint8(o, uint8(z.CompressionType))
	o = msgp.AppendUint64(o, z.Size)
	o = msgp.AppendBytes(o, z.RawData)
	return
}

func (z *CompressedData) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if o, err = readHeader(bts, 3); err != nil {
		return
	}
	var ct uint8
	if ct, o, err = nbs.ReadUint8Bytes(o); err != nil {
		return
	}
	z.CompressionType = CompressionType(ct)
	if z.Size, o, err = nbs.ReadUint64Bytes(o); err != nil {
		return
	}
	z.RawData, o, err = nbs.ReadBytesBytes(o, nil)
	return
}

func (z *ChecksummedData) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendArrayHeader(b, 3)
	o = msgp.AppendUint8(o, uint8(z.ChecksumType))
	o = msgp.AppendBytes(o, z.Sum)
	o = msgp.AppendBytes(o, z.Data)
	return
}

func (z *ChecksummedData) UnmarshalMsg(bts []byte) (o []byte, err error) {
	if o, err = readHeader(bts, 3); err != nil {
		return
	}
	var ct uint8
	if ct, o, err = nbs.ReadUint8Bytes(o); err != nil {
		return
	}
	z.ChecksumType = ChecksumType(ct)
	if z.Sum, o, err = nbs.ReadBytesBytes(o, nil); err != nil {
		return
	}
	z.Data, o, err = nbs.ReadBytesBytes(o, nil)
	return
}
