/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:12 2017 mstenber
 * Last modified: Mon Apr 16 13:21:40 2018 mstenber
 * Edit time:     131 min
 *
 */

// codec library is responsible for transforming sector images +
// additionalData (the sector LBA) to their stored form. This means in
// practise compressing, encrypting or checksumming, on
// case-by-case basis.
//
// CodecChain makes it possible to combine multiple Codecs that do the
// particular sub-EncodeBytes/DecodeBytes steps.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/sha256-simd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/pbkdf2"
)

var ErrChecksum = errors.New("checksum mismatch")
var ErrUnknownType = errors.New("unknown codec type")

// Codec
//
// Single transformation of byte slices.
type Codec interface {
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
}

// EncryptingCodec
//
// AES GCM based encrypting/decrypting (+authenticating) Codec.
type EncryptingCodec struct {
	gcm cipher.AEAD
}

func (self EncryptingCodec) Init(password, salt []byte, iter int) (*EncryptingCodec, error) {
	mk := pbkdf2.Key(password, salt, iter, 32, sha256.New)
	block, err := aes.NewCipher(mk)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	self.gcm = gcm
	return &self, nil
}

func (self *EncryptingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var ed EncryptedData
	_, err = ed.UnmarshalMsg(data)
	if err != nil {
		return
	}
	ret, err = self.gcm.Open(nil, ed.Nonce, ed.EncryptedData, additionalData)
	return
}

func (self *EncryptingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	nonce := make([]byte, self.gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return
	}
	ciphertext := self.gcm.Seal(nil, nonce, data, additionalData)
	ed := EncryptedData{Nonce: nonce, EncryptedData: ciphertext}
	ret, err = ed.MarshalMsg(nil)
	return
}

// CompressingCodec
//
// On-the-fly compressing Codec. If the result does not improve, the
// result is marked to be plaintext and passed as-is.
type CompressingCodec struct {
	Type CompressionType

	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
}

func (self *CompressingCodec) initZstd() error {
	self.zstdOnce.Do(func() {
		self.zstdEnc, self.zstdErr = zstd.NewWriter(nil)
		if self.zstdErr != nil {
			return
		}
		self.zstdDec, self.zstdErr = zstd.NewReader(nil)
	})
	return self.zstdErr
}

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var cd CompressedData
	_, err = cd.UnmarshalMsg(data)
	if err != nil {
		return
	}
	switch cd.CompressionType {
	case CompressionType_PLAIN:
		ret = cd.RawData
	case CompressionType_SNAPPY:
		ret, err = snappy.Decode(nil, cd.RawData)
	case CompressionType_LZ4:
		ret = make([]byte, cd.Size)
		var n int
		n, err = lz4.UncompressBlock(cd.RawData, ret)
		if err == nil {
			ret = ret[:n]
		}
	case CompressionType_ZSTD:
		if err = self.initZstd(); err != nil {
			return
		}
		ret, err = self.zstdDec.DecodeAll(cd.RawData, make([]byte, 0, cd.Size))
	default:
		err = fmt.Errorf("%w: compression %d", ErrUnknownType, cd.CompressionType)
	}
	return
}

func (self *CompressingCodec) compress(data []byte) (rd []byte, err error) {
	switch self.Type {
	case CompressionType_SNAPPY:
		rd = snappy.Encode(nil, data)
	case CompressionType_LZ4:
		rd = make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, rd, nil)
		rd = rd[:n]
	case CompressionType_ZSTD:
		if err = self.initZstd(); err != nil {
			return
		}
		rd = self.zstdEnc.EncodeAll(data, nil)
	case CompressionType_PLAIN, CompressionType_UNSET:
	default:
		err = fmt.Errorf("%w: compression %d", ErrUnknownType, self.Type)
	}
	return
}

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	rd, err := self.compress(data)
	if err != nil {
		return
	}
	ct := self.Type
	if len(rd) == 0 || len(rd) >= len(data) {
		ct = CompressionType_PLAIN
		rd = data
	}
	cd := CompressedData{CompressionType: ct, Size: uint64(len(data)), RawData: rd}
	ret, err = cd.MarshalMsg(nil)
	return
}

// ChecksummingCodec
//
// Detects silent corruption of stored images. The sum covers the
// additional data too, so an image read back from the wrong LBA fails
// verification as well.
type ChecksummingCodec struct {
	Type ChecksumType
}

func (self *ChecksummingCodec) hasher() (hash.Hash, error) {
	switch self.Type {
	case ChecksumType_BLAKE3, ChecksumType_UNSET:
		return blake3.New(), nil
	case ChecksumType_SHA256:
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("%w: checksum %d", ErrUnknownType, self.Type)
}

func (self *ChecksummingCodec) sum(data, additionalData []byte) ([]byte, error) {
	h, err := self.hasher()
	if err != nil {
		return nil, err
	}
	h.Write(additionalData)
	h.Write(data)
	return h.Sum(nil), nil
}

func (self *ChecksummingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var sd ChecksummedData
	_, err = sd.UnmarshalMsg(data)
	if err != nil {
		return
	}
	check := ChecksummingCodec{Type: sd.ChecksumType}
	sum, err := check.sum(sd.Data, additionalData)
	if err != nil {
		return
	}
	if !bytes.Equal(sum, sd.Sum) {
		return nil, ErrChecksum
	}
	ret = sd.Data
	return
}

func (self *ChecksummingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	sum, err := self.sum(data, additionalData)
	if err != nil {
		return
	}
	ct := self.Type
	if ct == ChecksumType_UNSET {
		ct = ChecksumType_BLAKE3
	}
	sd := ChecksummedData{ChecksumType: ct, Sum: sum, Data: data}
	ret, err = sd.MarshalMsg(nil)
	return
}

type CodecChain struct {
	codecs, reverseCodecs []Codec
}

// Init method initializes the codec chain.
//
// codecs are given in decoding order, so e.g. the encrypting one
// should be given before the compressing one.
func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	rc := make([]Codec, len(codecs))
	for i, c := range codecs {
		rc[len(codecs)-i-1] = c
	}
	self.reverseCodecs = rc
	return &self
}

func (self *CodecChain) Len() int {
	return len(self.codecs)
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverseCodecs {
		ret, err = c.EncodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}
