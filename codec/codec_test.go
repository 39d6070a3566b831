/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 17:15:30 2017 mstenber
 * Last modified: Mon Apr 16 13:30:08 2018 mstenber
 * Edit time:     71 min
 *
 */

package codec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"testing"

	"github.com/stvp/assert"
)

var compressible = bytes.Repeat([]byte("123456789"), 455)

var lba = []byte{0, 0, 0, 0, 0, 0, 0, 42}

func ProdCodecOnce(p []byte, c Codec, t *testing.T) {
	enc, err := c.EncodeBytes(p, lba)
	assert.Nil(t, err)
	dec, err := c.DecodeBytes(enc, lba)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(p, dec))
}

func ProdCodec(c Codec, t *testing.T) {
	ProdCodecOnce([]byte("foo"), c, t)
	ProdCodecOnce(compressible, c, t)
	ProdCodecOnce(make([]byte, 4096), c, t)
}

func newEncrypting(t testing.TB) *EncryptingCodec {
	c, err := EncryptingCodec{}.Init([]byte("foo"), []byte("salt"), 64)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestEncryptingCodec(t *testing.T) {
	t.Parallel()
	p := []byte("data")
	ad := []byte("ad")

	c := newEncrypting(t)
	ProdCodec(c, t)

	enc, err := c.EncodeBytes(p, nil)
	assert.Nil(t, err)

	// wrong additional data (= wrong LBA) must not decrypt
	_, err2 := c.DecodeBytes(enc, ad)
	assert.True(t, err2 != nil)

	// same payload does not encrypt the same way
	enc2, err := c.EncodeBytes(p, nil)
	assert.Nil(t, err)
	assert.NotEqual(t, enc, enc2)

	dec, err := c.DecodeBytes(enc2, nil)
	assert.Nil(t, err)
	assert.Equal(t, p, dec)
}

func TestCompressingCodec(t *testing.T) {
	t.Parallel()
	for _, ct := range []CompressionType{CompressionType_SNAPPY, CompressionType_LZ4, CompressionType_ZSTD} {
		c := &CompressingCodec{Type: ct}
		t.Run(fmt.Sprintf("type%d", ct), func(t *testing.T) {
			ProdCodec(c, t)
			enc, err := c.EncodeBytes(compressible, nil)
			assert.Nil(t, err)
			assert.True(t, len(enc) < len(compressible)/4)

			// random data does not compress -> stored plain
			p := make([]byte, 512)
			rand.Read(p)
			enc, err = c.EncodeBytes(p, nil)
			assert.Nil(t, err)
			var cd CompressedData
			_, err = cd.UnmarshalMsg(enc)
			assert.Nil(t, err)
			assert.Equal(t, cd.CompressionType, CompressionType_PLAIN)
		})
	}
}

func TestEnvelopes(t *testing.T) {
	t.Parallel()
	ed := EncryptedData{Nonce: []byte("nonce"), EncryptedData: []byte("secret")}
	b, err := ed.MarshalMsg(nil)
	assert.Nil(t, err)
	var ed2 EncryptedData
	rest, err := ed2.UnmarshalMsg(b)
	assert.Nil(t, err)
	assert.Equal(t, len(rest), 0)
	assert.Equal(t, ed2, ed)

	cd := CompressedData{CompressionType: CompressionType_ZSTD, Size: 4096, RawData: []byte("z")}
	b, err = cd.MarshalMsg(nil)
	assert.Nil(t, err)
	var cd2 CompressedData
	_, err = cd2.UnmarshalMsg(b)
	assert.Nil(t, err)
	assert.Equal(t, cd2, cd)

	// a compressed envelope is not a valid encrypted one
	_, err = ed2.UnmarshalMsg(b)
	assert.NotEqual(t, err, nil)
	// nor is a truncated one
	_, err = cd2.UnmarshalMsg(b[:len(b)-1])
	assert.NotEqual(t, err, nil)
}

func TestParseCompressionType(t *testing.T) {
	t.Parallel()
	ct, err := ParseCompressionType("LZ4")
	assert.Nil(t, err)
	assert.Equal(t, ct, CompressionType_LZ4)
	_, err = ParseCompressionType("brotli")
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestChecksummingCodec(t *testing.T) {
	t.Parallel()
	for _, ct := range []ChecksumType{ChecksumType_BLAKE3, ChecksumType_SHA256} {
		c := &ChecksummingCodec{Type: ct}
		ProdCodec(c, t)

		enc, err := c.EncodeBytes([]byte("sector"), lba)
		assert.Nil(t, err)
		_, err = c.DecodeBytes(enc, []byte("elsewhere"))
		assert.True(t, errors.Is(err, ErrChecksum))

		var sd ChecksummedData
		_, err = sd.UnmarshalMsg(enc)
		assert.Nil(t, err)
		sd.Data[0] ^= 1
		enc, err = sd.MarshalMsg(nil)
		assert.Nil(t, err)
		_, err = c.DecodeBytes(enc, lba)
		assert.True(t, errors.Is(err, ErrChecksum))
	}
}

func TestNopCodecChain(t *testing.T) {
	t.Parallel()
	c := &CodecChain{}
	ProdCodec(c, t)
	assert.Equal(t, c.Len(), 0)
}

func TestCodecChain(t *testing.T) {
	t.Parallel()
	c1 := newEncrypting(t)
	c2 := &CompressingCodec{Type: CompressionType_SNAPPY}
	c3 := &ChecksummingCodec{}
	c := CodecChain{}.Init(c3, c1, c2)
	ProdCodec(c, t)

	enc, err := c.EncodeBytes(compressible, lba)
	assert.Nil(t, err)
	assert.True(t, len(enc) < len(compressible))
}

func BenchmarkCodec(b *testing.B) {
	run := func(b *testing.B, c Codec, p []byte) {
		b.SetBytes(int64(len(p)))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			enc, err := c.EncodeBytes(p, lba)
			if err != nil || enc == nil {
				log.Panic(err)
			}
		}
	}
	random := make([]byte, 4096)
	rand.Read(random)
	add := func(c Codec, prefix string) {
		b.Run(fmt.Sprintf("Encode-%s-Random", prefix), func(b *testing.B) {
			run(b, c, random)
		})
		b.Run(fmt.Sprintf("Encode-%s-Zeros", prefix), func(b *testing.B) {
			run(b, c, make([]byte, 4096))
		})
	}
	c1 := newEncrypting(b)
	add(c1, "AES")
	add(&CompressingCodec{Type: CompressionType_SNAPPY}, "Snappy")
	add(&CompressingCodec{Type: CompressionType_LZ4}, "LZ4")
	add(&CompressingCodec{Type: CompressionType_ZSTD}, "ZSTD")
	add(&ChecksummingCodec{}, "BLAKE3")
}
