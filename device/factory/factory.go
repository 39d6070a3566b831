/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 12:22:52 2018 mstenber
 * Last modified: Wed Apr 18 11:02:17 2018 mstenber
 * Edit time:     47 min
 *
 */

package factory

import (
	"fmt"
	"sort"

	"github.com/fingon/go-zlfs/codec"
	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/device/badger"
	"github.com/fingon/go-zlfs/device/bolt"
	"github.com/fingon/go-zlfs/device/file"
	"github.com/fingon/go-zlfs/device/inmemory"
	"github.com/fingon/go-zlfs/mlog"
)

type factoryEntry struct {
	new func() device.Store

	// codec is set for stores that can hold variable size images
	codec bool
}

var storeFactories = map[string]factoryEntry{
	"inmemory": {inmemory.NewInMemoryStore, true},
	"file":     {file.NewFileStore, false},
	"bolt":     {bolt.NewBoltStore, true},
	"badger":   {badger.NewBadgerStore, true},
}

func List() []string {
	keys := make([]string, 0, len(storeFactories))
	for k := range storeFactories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CodecConfig selects the transformations applied to stored sector
// images.
type CodecConfig struct {
	Compression string `yaml:"compression"`
	Password    string `yaml:"password"`
	Salt        string `yaml:"salt"`
	Iterations  int    `yaml:"iterations"`
	Checksum    bool   `yaml:"checksum"`
}

func (self CodecConfig) Empty() bool {
	ct, _ := codec.ParseCompressionType(self.Compression)
	return self.Password == "" && !self.Checksum &&
		(ct == codec.CompressionType_UNSET || ct == codec.CompressionType_PLAIN)
}

// NewCodec builds the chain in decoding order: checksum, then
// decryption, then decompression.
func NewCodec(config CodecConfig) (*codec.CodecChain, error) {
	codecs := []codec.Codec{}
	if config.Checksum {
		codecs = append(codecs, &codec.ChecksummingCodec{Type: codec.ChecksumType_BLAKE3})
	}
	if config.Password != "" {
		iterations := config.Iterations
		if iterations == 0 {
			iterations = 12345
		}
		salt := config.Salt
		if salt == "" {
			salt = "zlfs"
		}
		c, err := codec.EncryptingCodec{}.Init([]byte(config.Password), []byte(salt), iterations)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	}
	ct, err := codec.ParseCompressionType(config.Compression)
	if err != nil {
		return nil, err
	}
	if ct != codec.CompressionType_UNSET && ct != codec.CompressionType_PLAIN {
		codecs = append(codecs, &codec.CompressingCodec{Type: ct})
	}
	return codec.CodecChain{}.Init(codecs...), nil
}

// New opens (or creates) the named device.
func New(name string, config device.Config) (*device.Zoned, error) {
	mlog.Printf2("device/factory/factory", "f.New %v %v", name, config.Path)
	fe, ok := storeFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (possible: %v)", name, List())
	}
	store := fe.new()
	if config.Codec != nil {
		if !fe.codec {
			return nil, fmt.Errorf("backend %q does not support codecs", name)
		}
		store = &device.CodecStore{Store: store, Codec: config.Codec}
	}
	return device.NewZoned(store, config)
}

// NewWithCodec is New with the codec chain built from cc.
func NewWithCodec(name string, config device.Config, cc CodecConfig) (*device.Zoned, error) {
	if !cc.Empty() {
		c, err := NewCodec(cc)
		if err != nil {
			return nil, err
		}
		config.Codec = c
	}
	return New(name, config)
}
