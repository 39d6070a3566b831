/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu May 10 11:02:19 2018 mstenber
 * Last modified: Thu May 10 12:15:40 2018 mstenber
 * Edit time:     31 min
 *
 */

// config package loads the YAML configuration shared by the zlfs
// commands: which device to open and how, and the filesystem
// options.
//
// Values missing from the file keep their Default() values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fingon/go-zlfs/codec"
	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/device/factory"
	"github.com/fingon/go-zlfs/fs"
	"github.com/fingon/go-zlfs/zone"
)

var ErrInvalid = errors.New("invalid configuration")

type DeviceConfig struct {
	Backend       string `yaml:"backend"`
	device.Config `yaml:",inline"`
}

type Config struct {
	Device DeviceConfig        `yaml:"device"`
	Codec  factory.CodecConfig `yaml:"codec"`
	Fs     fs.Options          `yaml:"fs"`
}

func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend: "file",
			Config: device.Config{
				Path: "zlfs.img",
				Geometry: zone.Geometry{ZoneCount: 16, ZoneSize: 256,
					ZoneCapacity: 256, SectorSize: 4096},
				Wait: time.Second,
			},
		},
		Fs: fs.DefaultOptions(),
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	self := Default()
	if err := yaml.Unmarshal(b, self); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := self.Validate(); err != nil {
		return nil, err
	}
	return self, nil
}

func (self *Config) Validate() error {
	known := false
	for _, name := range factory.List() {
		known = known || name == self.Device.Backend
	}
	if !known {
		return fmt.Errorf("%w: backend %q (possible: %v)",
			ErrInvalid, self.Device.Backend, factory.List())
	}
	if _, err := zone.NewLayout(self.Device.Geometry); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := codec.ParseCompressionType(self.Codec.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if self.Fs.KernelMemory < 0 || self.Fs.InodeCacheSize < 0 {
		return fmt.Errorf("%w: negative fs option", ErrInvalid)
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (self *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(self)
}

// OpenDevice opens (or creates) the configured device.
func (self *Config) OpenDevice() (*device.Zoned, error) {
	return factory.NewWithCodec(self.Device.Backend, self.Device.Config, self.Codec)
}
