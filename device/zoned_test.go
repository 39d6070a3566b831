/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sun Apr 15 14:12:50 2018 mstenber
 * Last modified: Wed Apr 18 11:50:31 2018 mstenber
 * Edit time:     41 min
 *
 */

package device_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-zlfs/codec"
	"github.com/fingon/go-zlfs/device"
	"github.com/fingon/go-zlfs/device/inmemory"
	"github.com/fingon/go-zlfs/zone"
)

var geometry = zone.Geometry{ZoneCount: 4, ZoneSize: 8, ZoneCapacity: 6, SectorSize: 512}

func newDevice(t *testing.T) *device.Zoned {
	dev, err := inmemory.New(geometry)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func TestAppendSequence(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	defer dev.Close()
	for i := uint64(0); i < geometry.ZoneCapacity; i++ {
		s, err := dev.Append(2, 0, []byte{byte(i)})
		assert.Nil(t, err)
		assert.Equal(t, s, i)
	}
	_, err := dev.Append(2, 0, []byte{1})
	assert.True(t, errors.Is(err, device.ErrZoneFull))

	// other zones unaffected
	s, err := dev.Append(3, 0, []byte{1})
	assert.Nil(t, err)
	assert.Equal(t, s, uint64(0))

	buf := make([]byte, 1)
	for i := uint64(0); i < geometry.ZoneCapacity; i++ {
		assert.Nil(t, dev.Read(2, i, 0, buf))
		assert.Equal(t, buf[0], byte(i))
	}
}

func TestReadUnwritten(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	defer dev.Close()
	buf := make([]byte, 16)
	err := dev.Read(0, 0, 0, buf)
	assert.True(t, errors.Is(err, device.ErrUnwritten))
	err = dev.Read(4, 0, 0, buf)
	assert.True(t, errors.Is(err, device.ErrOutOfRange))
	_, err = dev.Append(0, 0, nil)
	assert.True(t, errors.Is(err, device.ErrEmpty))
}

func TestSpanningAppend(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	defer dev.Close()
	data := bytes.Repeat([]byte("x"), 600)
	s, err := dev.Append(1, 100, data)
	assert.Nil(t, err)
	assert.Equal(t, s, uint64(0))
	wp, err := dev.WritePointer(1)
	assert.Nil(t, err)
	assert.Equal(t, wp, uint64(2))

	buf := make([]byte, 700)
	assert.Nil(t, dev.Read(1, 0, 0, buf))
	assert.Equal(t, buf[:100], make([]byte, 100))
	assert.Equal(t, buf[100:], data)

	// offset beyond the first sector
	buf = make([]byte, 10)
	assert.Nil(t, dev.Read(1, 0, 600, buf))
	assert.Equal(t, buf, data[500:510])
}

func TestReset(t *testing.T) {
	t.Parallel()
	dev := newDevice(t)
	defer dev.Close()
	_, err := dev.Append(1, 0, []byte{1})
	assert.Nil(t, err)
	assert.Nil(t, dev.Reset(1))
	err = dev.Read(1, 0, 0, make([]byte, 1))
	assert.True(t, errors.Is(err, device.ErrUnwritten))
	s, err := dev.Append(1, 0, []byte{2})
	assert.Nil(t, err)
	assert.Equal(t, s, uint64(0))

	assert.Nil(t, dev.Close())
	_, err = dev.Append(1, 0, []byte{2})
	assert.True(t, errors.Is(err, device.ErrClosed))
}

func TestCodecStore(t *testing.T) {
	t.Parallel()
	c := codec.CodecChain{}.Init(&codec.ChecksummingCodec{},
		&codec.CompressingCodec{Type: codec.CompressionType_SNAPPY})
	store := &device.CodecStore{Store: inmemory.NewInMemoryStore(), Codec: c}
	dev, err := device.NewZoned(store, device.Config{Geometry: geometry})
	assert.Nil(t, err)
	defer dev.Close()
	data := bytes.Repeat([]byte("abc"), 100)
	_, err = dev.Append(2, 0, data)
	assert.Nil(t, err)

	raw, err := store.Store.GetSector(geometry.ToLBA(2, 0))
	assert.Nil(t, err)
	assert.True(t, len(raw) < int(geometry.SectorSize))

	buf := make([]byte, len(data))
	assert.Nil(t, dev.Read(2, 0, 0, buf))
	assert.Equal(t, buf, data)
}

func TestBadGeometry(t *testing.T) {
	t.Parallel()
	_, err := inmemory.New(zone.Geometry{ZoneCount: 4, ZoneSize: 8, ZoneCapacity: 9, SectorSize: 512})
	assert.True(t, errors.Is(err, zone.ErrGeometry))
}
