/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 12 11:30:10 2018 mstenber
 * Last modified: Fri Apr 13 16:44:51 2018 mstenber
 * Edit time:     22 min
 *
 */

package zone

import (
	"errors"
	"testing"

	"github.com/stvp/assert"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for _, g := range []Geometry{
		{ZoneCount: 4, ZoneSize: 8, ZoneCapacity: 8, SectorSize: 4096},
		{ZoneCount: 7, ZoneSize: 13, ZoneCapacity: 10, SectorSize: 512},
		{ZoneCount: 1, ZoneSize: 1, ZoneCapacity: 1, SectorSize: 512},
	} {
		for z := uint64(0); z < g.ZoneCount; z++ {
			for s := uint64(0); s < g.ZoneSize; s++ {
				assert.Equal(t, g.ToPosition(g.ToLBA(z, s)), Position{z, s})
			}
		}
		for lba := uint64(0); lba < g.Sectors(); lba++ {
			p := g.ToPosition(lba)
			assert.Equal(t, g.ToLBA(p.Zone, p.Sector), lba)
		}
		assert.True(t, !g.ContainsLBA(g.Sectors()))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	g := Geometry{ZoneCount: 4, ZoneSize: 8, ZoneCapacity: 8, SectorSize: 4096}
	assert.Nil(t, g.Validate())
	g.ZoneCapacity = 9
	assert.True(t, errors.Is(g.Validate(), ErrGeometry))
	g.ZoneCapacity = 8
	g.SectorSize = 0
	assert.True(t, errors.Is(g.Validate(), ErrGeometry))
}

func TestLayout(t *testing.T) {
	t.Parallel()
	_, err := NewLayout(Geometry{ZoneCount: 3, ZoneSize: 8, ZoneCapacity: 8, SectorSize: 4096})
	assert.True(t, errors.Is(err, ErrGeometry))

	l, err := NewLayout(Geometry{ZoneCount: 4, ZoneSize: 8, ZoneCapacity: 8, SectorSize: 4096})
	assert.Nil(t, err)
	assert.Equal(t, l.Random, Region{2, 3})
	assert.Equal(t, l.Log, Region{3, 4})

	l, err = NewLayout(Geometry{ZoneCount: 14, ZoneSize: 8, ZoneCapacity: 6, SectorSize: 4096})
	assert.Nil(t, err)
	assert.Equal(t, l.Random, Region{2, 5})
	assert.Equal(t, l.Log, Region{5, 14})
	assert.Equal(t, l.Capacity(l.Random), uint64(18))

	// capacity tail is skipped
	lba := l.ToLBA(2, 5)
	assert.Equal(t, l.Next(l.Random, lba), l.ToLBA(3, 0))
	assert.True(t, !l.Contains(l.Random, l.ToLBA(2, 6)))
	assert.Equal(t, l.Next(l.Random, l.ToLBA(4, 5)), l.RegionEnd(l.Random))
	assert.Equal(t, l.RegionEnd(l.Random), l.RegionStart(l.Log))
}
