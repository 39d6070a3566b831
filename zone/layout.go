/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 12 10:02:45 2018 mstenber
 * Last modified: Fri Apr 13 16:38:02 2018 mstenber
 * Edit time:     48 min
 *
 */

package zone

import "fmt"

const (
	SuperblockZone = 0
	DirtyZone      = 1
	firstRegion    = 2

	MinZones = 4
)

// Region is a half-open zone range [Start, End).
type Region struct {
	Start, End uint64
}

func (self Region) Zones() uint64 {
	return self.End - self.Start
}

func (self Region) ContainsZone(z uint64) bool {
	return z >= self.Start && z < self.End
}

// Layout describes where everything lives on a device.
//
// - zone 0: superblock at sector 0, checkpoint records after it
// - zone 1: dirty block
// - Random: NAT blocks (inode -> lba)
// - Log: inode blocks, data sectors and data block indexes
type Layout struct {
	Geometry
	Random, Log Region
}

func NewLayout(g Geometry) (*Layout, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if g.ZoneCount < MinZones {
		return nil, fmt.Errorf("%w: need at least %d zones, got %d",
			ErrGeometry, MinZones, g.ZoneCount)
	}
	if g.ZoneCapacity < 2 {
		return nil, fmt.Errorf("%w: zone capacity %d too small", ErrGeometry, g.ZoneCapacity)
	}
	r := (g.ZoneCount - firstRegion) / 4
	if r == 0 {
		r = 1
	}
	self := &Layout{Geometry: g}
	self.Random = Region{Start: firstRegion, End: firstRegion + r}
	self.Log = Region{Start: self.Random.End, End: g.ZoneCount}
	return self, nil
}

// RegionStart is the first LBA of the region.
func (self *Layout) RegionStart(r Region) uint64 {
	return self.ToLBA(r.Start, 0)
}

// RegionEnd is the LBA just past the region; a pointer equal to it
// means the region is full.
func (self *Layout) RegionEnd(r Region) uint64 {
	return self.ToLBA(r.End, 0)
}

// Next returns the LBA following lba within region r, skipping the
// unwritable tail of each zone. The result is RegionEnd(r) once the
// region is exhausted.
func (self *Layout) Next(r Region, lba uint64) uint64 {
	p := self.ToPosition(lba)
	p.Sector++
	if p.Sector >= self.ZoneCapacity {
		p.Zone++
		p.Sector = 0
	}
	if p.Zone >= r.End {
		return self.RegionEnd(r)
	}
	return self.ToLBA(p.Zone, p.Sector)
}

// Capacity is the number of writable sectors in the region.
func (self *Layout) Capacity(r Region) uint64 {
	return r.Zones() * self.ZoneCapacity
}

// Contains reports whether lba is a writable sector of region r.
func (self *Layout) Contains(r Region, lba uint64) bool {
	p := self.ToPosition(lba)
	return r.ContainsZone(p.Zone) && p.Sector < self.ZoneCapacity
}
