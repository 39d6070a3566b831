/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr 12 09:11:02 2018 mstenber
 * Last modified: Fri Apr 13 16:40:27 2018 mstenber
 * Edit time:     74 min
 *
 */

// zone package converts between flat logical block addresses and
// (zone, sector) positions, and carves the zones of a device into the
// reserved, random (metadata) and log (data) regions.
package zone

import (
	"errors"
	"fmt"
)

var ErrGeometry = errors.New("invalid geometry")

type Geometry struct {
	ZoneCount    uint64 `yaml:"zones" json:"zones"`
	ZoneSize     uint64 `yaml:"zone_size" json:"zone_size"`
	ZoneCapacity uint64 `yaml:"zone_capacity" json:"zone_capacity"`
	SectorSize   uint64 `yaml:"sector_size" json:"sector_size"`
}

type Position struct {
	Zone, Sector uint64
}

func (self Position) String() string {
	return fmt.Sprintf("%d:%d", self.Zone, self.Sector)
}

// Validate checks the geometry is usable at all.
func (self Geometry) Validate() error {
	if self.ZoneCount == 0 || self.ZoneSize == 0 || self.SectorSize == 0 {
		return fmt.Errorf("%w: %+v", ErrGeometry, self)
	}
	if self.ZoneCapacity == 0 || self.ZoneCapacity > self.ZoneSize {
		return fmt.Errorf("%w: zone capacity %d (zone size %d)",
			ErrGeometry, self.ZoneCapacity, self.ZoneSize)
	}
	return nil
}

// Sectors is the number of addressable LBAs.
func (self Geometry) Sectors() uint64 {
	return self.ZoneCount * self.ZoneSize
}

func (self Geometry) ToPosition(lba uint64) Position {
	return Position{Zone: lba / self.ZoneSize, Sector: lba % self.ZoneSize}
}

func (self Geometry) ToLBA(zone, sector uint64) uint64 {
	return zone*self.ZoneSize + sector
}

// ContainsLBA reports whether lba is addressable at all.
func (self Geometry) ContainsLBA(lba uint64) bool {
	return lba < self.Sectors()
}

// Writable reports whether the position lies inside the writable
// capacity of its zone.
func (self Geometry) Writable(p Position) bool {
	return p.Zone < self.ZoneCount && p.Sector < self.ZoneCapacity
}
