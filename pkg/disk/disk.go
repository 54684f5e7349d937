package disk

import (
	"fmt"

	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// FillByte is returned for reads from a sector that was never found.
const FillByte = 0xF6

// SectorID is the (C, H, R, N) tuple written in a sector's ID field. It is
// independent of where the sector sits on the track.
type SectorID struct {
	C uint8 // cylinder
	H uint8 // head
	R uint8 // sector number
	N uint8 // size code, 128 << N bytes
}

func (id SectorID) String() string {
	return fmt.Sprintf("C%02X H%02X R%02X N%02X", id.C, id.H, id.R, id.N)
}

// SectorFlags carry the per-sector status bits.
type SectorFlags uint8

const (
	SectorDeleted  SectorFlags = 1 << iota // deleted data address mark
	SectorCRCError                         // data field CRC error
	SectorNoData                           // ID field without a data field
	SectorOdd                              // size clipped to the track maximum
)

// Sector is one ID field plus its data as laid on a track.
type Sector struct {
	ID    SectorID
	Size  int // usable data length, normally 128 << ID.N
	Flags SectorFlags
	Data  []byte
}

// Deleted reports whether the sector carries a deleted data mark.
func (s *Sector) Deleted() bool { return s.Flags&SectorDeleted != 0 }

// BadCRC reports whether the sector data is recorded with a CRC error.
func (s *Sector) BadCRC() bool { return s.Flags&SectorCRCError != 0 }

// Encoding is the bit encoding of a track.
type Encoding uint8

const (
	FM Encoding = iota
	MFM
)

func (e Encoding) String() string {
	if e == MFM {
		return "MFM"
	}
	return "FM"
}

// Track is the per (cylinder, side) layout: sectors in physical slot order
// plus the timing parameters the assembly engine needs.
type Track struct {
	Cylinder int
	Side     int
	Sectors  []Sector
	Rate     geometry.Rate
	RPM360   bool
	Encoding Encoding
	Gap2     int
	Gap3     int

	// Special layouts. Order maps each physical slot to the position the
	// sector had in the image, nil for sequential tracks.
	XDF         geometry.XDFType
	Interleaved bool
	Order       []int
}

// Find returns the sector whose ID matches exactly, or nil.
func (t *Track) Find(id SectorID) *Sector {
	if t == nil {
		return nil
	}
	for i := range t.Sectors {
		if t.Sectors[i].ID == id {
			return &t.Sectors[i]
		}
	}
	return nil
}

// SideFlags builds the flags for this track.
func (t *Track) SideFlags() SideFlags {
	return MakeSideFlags(t.Rate, t.Encoding == MFM, t.RPM360)
}

// Sizes returns the data length of every sector in slot order.
func (t *Track) Sizes() []int {
	sizes := make([]int, len(t.Sectors))
	for i, s := range t.Sectors {
		sizes[i] = s.Size
	}
	return sizes
}

// Disk holds the disk-wide geometry of an attached image.
type Disk struct {
	Sides        int
	Tracks       int
	Thin         bool // 96 tpi, more than 43 tracks
	WriteProtect bool
	Flags        DiskFlags
}

// NewDisk fills in the derived fields for a disk of the given shape.
func NewDisk(tracks, sides int, hole geometry.Hole) *Disk {
	d := &Disk{
		Sides:  sides,
		Tracks: tracks,
		Thin:   tracks > 43,
	}
	d.Flags = d.Flags.WithHole(hole)
	if sides == 2 {
		d.Flags |= DiskDoubleSided
	}
	return d
}
