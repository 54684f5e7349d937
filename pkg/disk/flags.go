package disk

import "github.com/ha1tch/floppyimg/pkg/geometry"

// DiskFlags are the disk-wide flags handed to the assembly engine.
type DiskFlags uint16

const (
	DiskHoleMask      DiskFlags = 0x06 // bits 1-2
	DiskDoubleSided   DiskFlags = 0x08
	DiskSpeedMask     DiskFlags = 0x60 // rotation speed offset
	DiskSlow2         DiskFlags = 0x60 // spindle 2% slow
	DiskExtraBitCells DiskFlags = 0x80 // tracks may carry more or fewer bit cells than nominal
)

// Hole extracts the density hole.
func (f DiskFlags) Hole() geometry.Hole {
	return geometry.Hole((f & DiskHoleMask) >> 1)
}

// WithHole returns f with the hole bits replaced.
func (f DiskFlags) WithHole(h geometry.Hole) DiskFlags {
	return (f &^ DiskHoleMask) | DiskFlags(h)<<1&DiskHoleMask
}

// Slow reports whether the spindle runs 2% slow.
func (f DiskFlags) Slow() bool {
	return f&DiskSpeedMask == DiskSlow2
}

// SideFlags describe rate, encoding and spindle speed of the current track.
type SideFlags uint16

const (
	SideRateMask SideFlags = 0x07
	SideMFM      SideFlags = 0x08
	SideRPM360   SideFlags = 0x20
)

// MakeSideFlags composes side flags.
func MakeSideFlags(rate geometry.Rate, mfm, rpm360 bool) SideFlags {
	f := SideFlags(rate) & SideRateMask
	if mfm {
		f |= SideMFM
	}
	if rpm360 {
		f |= SideRPM360
	}
	return f
}

func (f SideFlags) Rate() geometry.Rate { return geometry.Rate(f & SideRateMask) }
func (f SideFlags) MFM() bool           { return f&SideMFM != 0 }
func (f SideFlags) RPM360() bool        { return f&SideRPM360 != 0 }

// Encoding returns FM or MFM.
func (f SideFlags) Encoding() Encoding {
	if f.MFM() {
		return MFM
	}
	return FM
}
