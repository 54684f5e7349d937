// file: pkg/fdi2raw/fdi2raw.go

// Package fdi2raw decodes the tracks of FDI flux images into bit cells.
//
// A track is either a program of opcodes that synthesizes the cells
// ("sectors described"), a standard layout rebuilt from sector data, a
// pre-encoded cell dump, or a low-level record of flux pulse widths that
// is turned into cells by a statistical decoder. Every path produces one
// Revolution.
package fdi2raw

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Densities accepted by LoadTrack. They select the nominal cell count of a
// low-level track and are ignored by the other track types.
const (
	DensitySingle = 0
	DensityDouble = 1
	DensityHigh   = 2
	DensityExtra  = 3
)

// Revolution is one decoded revolution of a track.
type Revolution struct {
	Bits     []byte   // packed cells, MSB first
	Timing   []uint16 // per 8 cells, 1000 is nominal; nil unless decoded from pulses
	Length   int      // cells in the revolution
	Index    int      // cell offset of the index pulse
	WeakBits int      // unstable pulses in the source track
}

// Bit returns cell i, wrapping around the revolution.
func (r *Revolution) Bit(i int) int {
	if r.Length == 0 {
		return 0
	}
	i %= r.Length
	if i < 0 {
		i += r.Length
	}
	return int(r.Bits[i/8]>>(7-uint(i%8))) & 1
}

// Words returns the cells as big-endian 16-bit words.
func (r *Revolution) Words() []uint16 {
	words := make([]uint16, (len(r.Bits)+1)/2)
	for i, b := range r.Bits {
		if i%2 == 0 {
			words[i/2] = uint16(b) << 8
		} else {
			words[i/2] |= uint16(b)
		}
	}
	return words
}

// LoadTrack decodes one track record. Tracks are numbered cylinder times
// heads plus head.
func (f *FDI) LoadTrack(track, density int) (*Revolution, error) {
	if density < DensitySingle || density > DensityExtra {
		return nil, errors.Errorf("fdi2raw: density %d out of range", density)
	}
	src, err := f.trackData(track)
	if err != nil {
		return nil, err
	}
	typ := f.tracks[track].typ
	cyl, head := track/f.Heads(), track%f.Heads()
	log.Debugf("FDI: track %d (cylinder %d head %d) type %02X, %d bytes", track, cyl, head, typ, len(src))

	var rev *Revolution
	switch {
	case typ&0xc0 == 0x80:
		rev, err = f.decodeLowLevel(src, density)
	case typ&0xf0 == 0xf0:
		rev, err = decodeRaw(src)
	case typ&0xf0 == 0xe0:
		rev, err = decodeDescribed(src)
	case typ == 0:
		rev = &Revolution{}
	default:
		std, ok := standardTracks[typ]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupported, "track %d type %02X", track, typ)
		}
		rev, err = std.build(src, cyl, head)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "track %d", track)
	}
	return rev, nil
}
