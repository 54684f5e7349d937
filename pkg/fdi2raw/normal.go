// file: pkg/fdi2raw/normal.go

package fdi2raw

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Standard track types rebuild a whole track from plain sector data.
type standardTrack struct {
	amiga   bool
	sectors int
	gap1    int // -1 for no index mark
	gap3    int
	cells   int
}

var standardTracks = map[uint8]standardTrack{
	0x01: {amiga: true, sectors: 11, cells: 100000},
	0x02: {amiga: true, sectors: 22, cells: 200000},
	0x03: {sectors: 9, gap1: -1, gap3: 40, cells: 100000},
	0x04: {sectors: 10, gap1: -1, gap3: 24, cells: 100000},
	0x05: {sectors: 9, gap1: 50, gap3: 84, cells: 100000},
	0x06: {sectors: 15, gap1: 50, gap3: 84, cells: 166666},
	0x07: {sectors: 18, gap1: 50, gap3: 108, cells: 200000},
	0x08: {sectors: 36, gap1: 50, gap3: 84, cells: 400000},
}

func (s standardTrack) build(src []byte, cyl, head int) (*Revolution, error) {
	if len(src) < s.sectors*512 {
		return nil, errors.Wrapf(ErrCorruptTrack, "%d sectors need %d bytes, track has %d", s.sectors, s.sectors*512, len(src))
	}
	w := newBitWriter(s.cells * 2)

	if s.amiga {
		var info [4]byte
		for i := 0; i < s.sectors; i++ {
			binary.BigEndian.PutUint32(info[:], 0xFF000000|uint32(cyl*2+head)<<16|uint32(i)<<8|uint32(s.sectors-i))
			writeAmigaSector(w, info[:], src[i*512:(i+1)*512], false)
		}
		for w.Len()+16 <= s.cells {
			w.writeByte(0)
		}
	} else {
		if s.gap1 < 0 {
			w.writeGap(60, 0x4E)
		} else {
			w.writeGap(80, 0x4E)
			w.writeMarker(syncC2, 0xFC)
			w.writeGap(s.gap1, 0x4E)
		}
		for i := 0; i < s.sectors; i++ {
			writeIDAM(w, []byte{byte(cyl), byte(head), byte(i + 1), 2})
			w.writeGap(22, 0x4E)
			writeData(w, 0xFB, src[i*512:(i+1)*512])
			w.writeGap(s.gap3, 0x4E)
		}
		for w.Len()+16 <= s.cells {
			w.writeByte(0x4E)
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	w.fixSync()
	return &Revolution{Bits: w.Bits(), Length: w.Len()}, nil
}

// decodeRaw copies a pre-encoded track: a 32-bit cell count then the cells.
func decodeRaw(src []byte) (*Revolution, error) {
	if len(src) < 4 {
		return nil, errors.Wrap(ErrCorruptTrack, "raw track without length")
	}
	n := int(binary.BigEndian.Uint32(src))
	if n > maxTrackCells || 4+(n+7)/8 > len(src) {
		return nil, errors.Wrapf(ErrCorruptTrack, "raw track of %d cells in %d bytes", n, len(src)-4)
	}
	bits := append([]byte(nil), src[4:4+(n+7)/8]...)
	return &Revolution{Bits: bits, Length: n}, nil
}
