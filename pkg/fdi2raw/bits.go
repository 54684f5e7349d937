// file: pkg/fdi2raw/bits.go

package fdi2raw

import "github.com/pkg/errors"

// maxTrackCells bounds the output of a single revolution.
const maxTrackCells = 4 << 20

const (
	syncA1 = 0x4489 // A1 with a missing clock
	syncC2 = 0x5224 // C2 with a missing clock
)

// bitWriter packs MFM cells MSB first into a growable buffer.
type bitWriter struct {
	buffer      []byte
	bitPos      int   // next cell to write
	maxBits     int   // hard upper bound
	lastDataBit int   // last cell written, drives the next clock
	dropNext    bool  // skip the next cell
	raw         bool  // last write was pre-encoded
	syncs       []int // clock cells to recompute after the track is built
	err         error
}

func newBitWriter(maxBits int) *bitWriter {
	if maxBits <= 0 {
		maxBits = maxTrackCells
	}
	return &bitWriter{buffer: make([]byte, 0, 1024), maxBits: maxBits}
}

// Write one cell.
func (w *bitWriter) writeHalfBit(v int) {
	if w.dropNext {
		w.dropNext = false
		return
	}
	if w.err != nil {
		return
	}
	if w.bitPos >= w.maxBits {
		w.err = errors.Wrapf(ErrCorruptTrack, "track exceeds %d bit cells", w.maxBits)
		return
	}
	if w.bitPos/8 >= len(w.buffer) {
		w.buffer = append(w.buffer, 0)
	}
	if v != 0 {
		w.buffer[w.bitPos/8] |= 1 << (7 - uint(w.bitPos%8))
	}
	w.bitPos++
}

// Write one data bit as a clock and a data cell.
func (w *bitWriter) writeBit(dataBit int) {
	if w.raw {
		w.syncs = append(w.syncs, w.bitPos)
		w.raw = false
	}
	if dataBit != 0 {
		w.writeHalfBit(0)
		w.writeHalfBit(1)
	} else {
		w.writeHalfBit(w.lastDataBit ^ 1)
		w.writeHalfBit(0)
	}
	w.lastDataBit = dataBit
}

// Write the top n bits of v as data bits.
func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit(int(v>>uint(i)) & 1)
	}
}

func (w *bitWriter) writeByte(b byte) { w.writeBits(uint32(b), 8) }

// Write n cells that are already encoded.
func (w *bitWriter) writeRaw(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		c := int(v>>uint(i)) & 1
		w.writeHalfBit(c)
		w.lastDataBit = c
	}
	w.raw = true
}

func (w *bitWriter) writeRawBytes(p []byte) {
	for _, b := range p {
		w.writeRaw(uint32(b), 8)
	}
}

func (w *bitWriter) writeGap(n int, fill byte) {
	for i := 0; i < n; i++ {
		w.writeByte(fill)
	}
}

// Write twelve zero bytes, three sync words and the mark byte.
func (w *bitWriter) writeMarker(sync uint32, tag byte) {
	w.writeGap(12, 0)
	for i := 0; i < 3; i++ {
		w.writeRaw(sync, 16)
	}
	w.writeByte(tag)
}

// fixSync recomputes every clock cell that follows pre-encoded data: it is
// set only when both neighbouring cells are zero.
func (w *bitWriter) fixSync() {
	n := w.bitPos
	if n < 2 {
		return
	}
	get := func(pos int) bool {
		pos = (pos + n) % n
		return w.buffer[pos/8]&(1<<(7-uint(pos%8))) != 0
	}
	for _, pos := range w.syncs {
		if pos >= n-1 {
			continue
		}
		mask := byte(1) << (7 - uint(pos%8))
		if !get(pos-1) && !get(pos+1) {
			w.buffer[pos/8] |= mask
		} else {
			w.buffer[pos/8] &^= mask
		}
	}
}

// Bits returns the packed cells; the slice aliases the writer.
func (w *bitWriter) Bits() []byte {
	return w.buffer[:(w.bitPos+7)/8]
}

// Len returns the number of cells written.
func (w *bitWriter) Len() int { return w.bitPos }
