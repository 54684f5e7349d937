// file: pkg/fdi2raw/described.go

package fdi2raw

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
)

// program walks the opcode stream of a sectors-described track.
type program struct {
	src []byte
	pos int
	w   *bitWriter
}

type opFunc func(p *program) error

// Opcodes of a sectors-described track. Each emits a fixed or operand
// driven number of cells; raw opcodes write cells as given, MFM opcodes
// encode data bits with clocks. Codes without an entry are undefined.
const (
	opEnd         = 0x00 // end of track
	opDropBit     = 0x01 // skip the next cell
	opRawWord     = 0x02 // 2 bytes, 16 cells
	opRawLong     = 0x03 // 4 bytes, 32 cells
	opRawByte     = 0x04 // 1 byte, 8 cells
	opRawRun      = 0x08 // count (0 = 256), byte; count*8 cells
	opMFMRun      = 0x09 // count (0 = 256), byte; MFM encoded
	opRawBits     = 0x0a // count16 cells then packed cells
	opRawBitsLong = 0x0b // as 0x0a plus 65536
	opMFMBits     = 0x0c // count16 data bits then packed bits
	opMFMBitsLong = 0x0d // as 0x0c plus 65536
	opAmiga       = 0x20 // info long + 512 data bytes
	opAmigaBad    = 0x21 // as 0x20 with a bad data checksum
	opIndexMark   = 0x22 // sync, C2 C2 C2 FC
	opIDAM        = 0x23 // C H R N, with CRC
	opData        = 0x24 // size code, data, with CRC
	opDeletedData = 0x25 // as 0x24 with F8
	opSector      = 0x26 // C H R N then 128<<N data bytes; ID and data fields
	opDeletedSec  = 0x27 // as 0x26 with F8
)

var opcodes [256]opFunc

func init() {
	opcodes[opEnd] = func(p *program) error { return nil }
	opcodes[opDropBit] = func(p *program) error {
		p.w.dropNext = true
		return nil
	}
	opcodes[opRawWord] = rawFixed(2)
	opcodes[opRawLong] = rawFixed(4)
	opcodes[opRawByte] = rawFixed(1)
	opcodes[opRawRun] = run(false)
	opcodes[opMFMRun] = run(true)
	opcodes[opRawBits] = bits(false, 0)
	opcodes[opRawBitsLong] = bits(false, 65536)
	opcodes[opMFMBits] = bits(true, 0)
	opcodes[opMFMBitsLong] = bits(true, 65536)
	opcodes[opAmiga] = amigaOp(false)
	opcodes[opAmigaBad] = amigaOp(true)
	opcodes[opIndexMark] = func(p *program) error {
		p.w.writeMarker(syncC2, 0xFC)
		return nil
	}
	opcodes[opIDAM] = func(p *program) error {
		id, err := p.take(4)
		if err != nil {
			return err
		}
		writeIDAM(p.w, id)
		return nil
	}
	opcodes[opData] = dataOp(0xFB)
	opcodes[opDeletedData] = dataOp(0xF8)
	opcodes[opSector] = sectorOp(0xFB)
	opcodes[opDeletedSec] = sectorOp(0xF8)
}

func (p *program) take(n int) ([]byte, error) {
	if p.pos+n > len(p.src) {
		return nil, errors.Wrapf(ErrCorruptTrack, "opcode operand runs past the track data at %d", p.pos)
	}
	b := p.src[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *program) count8() (int, error) {
	b, err := p.take(1)
	if err != nil {
		return 0, err
	}
	if b[0] == 0 {
		return 256, nil
	}
	return int(b[0]), nil
}

func (p *program) count16() (int, error) {
	b, err := p.take(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func rawFixed(n int) opFunc {
	return func(p *program) error {
		b, err := p.take(n)
		if err != nil {
			return err
		}
		p.w.writeRawBytes(b)
		return nil
	}
}

func run(mfm bool) opFunc {
	return func(p *program) error {
		n, err := p.count8()
		if err != nil {
			return err
		}
		b, err := p.take(1)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if mfm {
				p.w.writeByte(b[0])
			} else {
				p.w.writeRaw(uint32(b[0]), 8)
			}
		}
		return nil
	}
}

func bits(mfm bool, extra int) opFunc {
	return func(p *program) error {
		n, err := p.count16()
		if err != nil {
			return err
		}
		n += extra
		data, err := p.take((n + 7) / 8)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			v := int(data[i/8]>>(7-uint(i%8))) & 1
			if mfm {
				p.w.writeBit(v)
			} else {
				p.w.writeRaw(uint32(v), 1)
			}
		}
		return nil
	}
}

func writeIDAM(w *bitWriter, id []byte) {
	w.writeMarker(syncA1, 0xFE)
	for _, b := range id {
		w.writeByte(b)
	}
	crc := internal.CRC16(internal.CRC16(internal.CRCInit, 0xA1, 0xA1, 0xA1, 0xFE), id...)
	w.writeBits(uint32(crc), 16)
}

func writeData(w *bitWriter, mark byte, data []byte) {
	w.writeMarker(syncA1, mark)
	for _, b := range data {
		w.writeByte(b)
	}
	crc := internal.CRC16(internal.CRC16(internal.CRCInit, 0xA1, 0xA1, 0xA1, mark), data...)
	w.writeBits(uint32(crc), 16)
}

func dataOp(mark byte) opFunc {
	return func(p *program) error {
		n, err := p.take(1)
		if err != nil {
			return err
		}
		if n[0] > 7 {
			return errors.Wrapf(ErrCorruptTrack, "data field size code %d", n[0])
		}
		data, err := p.take(128 << n[0])
		if err != nil {
			return err
		}
		writeData(p.w, mark, data)
		return nil
	}
}

func sectorOp(mark byte) opFunc {
	return func(p *program) error {
		id, err := p.take(4)
		if err != nil {
			return err
		}
		if id[3] > 7 {
			return errors.Wrapf(ErrCorruptTrack, "sector size code %d", id[3])
		}
		data, err := p.take(128 << id[3])
		if err != nil {
			return err
		}
		writeIDAM(p.w, id)
		p.w.writeGap(22, 0x4E)
		writeData(p.w, mark, data)
		return nil
	}
}

// Amiga sectors are odd/even split: the odd bits of a block first, then
// the even bits, each as MFM data.
func writeOddEven(w *bitWriter, p []byte) {
	for _, shift := range []uint{1, 0} {
		for _, b := range p {
			for i := 6; i >= 0; i -= 2 {
				w.writeBit(int(b>>(uint(i)+shift)) & 1)
			}
		}
	}
}

func amigaChecksum(p []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(p); i += 4 {
		l := binary.BigEndian.Uint32(p[i:])
		sum ^= (l >> 1) & 0x55555555
		sum ^= l & 0x55555555
	}
	return sum
}

func writeAmigaSector(w *bitWriter, info, data []byte, bad bool) {
	w.writeByte(0)
	w.writeByte(0)
	w.writeRaw(syncA1, 16)
	w.writeRaw(syncA1, 16)

	label := make([]byte, 16)
	writeOddEven(w, info)
	writeOddEven(w, label)

	var sum [4]byte
	hdr := append(append([]byte(nil), info...), label...)
	binary.BigEndian.PutUint32(sum[:], amigaChecksum(hdr))
	writeOddEven(w, sum[:])

	dsum := amigaChecksum(data)
	if bad {
		dsum = ^dsum
	}
	binary.BigEndian.PutUint32(sum[:], dsum)
	writeOddEven(w, sum[:])
	writeOddEven(w, data)
}

func amigaOp(bad bool) opFunc {
	return func(p *program) error {
		info, err := p.take(4)
		if err != nil {
			return err
		}
		data, err := p.take(512)
		if err != nil {
			return err
		}
		writeAmigaSector(p.w, info, data, bad)
		return nil
	}
}

// decodeDescribed runs the opcode program of a sectors-described track.
// The first byte is the encoding type and the next three the index offset.
func decodeDescribed(src []byte) (*Revolution, error) {
	if len(src) < 4 {
		return nil, errors.Wrap(ErrCorruptTrack, "sectors-described track without header")
	}
	index := int(src[1])<<16 | int(src[2])<<8 | int(src[3])
	p := &program{src: src, pos: 4, w: newBitWriter(0)}
	trace := log.IsLevelEnabled(log.TraceLevel)

	for {
		if p.pos >= len(p.src) {
			return nil, errors.Wrap(ErrCorruptTrack, "opcode stream ends without an end marker")
		}
		op := p.src[p.pos]
		p.pos++
		fn := opcodes[op]
		if fn == nil {
			return nil, errors.Wrapf(ErrUnknownOpcode, "opcode %02X at %d", op, p.pos-1)
		}
		before := p.w.Len()
		if err := fn(p); err != nil {
			return nil, err
		}
		if p.w.err != nil {
			return nil, p.w.err
		}
		if trace {
			log.Tracef("FDI: opcode %02X emitted %d cells", op, p.w.Len()-before)
		}
		if op == opEnd {
			break
		}
	}
	p.w.fixSync()
	return &Revolution{Bits: p.w.Bits(), Length: p.w.Len(), Index: index}, nil
}
