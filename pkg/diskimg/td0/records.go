// file: pkg/diskimg/td0/records.go

package td0

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

const endOfImage = 0xFF

// Sector record flags.
const (
	flagDuplicate   = 0x01
	flagCRCError    = 0x02
	flagDeleted     = 0x04
	flagUnallocated = 0x10
	flagNoData      = 0x20
	flagNoID        = 0x40
)

// Data block encodings.
const (
	encRaw     = 0
	encPattern = 1
	encRLE     = 2
)

type sectorRec struct {
	id     disk.SectorID
	flags  byte
	offset int // of the decoded data in the resident buffer
	size   int
}

func (s sectorRec) sectorFlags() disk.SectorFlags {
	var f disk.SectorFlags
	if s.flags&flagCRCError != 0 {
		f |= disk.SectorCRCError
	}
	if s.flags&flagDeleted != 0 {
		f |= disk.SectorDeleted
	}
	if s.flags&flagNoData != 0 {
		f |= disk.SectorNoData
	}
	return f
}

type trackRec struct {
	cyl     int
	head    int
	fm      bool
	sectors []sectorRec
}

// parser walks the track records of a decoded body and expands every data
// block into one resident buffer.
type parser struct {
	buf []byte
	pos int
	out *internal.Buffer
}

func (p *parser) take(n int) ([]byte, error) {
	if n < 0 || p.pos+n > len(p.buf) {
		return nil, errors.Wrapf(diskimg.ErrCorruptStream, "%d bytes wanted at %d, image ends at %d", n, p.pos, len(p.buf))
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// parseTrack returns the next track, or nil at the end of the image.
func (p *parser) parseTrack(diskFM bool) (*trackRec, error) {
	if p.pos == len(p.buf) {
		log.Debugf("TD0: image ends without a terminating record")
		return nil, nil
	}
	if p.buf[p.pos] == endOfImage {
		return nil, nil
	}
	d, err := p.take(4)
	if err != nil {
		return nil, err
	}
	t := &trackRec{
		cyl:  int(d[1]),
		head: int(d[2] & 1),
		fm:   diskFM || d[2]&headFM != 0,
	}
	if crc := byte(crc16(0, d[:3])); crc != d[3] {
		log.Debugf("TD0: track %d side %d header checksum %02X, stored %02X", t.cyl, t.head, crc, d[3])
	}

	seen := make(map[disk.SectorID]bool, d[0])
	for i := 0; i < int(d[0]); i++ {
		s, err := p.parseSector()
		if err != nil {
			return nil, errors.Wrapf(err, "cylinder %d head %d sector %d", t.cyl, t.head, i)
		}
		if s.flags&flagDuplicate != 0 && seen[s.id] {
			log.Debugf("TD0: dropping duplicate of sector %v", s.id)
			continue
		}
		if s.flags&flagNoID != 0 {
			log.Debugf("TD0: sector %v was read without an ID field", s.id)
		}
		seen[s.id] = true
		t.sectors = append(t.sectors, s)
	}
	return t, nil
}

func (p *parser) parseSector() (sectorRec, error) {
	h, err := p.take(6)
	if err != nil {
		return sectorRec{}, err
	}
	s := sectorRec{
		id:     disk.SectorID{C: h[0], H: h[1], R: h[2], N: h[3]},
		flags:  h[4],
		offset: p.out.Len(),
	}
	if s.id.N > geometry.MaxSizeCode {
		return s, errors.Wrapf(diskimg.ErrCorruptStream, "size code %d", s.id.N)
	}
	s.size = geometry.CodeSize(s.id.N)

	switch {
	case s.flags&flagUnallocated != 0:
		err = p.out.Fill(disk.FillByte, s.size)
	case s.flags&flagNoData != 0:
		err = p.out.Fill(0, s.size)
	default:
		err = p.parseData(s.size)
	}
	return s, err
}

// parseData expands one data block to exactly size bytes.
func (p *parser) parseData(size int) error {
	h, err := p.take(2)
	if err != nil {
		return err
	}
	n := int(binary.LittleEndian.Uint16(h))
	if n == 0 {
		return errors.Wrap(diskimg.ErrCorruptStream, "empty data block")
	}
	block, err := p.take(n)
	if err != nil {
		return err
	}

	start := p.out.Len()
	enc, src := block[0], block[1:]
	switch enc {
	case encRaw:
		err = p.emit(start, size, src)
	case encPattern:
		if len(src) != 4 {
			return errors.Wrapf(diskimg.ErrCorruptStream, "pattern block of %d bytes", len(src))
		}
		count := int(binary.LittleEndian.Uint16(src))
		for i := 0; i < count && err == nil; i++ {
			err = p.emit(start, size, src[2:4])
		}
	case encRLE:
		err = p.expandRLE(start, size, src)
	default:
		return errors.Wrapf(diskimg.ErrUnsupportedSectorEncoding, "data encoding %d", enc)
	}
	if err != nil {
		return err
	}
	if got := p.out.Len() - start; got != size {
		return errors.Wrapf(diskimg.ErrCorruptStream, "data block expands to %d bytes, sector holds %d", got, size)
	}
	return nil
}

// expandRLE decodes a run length block: a zero type byte introduces count
// literal bytes, any other type repeats a 2*type byte fragment count times.
func (p *parser) expandRLE(start, size int, src []byte) error {
	for i := 0; i < len(src); {
		if i+2 > len(src) {
			return errors.Wrap(diskimg.ErrCorruptStream, "run header truncated")
		}
		typ, count := int(src[i]), int(src[i+1])
		i += 2
		if typ == 0 {
			if i+count > len(src) {
				return errors.Wrap(diskimg.ErrCorruptStream, "literal run truncated")
			}
			if err := p.emit(start, size, src[i:i+count]); err != nil {
				return err
			}
			i += count
			continue
		}
		n := typ * 2
		if i+n > len(src) {
			return errors.Wrap(diskimg.ErrCorruptStream, "repeated fragment truncated")
		}
		for j := 0; j < count; j++ {
			if err := p.emit(start, size, src[i:i+n]); err != nil {
				return err
			}
		}
		i += n
	}
	return nil
}

// emit appends b to the sector that began at start, refusing to write past
// its size.
func (p *parser) emit(start, size int, b []byte) error {
	if p.out.Len()-start+len(b) > size {
		return errors.Wrapf(diskimg.ErrBufferOverflow, "data block overruns a %d byte sector", size)
	}
	if _, err := p.out.Write(b); err != nil {
		return errors.Wrap(diskimg.ErrBufferOverflow, err.Error())
	}
	return nil
}

// layoutTrack picks the gap3 of a track, classifying XDF and DMF layouts on
// high density MFM tracks.
func layoutTrack(t *disk.Track) geometry.Fit {
	ids := make([]uint8, len(t.Sectors))
	codes := make([]uint8, len(t.Sectors))
	var code uint8
	for i, s := range t.Sectors {
		ids[i], codes[i] = s.ID.R, s.ID.N
		if s.ID.N > code {
			code = s.ID.N
		}
	}

	switch {
	case len(t.Sectors) == 0:
		return geometry.Fit{OK: true}
	case t.Encoding == disk.MFM && t.Rate == geometry.Rate500:
		if xdf := geometry.ClassifyXDF(t.Cylinder, ids, codes); xdf != geometry.XDFNone {
			t.XDF = xdf
			l, _ := geometry.XDFLayoutFor(xdf, t.Cylinder == 0)
			return geometry.Fit{Gap3: l.Gap3, OK: true}
		}
		if geometry.IsDMF(ids, codes) {
			t.Interleaved = true
			return geometry.Fit{Gap3: geometry.DMFGap3, OK: true}
		}
	}
	return geometry.Gap3OrFit(t.Rate, t.RPM360, t.Encoding == disk.MFM, code, t.Sizes())
}
