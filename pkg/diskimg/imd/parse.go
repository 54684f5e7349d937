// file: pkg/diskimg/imd/parse.go

package imd

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

var magic = []byte("IMD ")

const commentEnd = 0x1A

// Sector record types.
const (
	recUnavailable = iota
	recNormal
	recCompressed
	recDeleted
	recDeletedCompressed
	recError
	recErrorCompressed
	recDeletedError
	recDeletedErrorCompressed
)

const (
	headCylinderMap = 0x80
	headHeadMap     = 0x40
	sizeMapFollows  = 0xFF
)

type sectorRec struct {
	id     disk.SectorID
	size   int
	typ    byte
	offset int // of the record type byte
}

func (s sectorRec) compressed() bool {
	return s.typ != recUnavailable && s.typ%2 == 0
}

func (s sectorRec) flags() disk.SectorFlags {
	var f disk.SectorFlags
	switch s.typ {
	case recUnavailable:
		f |= disk.SectorNoData
	case recDeleted, recDeletedCompressed:
		f |= disk.SectorDeleted
	case recError, recErrorCompressed:
		f |= disk.SectorCRCError
	case recDeletedError, recDeletedErrorCompressed:
		f |= disk.SectorDeleted | disk.SectorCRCError
	}
	return f
}

type trackRec struct {
	mode    byte
	cyl     int
	head    int
	sectors []sectorRec
	gap3    int
	slow    bool
	xdf     geometry.XDFType
	dmf     bool
}

// rate maps the mode byte to a data rate, encoding and spindle speed.
// 300 kbps only occurs on 360 rpm drives reading double density media.
func (t *trackRec) rate() (geometry.Rate, bool, bool) {
	mfm := t.mode >= 3
	switch t.mode % 3 {
	case 0:
		return geometry.Rate500, mfm, false
	case 1:
		return geometry.Rate300, mfm, true
	}
	return geometry.Rate250, mfm, false
}

// header splits the text block in front of the first track into the
// signature line and the comment.
func header(buf []byte) (string, string, int, error) {
	if !bytes.HasPrefix(buf, magic) {
		return "", "", 0, diskimg.ErrNotThisFormat
	}
	end := bytes.IndexByte(buf, commentEnd)
	if end < 0 {
		return "", "", 0, errors.Wrap(diskimg.ErrCorruptHeader, "comment is not terminated")
	}
	text := string(buf[:end])
	sig, comment := text, ""
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		sig, comment = text[:i], text[i:]
	}
	return strings.TrimSpace(sig), strings.TrimSpace(comment), end + 1, nil
}

type parser struct {
	buf []byte
	pos int
}

func (p *parser) take(n int) ([]byte, error) {
	if n < 0 || p.pos+n > len(p.buf) {
		return nil, errors.Wrapf(diskimg.ErrCorruptStream, "%d bytes wanted at %d, file ends at %d", n, p.pos, len(p.buf))
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

// parseTrack reads one track descriptor and indexes its sector records.
func (p *parser) parseTrack() (*trackRec, error) {
	d, err := p.take(5)
	if err != nil {
		return nil, err
	}
	t := &trackRec{mode: d[0], cyl: int(d[1]), head: int(d[2] & 1)}
	if t.mode > 5 {
		return nil, errors.Wrapf(diskimg.ErrCorruptStream, "track mode %d at %d", t.mode, p.pos-5)
	}
	spt := int(d[3])

	ids, err := p.take(spt)
	if err != nil {
		return nil, err
	}
	var cyls, heads []byte
	if d[2]&headCylinderMap != 0 {
		if cyls, err = p.take(spt); err != nil {
			return nil, err
		}
	}
	if d[2]&headHeadMap != 0 {
		if heads, err = p.take(spt); err != nil {
			return nil, err
		}
	}

	sizes := make([]int, spt)
	if d[4] == sizeMapFollows {
		m, err := p.take(spt * 2)
		if err != nil {
			return nil, err
		}
		for i := range sizes {
			sizes[i] = int(binary.LittleEndian.Uint16(m[i*2:]))
		}
	} else {
		if d[4] > geometry.MaxSizeCode {
			return nil, errors.Wrapf(diskimg.ErrCorruptStream, "size code %d on cylinder %d", d[4], t.cyl)
		}
		for i := range sizes {
			sizes[i] = geometry.CodeSize(d[4])
		}
	}

	for i := 0; i < spt; i++ {
		s := sectorRec{
			id: disk.SectorID{
				C: uint8(t.cyl),
				H: uint8(t.head),
				R: ids[i],
				N: geometry.SizeCode(sizes[i]),
			},
			size:   sizes[i],
			offset: p.pos,
		}
		if cyls != nil {
			s.id.C = cyls[i]
		}
		if heads != nil {
			s.id.H = heads[i]
		}

		typ, err := p.take(1)
		if err != nil {
			return nil, err
		}
		s.typ = typ[0]
		switch {
		case s.typ == recUnavailable:
		case s.typ > recDeletedErrorCompressed:
			return nil, errors.Wrapf(diskimg.ErrUnsupportedSectorEncoding, "record type %d at %d", s.typ, s.offset)
		case s.compressed():
			_, err = p.take(1)
		default:
			_, err = p.take(s.size)
		}
		if err != nil {
			return nil, err
		}
		t.sectors = append(t.sectors, s)
	}
	return t, nil
}

// layoutTrack classifies the track and picks its gap3.
func layoutTrack(t *trackRec) geometry.Fit {
	rate, mfm, rpm360 := t.rate()
	ids := make([]uint8, len(t.sectors))
	codes := make([]uint8, len(t.sectors))
	sizes := make([]int, len(t.sectors))
	for i, s := range t.sectors {
		ids[i], codes[i], sizes[i] = s.id.R, s.id.N, s.size
	}

	switch {
	case len(t.sectors) == 0:
		return geometry.Fit{OK: true}
	case mfm && rate == geometry.Rate500:
		if xdf := geometry.ClassifyXDF(t.cyl, ids, codes); xdf != geometry.XDFNone {
			t.xdf = xdf
			l, _ := geometry.XDFLayoutFor(xdf, t.cyl == 0)
			t.gap3 = l.Gap3
			return geometry.Fit{Gap3: l.Gap3, OK: true}
		}
		if geometry.IsDMF(ids, codes) {
			t.dmf = true
			t.gap3 = geometry.DMFGap3
			return geometry.Fit{Gap3: geometry.DMFGap3, OK: true}
		}
	}

	fit := geometry.Gap3OrFit(rate, rpm360, mfm, maxCode(codes), sizes)
	t.gap3, t.slow = fit.Gap3, fit.Slow
	return fit
}

func maxCode(codes []uint8) uint8 {
	var m uint8
	for _, c := range codes {
		if c > m {
			m = c
		}
	}
	return m
}
