// file: pkg/diskimg/imd/imd.go

// Package imd loads ImageDisk images. The whole file is indexed at load
// time; sectors stored verbatim can be written back in place.
package imd

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// maxFile bounds the size of an image read into memory.
const maxFile = 16 << 20

// Image is the handler of an attached ImageDisk file.
type Image struct {
	diskimg.SectorLevel

	file      *diskimg.ImageFile
	buf       []byte
	signature string
	comment   string

	tracks [][2]*trackRec
	cur    [2]*trackRec
}

// Load indexes the ImageDisk file at path and attaches it to drv.
func Load(path string, drv diskimg.Drive) (*Image, error) {
	f, err := diskimg.OpenImage(path, drv.Policy)
	if err != nil {
		return nil, err
	}
	h, err := load(f, drv)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}
	h.Register(h)
	return h, nil
}

func load(f *diskimg.ImageFile, drv diskimg.Drive) (*Image, error) {
	sig, err := f.ReadHeader(len(magic))
	if err != nil {
		return nil, err
	}
	if string(sig) != string(magic) {
		return nil, diskimg.ErrNotThisFormat
	}
	buf, err := f.ReadAll(maxFile)
	if err != nil {
		return nil, err
	}
	line, comment, start, err := header(buf)
	if err != nil {
		return nil, err
	}

	h := &Image{file: f, buf: buf, signature: line, comment: comment}
	p := &parser{buf: buf, pos: start}

	sides := 1
	hole := geometry.HoleDD
	slow := false
	var first *trackRec
	for p.pos < len(buf) {
		t, err := p.parseTrack()
		if err != nil {
			return nil, err
		}
		if t.cyl > 85 {
			return nil, &diskimg.ValidationError{Field: "Cylinder", Message: "track beyond cylinder 85"}
		}

		fit := layoutTrack(t)
		if !fit.OK {
			if !drv.Policy.Turbo {
				return nil, errors.Wrapf(diskimg.ErrTrackWontFit, "cylinder %d head %d", t.cyl, t.head)
			}
			log.Warnf("IMD: cylinder %d head %d overflows the track", t.cyl, t.head)
		}
		slow = slow || t.slow
		log.Debugf("IMD: track %d side %d, %d sectors, gap3 %d", t.cyl, t.head, len(t.sectors), t.gap3)

		for len(h.tracks) <= t.cyl {
			h.tracks = append(h.tracks, [2]*trackRec{})
		}
		if h.tracks[t.cyl][t.head] != nil {
			log.Warnf("IMD: cylinder %d head %d recorded twice, keeping the last", t.cyl, t.head)
		}
		h.tracks[t.cyl][t.head] = t

		if t.head == 1 {
			sides = 2
		}
		if rate, _, _ := t.rate(); rate == geometry.Rate500 && len(t.sectors) > 0 {
			hole = geometry.HoleHD
		}
		if first == nil && len(t.sectors) > 0 {
			first = t
		}
	}
	if len(h.tracks) == 0 {
		return nil, errors.Wrap(diskimg.ErrCorruptStream, "no tracks")
	}

	d := disk.NewDisk(len(h.tracks), sides, hole)
	if slow {
		d.Flags |= disk.DiskSlow2
	}
	if f.ReadOnly {
		d.WriteProtect = true
	}
	h.SectorLevel = diskimg.NewSectorLevel(drv, d)
	if first != nil {
		rate, mfm, rpm360 := first.rate()
		h.Fallback = disk.MakeSideFlags(rate, mfm, rpm360)
	}
	return h, nil
}

func (h *Image) Format() string { return "IMD" }

// Comment returns the free text stored after the signature line.
func (h *Image) Comment() string { return h.comment }

// Signature returns the creator line, e.g. "IMD 1.18: 01/02/2003 10:00:00".
func (h *Image) Signature() string { return h.signature }

func (h *Image) Seek(track int) error {
	t := h.ImageTrack(track)
	h.cur = [2]*trackRec{}
	if t >= len(h.tracks) {
		h.Present(track)
		return nil
	}

	h.cur = h.tracks[t]
	out := make([]*disk.Track, h.Geo.Sides)
	for side := range out {
		if rec := h.cur[side]; rec != nil {
			out[side] = h.buildTrack(rec)
		}
	}
	h.Present(track, out...)
	return nil
}

func (h *Image) buildTrack(rec *trackRec) *disk.Track {
	rate, mfm, rpm360 := rec.rate()
	t := &disk.Track{
		Cylinder:    rec.cyl,
		Side:        rec.head,
		Rate:        rate,
		RPM360:      rpm360,
		Encoding:    disk.FM,
		Gap2:        geometry.Gap2Default,
		Gap3:        rec.gap3,
		XDF:         rec.xdf,
		Interleaved: rec.dmf,
	}
	if mfm {
		t.Encoding = disk.MFM
	}
	limit := geometry.CodeSize(geometry.MaxSizeCodeFor(geometry.BucketFor(rate, rpm360)))

	t.Sectors = make([]disk.Sector, len(rec.sectors))
	for i, s := range rec.sectors {
		sec := disk.Sector{ID: s.id, Size: s.size, Flags: s.flags()}
		switch {
		case s.typ == recUnavailable:
		case s.compressed():
			sec.Data = make([]byte, s.size)
			fill := h.buf[s.offset+1]
			for j := range sec.Data {
				sec.Data[j] = fill
			}
		default:
			sec.Data = h.buf[s.offset+1 : s.offset+1+s.size : s.offset+1+s.size]
		}

		if sec.Size > limit {
			log.Warnf("IMD: sector %v of %d bytes clipped to %d", s.id, sec.Size, limit)
			sec.Size = limit
			sec.Flags |= disk.SectorOdd
			if len(sec.Data) > limit {
				sec.Data = sec.Data[:limit:limit]
			}
		} else if sec.Size != geometry.CodeSize(s.id.N) {
			sec.Flags |= disk.SectorOdd
		}
		t.Sectors[i] = sec
	}
	return t
}

// Writeback rewrites the sectors of the current track in place. A
// compressed sector can only take a new fill byte; other changes to it are
// dropped with a warning.
func (h *Image) Writeback() error {
	if h.WriteProtected() || !h.Dirty() {
		return nil
	}
	for side, rec := range h.cur {
		t := h.CurrentTrack(side)
		if rec == nil || t == nil {
			continue
		}
		for i, s := range rec.sectors {
			if err := h.writeSector(s, &t.Sectors[i]); err != nil {
				return err
			}
		}
	}
	h.ClearDirty()
	return nil
}

func (h *Image) writeSector(s sectorRec, sec *disk.Sector) error {
	off := s.offset + 1
	switch {
	case s.typ == recUnavailable, len(sec.Data) == 0:
		return nil
	case s.compressed():
		fill := sec.Data[0]
		for _, b := range sec.Data {
			if b != fill {
				log.Warnf("IMD: sector %v is stored compressed, new data not written", s.id)
				return nil
			}
		}
		if fill == h.buf[off] {
			return nil
		}
		h.buf[off] = fill
		return h.file.WriteSectors(int64(off), h.buf[off:off+1])
	}
	return h.file.WriteSectors(int64(off), h.buf[off:off+s.size])
}

func (h *Image) Close() error {
	h.Unregister()
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", h.file.Path)
	}
	return nil
}
