// file: pkg/diskimg/td0/td0.go

// Package td0 loads Teledisk images. Both the plain and the "advanced
// compression" variants are decoded in full at load time; every sector
// is a view into one resident buffer. Images are never written back.
package td0

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
	"github.com/ha1tch/floppyimg/pkg/lzhuf"
)

const (
	maxFile = 4 << 20

	// decodedLimit caps both the decompressed body and the expanded
	// sector data.
	decodedLimit = 4 << 20
)

// Image is the handler of an attached Teledisk image.
type Image struct {
	diskimg.SectorLevel

	file    *diskimg.ImageFile
	header  *fileHeader
	comment *commentBlock
	data    []byte
	tracks  [][2]*disk.Track
}

// Load decodes the Teledisk image at path and attaches it to drv.
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
	b, err := f.ReadHeader(headerSize)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	src, err := f.ReadAll(maxFile)
	if err != nil {
		return nil, err
	}

	body := src[headerSize:]
	if hdr.compressed {
		if body, err = decompress(body); err != nil {
			return nil, err
		}
	}

	h := &Image{file: f, header: hdr}
	if hdr.stepping&stepHasComment != 0 {
		c, n, err := parseComment(body)
		if err != nil {
			return nil, err
		}
		h.comment = c
		body = body[n:]
	}

	p := &parser{buf: body, out: internal.NewBuffer(decodedLimit)}
	_, diskFM := hdr.dataRate()
	var recs []*trackRec
	for {
		t, err := p.parseTrack(diskFM)
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		recs = append(recs, t)
	}
	h.data = p.out.Bytes()

	if err := h.buildTracks(recs, drv); err != nil {
		return nil, err
	}
	return h, nil
}

// decompress expands an advanced compression body, mapping codec failures
// onto the loader errors.
func decompress(body []byte) ([]byte, error) {
	out, err := lzhuf.Decompress(body, decodedLimit)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, internal.ErrOverflow):
		return nil, errors.Wrapf(diskimg.ErrBufferOverflow, "decompressed image exceeds %d bytes", decodedLimit)
	}
	return nil, errors.Wrap(diskimg.ErrCorruptStream, err.Error())
}

func (h *Image) buildTracks(recs []*trackRec, drv diskimg.Drive) error {
	rate, _ := h.header.dataRate()
	rpm360 := h.header.rpm360()
	limit := geometry.CodeSize(geometry.MaxSizeCodeFor(geometry.BucketFor(rate, rpm360)))

	sides := 1
	if h.header.sides == 2 {
		sides = 2
	}
	slow := false
	var fallback disk.SideFlags

	for _, rec := range recs {
		if rec.cyl > 85 {
			return &diskimg.ValidationError{Field: "Cylinder", Message: "track beyond cylinder 85"}
		}
		t := &disk.Track{
			Cylinder: rec.cyl,
			Side:     rec.head,
			Rate:     rate,
			RPM360:   rpm360,
			Encoding: disk.MFM,
			Gap2:     geometry.Gap2Default,
		}
		if rec.fm {
			t.Encoding = disk.FM
		}
		for _, s := range rec.sectors {
			sec := disk.Sector{
				ID:    s.id,
				Size:  s.size,
				Flags: s.sectorFlags(),
				Data:  h.data[s.offset : s.offset+s.size : s.offset+s.size],
			}
			if sec.Size > limit {
				log.Warnf("TD0: sector %v of %d bytes clipped to %d", s.id, sec.Size, limit)
				sec.Size = limit
				sec.Data = sec.Data[:limit:limit]
				sec.Flags |= disk.SectorOdd
			}
			t.Sectors = append(t.Sectors, sec)
		}

		fit := layoutTrack(t)
		if !fit.OK {
			if !drv.Policy.Turbo {
				return errors.Wrapf(diskimg.ErrTrackWontFit, "cylinder %d head %d", rec.cyl, rec.head)
			}
			log.Warnf("TD0: cylinder %d head %d overflows the track", rec.cyl, rec.head)
		}
		t.Gap3 = fit.Gap3
		slow = slow || fit.Slow
		log.Debugf("TD0: track %d side %d, %d sectors, gap3 %d", rec.cyl, rec.head, len(t.Sectors), t.Gap3)

		for len(h.tracks) <= rec.cyl {
			h.tracks = append(h.tracks, [2]*disk.Track{})
		}
		if h.tracks[rec.cyl][rec.head] != nil {
			log.Warnf("TD0: cylinder %d head %d recorded twice, keeping the last", rec.cyl, rec.head)
		}
		h.tracks[rec.cyl][rec.head] = t
		if rec.head == 1 {
			sides = 2
		}
		if fallback == 0 && len(t.Sectors) > 0 {
			fallback = t.SideFlags()
		}
	}
	if len(h.tracks) == 0 {
		return errors.Wrap(diskimg.ErrCorruptStream, "no tracks")
	}

	hole := geometry.HoleDD
	switch {
	case h.header.driveType == drive35ED:
		hole = geometry.HoleED
	case rate == geometry.Rate500:
		hole = geometry.HoleHD
	}
	d := disk.NewDisk(len(h.tracks), sides, hole)
	d.WriteProtect = true
	if slow {
		d.Flags |= disk.DiskSlow2
	}
	h.SectorLevel = diskimg.NewSectorLevel(drv, d)
	h.Fallback = fallback
	log.Debugf("TD0: %s drive, %d tracks, %d sides", h.header.driveName(), d.Tracks, d.Sides)
	return nil
}

func (h *Image) Format() string { return "TD0" }

// Comment returns the comment block text, lines separated by newlines.
func (h *Image) Comment() string {
	if h.comment == nil {
		return ""
	}
	return h.comment.text
}

// Date returns the creation time stored in the comment block, or the zero
// time when the image has none.
func (h *Image) Date() time.Time {
	if h.comment == nil {
		return time.Time{}
	}
	return h.comment.date
}

// Compressed reports whether the image used advanced compression.
func (h *Image) Compressed() bool { return h.header.compressed }

func (h *Image) Seek(track int) error {
	t := h.ImageTrack(track)
	if t >= len(h.tracks) {
		h.Present(track)
		return nil
	}
	h.Present(track, h.tracks[t][0], h.tracks[t][1])
	return nil
}

// Writeback does nothing; Teledisk images are read-only.
func (h *Image) Writeback() error { return nil }

func (h *Image) Close() error {
	h.Unregister()
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", h.file.Path)
	}
	return nil
}
