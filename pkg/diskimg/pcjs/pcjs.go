// file: pkg/diskimg/pcjs/pcjs.go

// Package pcjs loads the JSON disk dumps written by the PCjs emulator: an
// array of cylinders, each an array of heads, each an array of sector
// objects. The image is decoded in full at load time and never written.
package pcjs

import (
	"bytes"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

const (
	maxFile   = 32 << 20
	sniffSize = 256
)

// Image is the handler of an attached JSON image.
type Image struct {
	diskimg.SectorLevel

	file   *diskimg.ImageFile
	tracks [][2]*disk.Track
}

// Load parses the JSON image at path and attaches it to drv.
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
	head := make([]byte, min(sniffSize, f.Size))
	if err := f.ReadAtFill(head, 0, 0); err != nil {
		return nil, err
	}
	if t := bytes.TrimLeft(head, " \t\r\n"); len(t) == 0 || t[0] != '[' {
		return nil, diskimg.ErrNotThisFormat
	}

	src, err := f.ReadAll(maxFile)
	if err != nil {
		return nil, err
	}
	raw, err := parse(src)
	if err != nil {
		return nil, err
	}
	if len(raw.cylinders) == 0 {
		return nil, errors.Wrap(diskimg.ErrCorruptStream, "no cylinders")
	}

	sides := 1
	for _, heads := range raw.cylinders {
		if len(heads) > sides {
			sides = len(heads)
		}
	}

	h := &Image{file: f}
	hole := geometry.HoleDD
	slow := false
	var fallback disk.SideFlags

	for c, heads := range raw.cylinders {
		var pair [2]*disk.Track
		for side, sectors := range heads {
			if len(sectors) == 0 {
				continue
			}
			t, choice, fit, err := buildTrack(c, side, sectors, len(raw.cylinders), sides)
			if err != nil {
				return nil, err
			}
			if !fit.OK {
				if !drv.Policy.Turbo {
					return nil, errors.Wrapf(diskimg.ErrTrackWontFit, "cylinder %d head %d", c, side)
				}
				log.Warnf("JSON: cylinder %d head %d overflows the track", c, side)
			}
			if choice.Bucket.Hole > hole {
				hole = choice.Bucket.Hole
			}
			slow = slow || fit.Slow || choice.Slow
			if fallback == 0 {
				fallback = t.SideFlags()
			}
			pair[side] = t
		}
		h.tracks = append(h.tracks, pair)
	}

	d := disk.NewDisk(len(h.tracks), sides, hole)
	d.WriteProtect = true
	if slow {
		d.Flags |= disk.DiskSlow2
	}
	h.SectorLevel = diskimg.NewSectorLevel(drv, d)
	h.Fallback = fallback
	log.Debugf("JSON: %d cylinders, %d sides, %v hole", d.Tracks, d.Sides, hole)
	return h, nil
}

// buildTrack turns the parsed sectors of one side into a track and picks
// its data rate and gap3.
func buildTrack(cyl, side int, sectors []rawSector, tracks, sides int) (*disk.Track, geometry.RateChoice, geometry.Fit, error) {
	ids := make([]uint8, len(sectors))
	codes := make([]uint8, len(sectors))
	for i, s := range sectors {
		ids[i], codes[i] = uint8(s.sector), geometry.SizeCode(s.length)
	}

	code := codes[0]
	var choice geometry.RateChoice
	ok := true
	if xdf := geometry.ClassifyXDF(cyl, ids, codes); xdf != geometry.XDFNone {
		choice = geometry.XDFChoice(xdf)
	} else {
		choice, ok = geometry.SelectRate(code, len(sectors), tracks, sides)
	}
	if !ok {
		return nil, choice, geometry.Fit{}, errors.Wrapf(diskimg.ErrUnsupportedGeometry,
			"cylinder %d head %d: %d sectors of %d bytes", cyl, side, len(sectors), sectors[0].length)
	}
	b := choice.Bucket

	t := &disk.Track{
		Cylinder: cyl,
		Side:     side,
		Rate:     b.Rate,
		RPM360:   b.RPM360,
		Encoding: disk.MFM,
		Gap2:     choice.Gap2(),
		XDF:      choice.XDF,
	}
	for i, s := range sectors {
		sec := disk.Sector{
			ID:   disk.SectorID{C: uint8(cyl), H: uint8(side), R: ids[i], N: codes[i]},
			Size: s.length,
			Data: s.bytes(),
		}
		if s.length != geometry.CodeSize(codes[i]) {
			sec.Flags |= disk.SectorOdd
		}
		t.Sectors = append(t.Sectors, sec)
	}

	var fit geometry.Fit
	switch {
	case t.XDF != geometry.XDFNone:
		l, _ := geometry.XDFLayoutFor(t.XDF, cyl == 0)
		fit = geometry.Fit{Gap3: l.Gap3, OK: true}
	case choice.DMF && geometry.IsDMF(ids, codes):
		t.Interleaved = true
		fit = geometry.Fit{Gap3: geometry.DMFGap3, OK: true}
	default:
		fit = geometry.Gap3OrFit(b.Rate, b.RPM360, true, code, t.Sizes())
	}
	t.Gap3 = fit.Gap3
	return t, choice, fit, nil
}

func (h *Image) Format() string { return "JSON" }

func (h *Image) Seek(track int) error {
	t := h.ImageTrack(track)
	if t >= len(h.tracks) {
		h.Present(track)
		return nil
	}
	h.Present(track, h.tracks[t][0], h.tracks[t][1])
	return nil
}

// Writeback does nothing; JSON images are read-only.
func (h *Image) Writeback() error { return nil }

func (h *Image) Close() error {
	h.Unregister()
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", h.file.Path)
	}
	return nil
}
