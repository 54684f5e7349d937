// file: pkg/diskimg/img/img.go

// Package img loads flat sector images and the formats that decode to one:
// CopyQM, FDF, the PC-98 FDI container and DDI. Geometry comes from the
// container header, from the boot sector, or from the file length.
package img

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// Options are the construction parameters of the loader.
type Options struct {
	// FDFSuppressFinalByte is the number of bytes dropped after every
	// decoded FDF block. Some images written by one old tool need 1.
	FDFSuppressFinalByte int
}

// DefaultOptions returns the options used when the caller has no preference.
func DefaultOptions() Options {
	return Options{}
}

type trackLayout int

const (
	layoutSequential trackLayout = iota
	layoutInterleaved
	layoutDMF
	layoutXDF
)

// interleaveGap3 is the gap3 below which raw images are laid out with the
// odd/even interleave.
const interleaveGap3 = 68

// Image is the handler of an attached IMG-family image.
type Image struct {
	diskimg.SectorLevel

	file   *diskimg.ImageFile
	src    *source
	geo    diskimg.Geometry
	choice geometry.RateChoice

	layout trackLayout
	skew   int
	gap2   int
	gap3   int

	cur  int
	bufs [2][]byte
}

// Load opens path and prepares it for drive drv. On failure nothing stays
// registered and the file is closed.
func Load(path string, drv diskimg.Drive, opts Options) (*Image, error) {
	f, err := diskimg.OpenImage(path, drv.Policy)
	if err != nil {
		return nil, err
	}

	h, err := load(f, drv, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	h.Register(h)
	return h, nil
}

func load(f *diskimg.ImageFile, drv diskimg.Drive, opts Options) (*Image, error) {
	kind, err := detect(f)
	if err != nil {
		return nil, err
	}
	src, err := decoders[kind](f, opts)
	if err != nil {
		return nil, err
	}
	geo, err := finishGeometry(src, drv.Policy)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Path)
	}

	choice, ok := geometry.SelectRate(geo.SizeCode(), geo.SectorsPerTrack, geo.Tracks, geo.Sides)
	if !ok {
		return nil, errors.Wrapf(diskimg.ErrUnsupportedGeometry, "%s: no data rate holds %v", f.Path, geo)
	}
	b := choice.Bucket

	h := &Image{
		file:   f,
		src:    src,
		geo:    geo,
		choice: choice,
		gap2:   choice.Gap2(),
		cur:    -1,
	}

	d := disk.NewDisk(geo.Tracks, geo.Sides, b.Hole)
	switch {
	case choice.XDF != geometry.XDFNone:
		h.layout = layoutXDF
	case choice.DMF:
		h.layout = layoutDMF
		h.gap3 = geometry.DMFGap3
	default:
		sizes := make([]int, geo.SectorsPerTrack)
		for i := range sizes {
			sizes[i] = geo.SectorSize
		}
		fit := geometry.Gap3OrFit(b.Rate, b.RPM360, true, geo.SizeCode(), sizes)
		if !fit.OK && !drv.Policy.Turbo {
			return nil, errors.Wrapf(diskimg.ErrTrackWontFit, "%s: %v at %v", f.Path, geo, b.Rate)
		}
		if fit.Slow {
			d.Flags |= disk.DiskSlow2
		}
		h.gap3 = fit.Gap3

		switch {
		case src.kind == subCopyQM && src.interleave > 1:
			h.layout = layoutInterleaved
			h.skew = src.skew % geo.SectorsPerTrack
			if h.skew < 0 {
				h.skew += geo.SectorsPerTrack
			}
		case h.gap3 < interleaveGap3:
			h.layout = layoutInterleaved
		}
	}
	if choice.Slow {
		d.Flags |= disk.DiskSlow2
	}
	if src.kind != subRaw || f.ReadOnly {
		d.WriteProtect = true
	}

	h.SectorLevel = diskimg.NewSectorLevel(drv, d)
	h.Fallback = disk.MakeSideFlags(b.Rate, true, b.RPM360)

	log.Debugf("%s: %v, %v %s hole, gap2 %d gap3 %d, layout %d",
		src.kind, geo, b.Rate, b.Hole, h.gap2, h.gap3, h.layout)
	return h, nil
}

func (h *Image) Format() string { return h.src.kind.String() }

// Comment returns the CopyQM comment, empty for the other sub-formats.
func (h *Image) Comment() string { return h.src.comment }

// Geometry returns the geometry the loader settled on.
func (h *Image) Geometry() diskimg.Geometry { return h.geo }

// Seek lays out both sides of the image track under the heads.
func (h *Image) Seek(track int) error {
	t := h.ImageTrack(track)
	h.cur = t
	h.bufs = [2][]byte{}
	if t >= h.geo.Tracks {
		h.Present(track)
		return nil
	}

	tracks := make([]*disk.Track, h.geo.Sides)
	for side := range tracks {
		buf, err := h.sideData(t, side)
		if err != nil {
			return err
		}
		h.bufs[side] = buf
		tracks[side] = h.buildTrack(t, side, buf)
	}
	h.Present(track, tracks...)
	return nil
}

func (h *Image) sideLength() int {
	return h.geo.SectorsPerTrack * h.geo.SectorSize
}

func (h *Image) sideOffset(track, side int) int64 {
	return internal.TrackOffset(0, track, h.geo.Sides, h.geo.SectorsPerTrack, h.geo.SectorSize) +
		int64(side*h.sideLength())
}

// sideData returns the bytes of one side. Decoded images hand out a view of
// the resident buffer; raw images read a private copy from the file.
func (h *Image) sideData(track, side int) ([]byte, error) {
	n := h.sideLength()
	off := h.sideOffset(track, side)

	if h.src.data != nil {
		if end := off + int64(n); end <= int64(len(h.src.data)) {
			return h.src.data[off:end:end], nil
		}
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = disk.FillByte
		}
		if off < int64(len(h.src.data)) {
			copy(buf, h.src.data[off:])
		}
		return buf, nil
	}

	buf := make([]byte, n)
	if err := h.file.ReadAtFill(buf, h.src.base+off, disk.FillByte); err != nil {
		return nil, err
	}
	return buf, nil
}

// buildTrack lays the sectors of buf out in physical order.
func (h *Image) buildTrack(cyl, side int, buf []byte) *disk.Track {
	b := h.choice.Bucket
	t := &disk.Track{
		Cylinder: cyl,
		Side:     side,
		Rate:     b.Rate,
		RPM360:   b.RPM360,
		Encoding: disk.MFM,
		Gap2:     h.gap2,
		Gap3:     h.gap3,
	}

	var stored, physical []uint8
	sizeCode := func(uint8) uint8 { return h.geo.SizeCode() }

	if h.layout == layoutXDF {
		l, _ := geometry.XDFLayoutFor(h.choice.XDF, cyl == 0)
		stored, physical = l.Logical, l.Physical
		sizeCode = func(id uint8) uint8 { return l.SizeCode(id, cyl == 0) }
		t.XDF = h.choice.XDF
		t.Gap3 = l.Gap3
	} else {
		spt := h.geo.SectorsPerTrack
		stored = make([]uint8, spt)
		for i := range stored {
			stored[i] = uint8(i + 1)
		}
		switch h.layout {
		case layoutDMF:
			physical = geometry.DMFOrder[:]
		case layoutInterleaved:
			physical = make([]uint8, spt)
			for slot := range physical {
				physical[slot] = uint8(geometry.Interleave(slot, h.skew, spt))
			}
		}
	}

	logical := make([]disk.Sector, 0, len(stored))
	pos := 0
	for _, id := range stored {
		n := sizeCode(id)
		size := geometry.CodeSize(n)
		if pos+size > len(buf) {
			log.Warnf("%s: track %d side %d: sector %02X runs past the track data", h.src.kind, cyl, side, id)
			break
		}
		logical = append(logical, disk.Sector{
			ID:   disk.SectorID{C: uint8(cyl), H: uint8(side), R: id, N: n},
			Size: size,
			Data: buf[pos : pos+size : pos+size],
		})
		pos += size
	}

	if physical == nil {
		t.Sectors = logical
		return t
	}
	order, ok := geometry.BuildOrder(stored[:len(logical)], physical)
	if !ok {
		log.Warnf("%s: track %d side %d: layout does not match, using image order", h.src.kind, cyl, side)
		t.Sectors = logical
		t.XDF = geometry.XDFNone
		return t
	}

	t.Interleaved = h.layout != layoutXDF
	t.Order = order
	t.Sectors = make([]disk.Sector, len(order))
	for slot, idx := range order {
		t.Sectors[slot] = logical[idx]
	}
	return t
}

// Writeback stores the sectors of the current track in the file. Only plain
// raw images are written.
func (h *Image) Writeback() error {
	if h.src.kind != subRaw || h.WriteProtected() || !h.Dirty() {
		return nil
	}
	if h.cur < 0 || h.cur >= h.geo.Tracks {
		return nil
	}
	for side, buf := range h.bufs {
		if buf == nil {
			continue
		}
		if err := h.file.WriteSectors(h.src.base+h.sideOffset(h.cur, side), buf); err != nil {
			return err
		}
	}
	h.ClearDirty()
	log.Debugf("IMG: track %d written back", h.cur)
	return nil
}

// Close detaches the handler and closes the file.
func (h *Image) Close() error {
	h.Unregister()
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", h.file.Path)
	}
	return nil
}
