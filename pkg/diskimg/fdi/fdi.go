// file: pkg/diskimg/fdi/fdi.go

// Package fdi attaches FDI flux images. Tracks are decoded to bit cells
// by fdi2raw one revolution at a time; there is no sector level model and
// the image is never written.
package fdi

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/fdi2raw"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// Image is the handler of an attached FDI image.
type Image struct {
	drv     diskimg.Drive
	file    *diskimg.ImageFile
	fdi     *fdi2raw.FDI
	geo     *disk.Disk
	rate    geometry.Rate
	rpm360  bool
	density int

	track int // image track of the current revolutions, -1 for none
	revs  [2]*fdi2raw.Revolution
	words [2][]uint16
	errs  [2]error
}

// Load opens the FDI image at path and attaches it to drv.
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
	h.drv.EngineOrNop().Register(drv.Slot, h)
	return h, nil
}

func load(f *diskimg.ImageFile, drv diskimg.Drive) (*Image, error) {
	img, err := fdi2raw.Open(f, f.Size)
	if err != nil {
		return nil, mapError(err)
	}

	h := &Image{drv: drv, file: f, fdi: img, track: -1}
	h.rate, h.density = geometry.Rate250, fdi2raw.DensityDouble
	hole := geometry.HoleDD
	if img.BitRate() == 500 {
		h.rate, h.density = geometry.Rate500, fdi2raw.DensityHigh
		hole = geometry.HoleHD
	}
	h.rpm360 = img.RPM >= 350

	h.geo = disk.NewDisk(img.LastTrack+1, img.Heads(), hole)
	h.geo.Flags |= disk.DiskExtraBitCells
	if img.TPI >= 96 {
		h.geo.Thin = true
	}
	h.geo.WriteProtect = img.WriteProtected || f.ReadOnly || drv.Policy.WriteProtect
	if img.WriteProtected && !drv.Policy.WriteProtect {
		log.Debugf("FDI: image write protect bit set")
		h.drv.Policy.WriteProtect = true
	}
	log.Debugf("FDI: %d tracks, %d sides, %d kbps, %d rpm", h.geo.Tracks, h.geo.Sides, img.BitRate(), img.RPM)
	return h, nil
}

// mapError turns fdi2raw failures into loader errors.
func mapError(err error) error {
	switch {
	case errors.Is(err, fdi2raw.ErrNotFDI):
		return diskimg.ErrNotThisFormat
	case errors.Is(err, fdi2raw.ErrCorruptHeader):
		return errors.Wrap(diskimg.ErrCorruptHeader, err.Error())
	case errors.Is(err, fdi2raw.ErrUnsupported), errors.Is(err, fdi2raw.ErrUnknownOpcode):
		return errors.Wrap(diskimg.ErrUnsupportedSectorEncoding, err.Error())
	}
	return errors.Wrap(diskimg.ErrCorruptStream, err.Error())
}

func (h *Image) Format() string            { return "FDI" }
func (h *Image) Disk() *disk.Disk          { return h.geo }
func (h *Image) DiskFlags() disk.DiskFlags { return h.geo.Flags }
func (h *Image) Writeback() error          { return nil }

// WriteProtected reports the image's own write protect bit as well as the
// drive policy.
func (h *Image) WriteProtected() bool { return h.geo.WriteProtect || h.drv.Policy.WriteProtect }

func (h *Image) Creator() string        { return h.fdi.Creator }
func (h *Image) Comment() string        { return h.fdi.Comment }
func (h *Image) Header() fdi2raw.Header { return h.fdi.Header }

// There are no sectors to select; reads see the fill byte.
func (h *Image) SetSector(int, disk.SectorID) bool { return false }
func (h *Image) ReadData(int, int) byte            { return disk.FillByte }
func (h *Image) WriteData(int, int, byte)          {}

// FormatConditions refuses every format; flux images are read-only.
func (h *Image) FormatConditions(diskimg.FormatRequest) bool { return false }

// Version returns the FDI revision the file was written with.
func (h *Image) Version() string {
	return fmt.Sprintf("%d.%d", h.fdi.VersionMajor, h.fdi.VersionMinor)
}

func (h *Image) SideFlags(side int) disk.SideFlags {
	return disk.MakeSideFlags(h.rate, true, h.rpm360)
}

func (h *Image) imageTrack(track int) int {
	if h.drv.Policy.DoubleStep && !h.geo.Thin {
		return track / 2
	}
	return track
}

// Seek decodes one revolution of each side under the heads. A track that
// fails to decode is left blank; ReadRevolution reports why.
func (h *Image) Seek(track int) error {
	eng := h.drv.EngineOrNop()
	eng.SetCurrentTrack(h.drv.Slot, track)
	eng.ZeroOutTrack(h.drv.Slot)

	h.track = h.imageTrack(track)
	for side := 0; side < 2; side++ {
		h.revs[side], h.words[side], h.errs[side] = nil, nil, nil
		if side >= h.geo.Sides || h.track >= h.geo.Tracks {
			continue
		}
		if err := h.ReadRevolution(side); err != nil {
			log.Warnf("FDI: track %d side %d: %v", h.track, side, err)
		}
		eng.ResetIndexHoleTracking(h.drv.Slot, side)
	}
	return nil
}

// ReadRevolution decodes a fresh revolution of the current track on side.
// Low level tracks come out slightly different on every call.
func (h *Image) ReadRevolution(side int) error {
	if side < 0 || side > 1 || h.track < 0 {
		return nil
	}
	if side >= h.geo.Sides || h.track >= h.geo.Tracks {
		return nil
	}
	rev, err := h.fdi.LoadTrack(h.track*h.geo.Sides+side, h.density)
	if err != nil {
		h.revs[side], h.words[side] = nil, nil
		h.errs[side] = mapError(err)
		return h.errs[side]
	}
	h.revs[side], h.words[side], h.errs[side] = rev, rev.Words(), nil
	return nil
}

func (h *Image) nominal() int {
	return geometry.RawBitCells(h.rate, h.rpm360)
}

// EncodedData returns the cells of the current revolution as big-endian
// words, nil when the track is blank.
func (h *Image) EncodedData(side int) []uint16 {
	if side < 0 || side > 1 {
		return nil
	}
	return h.words[side]
}

// RawSize is the cell count of the current revolution, or the nominal
// count for a blank track.
func (h *Image) RawSize(side int) int {
	if rev := h.revolution(side); rev != nil && rev.Length > 0 {
		return rev.Length
	}
	return h.nominal()
}

// ExtraBitCells is how far the revolution deviates from the nominal
// length.
func (h *Image) ExtraBitCells(side int) int32 {
	return int32(h.RawSize(side) - h.nominal())
}

func (h *Image) IndexHolePos(side int) uint32 {
	if rev := h.revolution(side); rev != nil {
		return uint32(rev.Index)
	}
	return 0
}

// Timing returns the per-byte cell timing of the current revolution, nil
// unless it was decoded from flux pulses.
func (h *Image) Timing(side int) []uint16 {
	if rev := h.revolution(side); rev != nil {
		return rev.Timing
	}
	return nil
}

// WeakBits counts the unstable pulses of the current track.
func (h *Image) WeakBits(side int) int {
	if rev := h.revolution(side); rev != nil {
		return rev.WeakBits
	}
	return 0
}

func (h *Image) revolution(side int) *fdi2raw.Revolution {
	if side < 0 || side > 1 {
		return nil
	}
	return h.revs[side]
}

func (h *Image) Close() error {
	h.drv.EngineOrNop().Unregister(h.drv.Slot)
	h.revs, h.words = [2]*fdi2raw.Revolution{}, [2][]uint16{}
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", h.file.Path)
	}
	return nil
}
