// file: pkg/diskimg/track.go

package diskimg

import (
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// SectorLevel implements the FloppyHandler methods shared by every format
// that stores sectors rather than flux. Loaders embed it and add Seek,
// Writeback and Close.
type SectorLevel struct {
	Drive Drive
	Geo   *disk.Disk

	// Fallback is reported as the side flags while no track is present.
	Fallback disk.SideFlags

	tracks   [2]*disk.Track
	selected [2]disk.Selection
	dirty    bool
}

// NewSectorLevel prepares the shared state for a loaded disk.
func NewSectorLevel(drv Drive, d *disk.Disk) SectorLevel {
	if drv.Policy.WriteProtect {
		d.WriteProtect = true
	}
	return SectorLevel{Drive: drv, Geo: d}
}

func (s *SectorLevel) Disk() *disk.Disk          { return s.Geo }
func (s *SectorLevel) DiskFlags() disk.DiskFlags { return s.Geo.Flags }

func (s *SectorLevel) SideFlags(side int) disk.SideFlags {
	if t := s.CurrentTrack(side); t != nil {
		return t.SideFlags()
	}
	return s.Fallback
}

// CurrentTrack returns the track last presented for side, or nil.
func (s *SectorLevel) CurrentTrack(side int) *disk.Track {
	if side < 0 || side > 1 {
		return nil
	}
	return s.tracks[side]
}

// WriteProtected reports whether writes are refused.
func (s *SectorLevel) WriteProtected() bool {
	return s.Geo.WriteProtect || s.Drive.Policy.WriteProtect
}

// Dirty reports whether WriteData changed the current tracks since the
// last ClearDirty.
func (s *SectorLevel) Dirty() bool { return s.dirty }
func (s *SectorLevel) ClearDirty() { s.dirty = false }

func (s *SectorLevel) SetSector(side int, id disk.SectorID) bool {
	if side < 0 || side > 1 {
		return false
	}
	return s.selected[side].Select(s.tracks[side], id)
}

func (s *SectorLevel) ReadData(side, pos int) byte {
	if side < 0 || side > 1 {
		return disk.FillByte
	}
	return s.selected[side].ByteAt(pos)
}

func (s *SectorLevel) WriteData(side, pos int, b byte) {
	if side < 0 || side > 1 || s.WriteProtected() {
		return
	}
	if s.selected[side].SetByteAt(pos, b) {
		s.dirty = true
	}
}

// FormatConditions accepts a format only when it reproduces the current
// track: same sector count and one uniform size code.
func (s *SectorLevel) FormatConditions(req FormatRequest) bool {
	t := s.CurrentTrack(req.Side)
	if t == nil || s.WriteProtected() || len(t.Sectors) != req.Sectors {
		return false
	}
	for _, sec := range t.Sectors {
		if sec.ID.N != req.SizeCode {
			return false
		}
	}
	return true
}

func (s *SectorLevel) ExtraBitCells(side int) int32  { return 0 }
func (s *SectorLevel) EncodedData(side int) []uint16 { return nil }
func (s *SectorLevel) ReadRevolution(side int) error { return nil }
func (s *SectorLevel) IndexHolePos(side int) uint32  { return 0 }

// RawSize is the nominal number of bit cells of the current track.
func (s *SectorLevel) RawSize(side int) int {
	f := s.SideFlags(side)
	return geometry.RawBitCells(f.Rate(), f.RPM360())
}

// ImageTrack maps the physical head position to a track of the image,
// halving it when a 96 tpi drive double steps 48 tpi media.
func (s *SectorLevel) ImageTrack(track int) int {
	if s.Drive.Policy.DoubleStep && !s.Geo.Thin {
		return track / 2
	}
	return track
}

// Present hands the tracks found at a physical track to the engine and
// makes them current. A nil side is left blank.
func (s *SectorLevel) Present(track int, sides ...*disk.Track) {
	eng := s.engine()
	slot := s.Drive.Slot

	eng.SetCurrentTrack(slot, track)
	eng.ZeroOutTrack(slot)

	s.tracks = [2]*disk.Track{}
	for i := range s.selected {
		s.selected[i].Clear()
	}
	s.dirty = false

	first := true
	for side, t := range sides {
		if side > 1 {
			break
		}
		s.tracks[side] = t
		if t == nil || len(t.Sectors) == 0 {
			continue
		}

		eng.ResetIndexHoleTracking(slot, side)
		eng.DestroyPendingSectorLists(slot, side)
		pos := eng.PreparePretrack(slot, side, 0)
		for i := range t.Sectors {
			sec := &t.Sectors[i]
			pos = eng.PrepareSector(slot, side, pos, sec.ID, sec.Data, sec.Size, t.Gap2, t.Gap3, sec.Flags)
			if first {
				eng.RecordFirstSectorID(slot, sec.ID)
				first = false
			}
		}
	}
}

// Register announces the handler to the engine.
func (s *SectorLevel) Register(h FloppyHandler) {
	s.engine().Register(s.Drive.Slot, h)
}

// Unregister detaches the handler from the engine.
func (s *SectorLevel) Unregister() {
	s.engine().Unregister(s.Drive.Slot)
	s.tracks = [2]*disk.Track{}
}

func (s *SectorLevel) engine() Engine {
	return s.Drive.EngineOrNop()
}

type nopEngine struct{}

func (nopEngine) Register(Slot, FloppyHandler)             {}
func (nopEngine) Unregister(Slot)                          {}
func (nopEngine) SetCurrentTrack(Slot, int)                {}
func (nopEngine) ZeroOutTrack(Slot)                        {}
func (nopEngine) ResetIndexHoleTracking(Slot, int)         {}
func (nopEngine) DestroyPendingSectorLists(Slot, int)      {}
func (nopEngine) PreparePretrack(_ Slot, _, start int) int { return start }
func (nopEngine) PrepareSector(_ Slot, _, pos int, _ disk.SectorID, _ []byte, _, _, _ int, _ disk.SectorFlags) int {
	return pos
}
func (nopEngine) RecordFirstSectorID(Slot, disk.SectorID) {}
