// file: pkg/diskimg/diskimg.go

// Package diskimg defines the contract between floppy image loaders and the
// track assembly engine that turns their sectors into timed raw tracks.
package diskimg

import (
	"github.com/ha1tch/floppyimg/pkg/disk"
)

// Slot identifies a floppy drive.
type Slot int

// FloppyHandler is what a loader leaves behind after a successful load. The
// engine calls it for one drive slot only and never concurrently.
type FloppyHandler interface {
	// Format names the image format, e.g. "IMD".
	Format() string
	Disk() *disk.Disk

	DiskFlags() disk.DiskFlags
	SideFlags(side int) disk.SideFlags

	// Seek lays out the tracks found under the heads at a physical track.
	Seek(track int) error
	// Writeback flushes the current track to the backing file. Formats that
	// cannot be written return nil without doing anything.
	Writeback() error

	// SetSector selects the sector for ReadData and WriteData. A missing
	// sector is not an error; it makes reads return disk.FillByte.
	SetSector(side int, id disk.SectorID) bool
	ReadData(side, pos int) byte
	WriteData(side, pos int, b byte)
	FormatConditions(req FormatRequest) bool

	// Flux level accessors.
	ExtraBitCells(side int) int32
	EncodedData(side int) []uint16
	ReadRevolution(side int) error
	IndexHolePos(side int) uint32
	RawSize(side int) int

	Close() error
}

// SectorTracks is implemented by handlers that hold a sector level model of
// the current track.
type SectorTracks interface {
	CurrentTrack(side int) *disk.Track
}

// Commenter is implemented by formats that carry a free text comment.
type Commenter interface {
	Comment() string
}

// FormatRequest is the low level format the controller is about to perform.
type FormatRequest struct {
	Side     int
	Sectors  int
	SizeCode uint8
}

// Engine is the track assembly engine. Loaders drive it while building the
// raw representation of a track.
type Engine interface {
	Register(slot Slot, h FloppyHandler)
	Unregister(slot Slot)

	SetCurrentTrack(slot Slot, track int)
	ZeroOutTrack(slot Slot)
	ResetIndexHoleTracking(slot Slot, side int)
	DestroyPendingSectorLists(slot Slot, side int)
	PreparePretrack(slot Slot, side, start int) int
	PrepareSector(slot Slot, side, pos int, id disk.SectorID, data []byte, size, gap2, gap3 int, flags disk.SectorFlags) int
	RecordFirstSectorID(slot Slot, id disk.SectorID)
}

// Policy holds the per drive options a caller passes to a loader.
type Policy struct {
	WriteProtect bool // refuse writes whatever the image allows
	Turbo        bool // keep tracks whose sectors overflow the raw track
	CheckBPB     bool // trust a BIOS parameter block before guessing by size
	DoubleStep   bool // 80 track drive reading 40 track media
}

// DefaultPolicy returns the policy used when the caller has no preference.
func DefaultPolicy() Policy {
	return Policy{CheckBPB: true}
}

// Drive is everything a loader needs to know about where it is attached.
type Drive struct {
	Slot   Slot
	Engine Engine
	Policy Policy
}

// EngineOrNop returns the drive's engine, or one that ignores every call
// when none is wired.
func (d Drive) EngineOrNop() Engine {
	if d.Engine == nil {
		return nopEngine{}
	}
	return d.Engine
}
