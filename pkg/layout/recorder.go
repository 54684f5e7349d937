// file: pkg/layout/recorder.go

// Package layout provides an in-memory track assembly engine. It keeps the
// position of every field of the tracks a loader presents and can render
// them as the byte stream a controller would see.
package layout

import (
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
)

// SectorRecord is one sector as prepared on a side.
type SectorRecord struct {
	ID      disk.SectorID
	Pos     int // raw byte offset of the ID field sync
	DataPos int // raw byte offset of the first data byte
	Size    int
	Gap2    int
	Gap3    int
	Flags   disk.SectorFlags
	Data    []byte
}

// Side is the layout of one side of the current track.
type Side struct {
	Flags    disk.SideFlags
	Pretrack int // end of the pre-track area
	End      int // end of the last sector including its gap3
	Sectors  []SectorRecord
	Resets   int // index hole tracking resets
}

// Used returns the raw bytes the laid out fields occupy.
func (s *Side) Used() int { return s.End }

// Slot is the state of one drive.
type Slot struct {
	Handler diskimg.FloppyHandler
	Track   int
	Zeroed  bool
	FirstID *disk.SectorID
	Sides   [2]Side
}

// Recorder implements diskimg.Engine.
type Recorder struct {
	slots map[diskimg.Slot]*Slot
}

// NewRecorder returns an engine with no drives attached.
func NewRecorder() *Recorder {
	return &Recorder{slots: map[diskimg.Slot]*Slot{}}
}

func (r *Recorder) slot(s diskimg.Slot) *Slot {
	st, ok := r.slots[s]
	if !ok {
		st = &Slot{}
		r.slots[s] = st
	}
	return st
}

// Slot returns the state of a drive, nil when nothing was ever recorded.
func (r *Recorder) Slot(s diskimg.Slot) *Slot {
	return r.slots[s]
}

func (r *Recorder) Register(s diskimg.Slot, h diskimg.FloppyHandler) {
	r.slot(s).Handler = h
	log.Debugf("layout: slot %d registered %s handler", s, h.Format())
}

func (r *Recorder) Unregister(s diskimg.Slot) {
	delete(r.slots, s)
}

func (r *Recorder) SetCurrentTrack(s diskimg.Slot, track int) {
	r.slot(s).Track = track
}

func (r *Recorder) ZeroOutTrack(s diskimg.Slot) {
	st := r.slot(s)
	st.Sides = [2]Side{}
	st.FirstID = nil
	st.Zeroed = true
}

func (r *Recorder) ResetIndexHoleTracking(s diskimg.Slot, side int) {
	r.slot(s).Sides[side&1].Resets++
}

func (r *Recorder) DestroyPendingSectorLists(s diskimg.Slot, side int) {
	r.slot(s).Sides[side&1].Sectors = nil
}

func (r *Recorder) PreparePretrack(s diskimg.Slot, side, start int) int {
	st := r.slot(s)
	sd := &st.Sides[side&1]
	sd.Flags = r.sideFlags(st, side)

	pos := start + pretrackBytes(sd.Flags.MFM())
	sd.Pretrack = pos
	sd.End = pos
	st.Zeroed = false
	return pos
}

func (r *Recorder) PrepareSector(s diskimg.Slot, side, pos int, id disk.SectorID, data []byte, size, gap2, gap3 int, flags disk.SectorFlags) int {
	sd := &r.slot(s).Sides[side&1]
	idLen, markLen := idFieldBytes(sd.Flags.MFM())

	rec := SectorRecord{
		ID:    id,
		Pos:   pos,
		Size:  size,
		Gap2:  gap2,
		Gap3:  gap3,
		Flags: flags,
		Data:  data,
	}
	next := pos + idLen + gap2
	if flags&disk.SectorNoData == 0 {
		rec.DataPos = next + markLen
		next = rec.DataPos + size + 2
	}
	next += gap3

	sd.Sectors = append(sd.Sectors, rec)
	sd.End = next
	return next
}

func (r *Recorder) RecordFirstSectorID(s diskimg.Slot, id disk.SectorID) {
	r.slot(s).FirstID = &id
}

func (r *Recorder) sideFlags(st *Slot, side int) disk.SideFlags {
	if st.Handler == nil {
		return disk.SideMFM
	}
	return st.Handler.SideFlags(side)
}

// pretrackBytes covers gap4a, the index mark with its sync and gap1.
func pretrackBytes(mfm bool) int {
	if mfm {
		return 80 + 12 + 4 + 50
	}
	return 40 + 6 + 1 + 26
}

// idFieldBytes returns the length of the ID field (sync, mark, CHRN, CRC)
// and of the data mark with its sync.
func idFieldBytes(mfm bool) (int, int) {
	if mfm {
		return 12 + 4 + 4 + 2, 12 + 4
	}
	return 6 + 1 + 4 + 2, 6 + 1
}
