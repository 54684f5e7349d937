package layout

import (
	"bytes"
	"testing"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

type fixedTrack struct {
	diskimg.SectorLevel
	track *disk.Track
}

func (f *fixedTrack) Format() string   { return "test" }
func (f *fixedTrack) Writeback() error { return nil }
func (f *fixedTrack) Close() error     { return nil }

func (f *fixedTrack) Seek(track int) error {
	f.Present(track, f.track)
	return nil
}

func newFixed(r *Recorder, spt int) *fixedTrack {
	t := &disk.Track{Rate: geometry.Rate250, Encoding: disk.MFM, Gap2: 22, Gap3: 80}
	for i := 0; i < spt; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 512)
		t.Sectors = append(t.Sectors, disk.Sector{
			ID:   disk.SectorID{C: 0, H: 0, R: uint8(i + 1), N: 2},
			Size: 512,
			Data: data,
		})
	}
	h := &fixedTrack{track: t}
	h.SectorLevel = diskimg.NewSectorLevel(diskimg.Drive{Slot: 1, Engine: r}, disk.NewDisk(40, 1, geometry.HoleDD))
	h.Register(h)
	return h
}

func TestRecorderPositions(t *testing.T) {
	r := NewRecorder()
	h := newFixed(r, 9)
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}

	st := r.Slot(1)
	if st == nil || st.FirstID == nil {
		t.Fatalf("first sector ID not recorded")
	}
	if st.FirstID.R != 1 {
		t.Errorf("first sector R = %d, want 1", st.FirstID.R)
	}

	side := st.Sides[0]
	if side.Pretrack != geometry.PretrackMFM {
		t.Errorf("pretrack ends at %d, want %d", side.Pretrack, geometry.PretrackMFM)
	}
	if len(side.Sectors) != 9 {
		t.Fatalf("%d sectors laid out, want 9", len(side.Sectors))
	}
	step := geometry.PreSectorMFM + 512 + 2 + 80
	for i, rec := range side.Sectors {
		if want := geometry.PretrackMFM + i*step; rec.Pos != want {
			t.Errorf("sector %d at %d, want %d", i, rec.Pos, want)
		}
	}
	want := geometry.TrackUsage(true, h.track.Sizes()) + 9*80
	if side.Used() != want {
		t.Errorf("used %d bytes, want %d", side.Used(), want)
	}
}

func TestRender(t *testing.T) {
	r := NewRecorder()
	h := newFixed(r, 9)
	h.track.Sectors[2].Flags = disk.SectorDeleted
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}

	raw, err := r.Render(1, 0)
	if err != nil {
		t.Fatalf("Failed to render: %v", err)
	}
	if len(raw) != 6250 {
		t.Errorf("rendered %d bytes, want 6250", len(raw))
	}

	side := r.Slot(1).Sides[0]
	first := side.Sectors[0]
	crcAt := first.Pos + 12 + 4 + 4
	if raw[crcAt] != 0xCA || raw[crcAt+1] != 0x6F {
		t.Errorf("ID CRC = %02X%02X, want CA6F", raw[crcAt], raw[crcAt+1])
	}

	third := side.Sectors[2]
	if mark := raw[third.DataPos-1]; mark != markDDAM {
		t.Errorf("deleted sector mark = %02X", mark)
	}
	if !bytes.Equal(raw[third.DataPos:third.DataPos+512], h.track.Sectors[2].Data) {
		t.Errorf("sector data not where the recorder placed it")
	}
	if raw[len(raw)-1] != gapByte {
		t.Errorf("track not padded with gap bytes")
	}
}

func TestRecorderZeroAndUnregister(t *testing.T) {
	r := NewRecorder()
	h := newFixed(r, 9)
	h.track = nil
	if err := h.Seek(3); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	st := r.Slot(1)
	if !st.Zeroed || st.Track != 3 || len(st.Sides[0].Sectors) != 0 {
		t.Errorf("empty track not zeroed: %+v", st)
	}

	h.Unregister()
	if r.Slot(1) != nil {
		t.Errorf("slot still present after unregister")
	}
	if _, err := r.Render(1, 0); err == nil {
		t.Errorf("render of an empty slot should fail")
	}
}
