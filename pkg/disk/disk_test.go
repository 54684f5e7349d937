package disk

import (
	"testing"

	"github.com/ha1tch/floppyimg/pkg/geometry"
)

func TestNewDisk(t *testing.T) {
	d := NewDisk(80, 2, geometry.HoleHD)
	if !d.Thin {
		t.Errorf("80 tracks should be thin")
	}
	if d.Flags.Hole() != geometry.HoleHD {
		t.Errorf("hole = %v, want HD", d.Flags.Hole())
	}
	if d.Flags&DiskDoubleSided == 0 {
		t.Errorf("double sided flag missing")
	}

	d = NewDisk(40, 1, geometry.HoleDD)
	if d.Thin || d.Flags != 0 {
		t.Errorf("40 track single sided DD disk: thin=%v flags=%02X", d.Thin, d.Flags)
	}
	d.Flags |= DiskSlow2
	if !d.Flags.Slow() {
		t.Errorf("slow flag not reported")
	}
}

func TestSideFlags(t *testing.T) {
	f := MakeSideFlags(geometry.Rate500, true, true)
	if f != 0x28 {
		t.Errorf("flags = %02X, want 28", f)
	}
	if f.Rate() != geometry.Rate500 || !f.MFM() || !f.RPM360() || f.Encoding() != MFM {
		t.Errorf("decoded flags do not round-trip: %02X", f)
	}
	if MakeSideFlags(geometry.Rate250, false, false) != 0x02 {
		t.Errorf("FM 250 kbps flags wrong")
	}
}

func TestSelection(t *testing.T) {
	track := &Track{
		Sectors: []Sector{
			{ID: SectorID{0, 0, 1, 2}, Size: 4, Data: []byte{1, 2, 3, 4}},
			{ID: SectorID{0, 0, 2, 2}, Size: 4, Data: []byte{5, 6, 7, 8}},
		},
	}

	var sel Selection
	if !sel.Select(track, SectorID{0, 0, 2, 2}) {
		t.Fatalf("Failed to select existing sector")
	}
	if got := sel.ByteAt(1); got != 6 {
		t.Errorf("ByteAt(1) = %d, want 6", got)
	}
	if !sel.SetByteAt(1, 0x55) || track.Sectors[1].Data[1] != 0x55 {
		t.Errorf("write did not reach the sector")
	}
	if got := sel.ByteAt(10); got != FillByte {
		t.Errorf("out of range read = %02X, want fill byte", got)
	}

	if sel.Select(track, SectorID{0, 0, 3, 2}) {
		t.Errorf("missing sector reported as found")
	}
	if got := sel.ByteAt(0); got != FillByte {
		t.Errorf("read from missing sector = %02X, want %02X", got, FillByte)
	}
	if sel.SetByteAt(0, 1) {
		t.Errorf("write to missing sector reported success")
	}
}
