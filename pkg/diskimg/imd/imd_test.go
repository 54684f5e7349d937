package imd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

type testSector struct {
	r    byte
	typ  byte
	data []byte // one byte for compressed records
}

type testTrack struct {
	mode, cyl, head byte
	code            byte
	sectors         []testSector
}

func buildIMD(comment string, tracks ...testTrack) []byte {
	out := []byte("IMD 1.18: 15/10/2026 12:00:00\r\n" + comment)
	out = append(out, commentEnd)
	for _, t := range tracks {
		out = append(out, t.mode, t.cyl, t.head, byte(len(t.sectors)), t.code)
		for _, s := range t.sectors {
			out = append(out, s.r)
		}
		for _, s := range t.sectors {
			out = append(out, s.typ)
			out = append(out, s.data...)
		}
	}
	return out
}

func fullSector(r, typ byte) testSector {
	return testSector{r: r, typ: typ, data: bytes.Repeat([]byte{r}, 512)}
}

func doubleDensity(cyl, head byte) testTrack {
	t := testTrack{mode: 5, cyl: cyl, head: head, code: 2}
	for r := byte(1); r <= 9; r++ {
		t.sectors = append(t.sectors, fullSector(r, recNormal))
	}
	return t
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.imd")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t0 := doubleDensity(0, 0)
	t0.sectors[1] = testSector{r: 2, typ: recCompressed, data: []byte{0xE5}}
	t0.sectors[2] = fullSector(3, recDeleted)
	t0.sectors[3] = testSector{r: 4, typ: recErrorCompressed, data: []byte{0x00}}
	t0.sectors[4] = testSector{r: 5, typ: recUnavailable}

	path := writeFile(t, buildIMD("test disk\r\n", t0, doubleDensity(0, 1), doubleDensity(1, 0), doubleDensity(1, 1)))
	h, err := Load(path, diskimg.Drive{Policy: diskimg.DefaultPolicy()})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	defer h.Close()

	if h.Comment() != "test disk" {
		t.Errorf("comment = %q", h.Comment())
	}
	if h.Signature() != "IMD 1.18: 15/10/2026 12:00:00" {
		t.Errorf("signature = %q", h.Signature())
	}
	d := h.Disk()
	if d.Tracks != 2 || d.Sides != 2 || d.Flags.Hole() != geometry.HoleDD {
		t.Errorf("disk: %d tracks %d sides hole %v", d.Tracks, d.Sides, d.Flags.Hole())
	}

	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	tr := h.CurrentTrack(0)
	if tr.Encoding != disk.MFM || tr.Rate != geometry.Rate250 || tr.Gap3 != 80 {
		t.Errorf("track: %v %v gap3 %d", tr.Encoding, tr.Rate, tr.Gap3)
	}
	if h.SideFlags(0) != disk.MakeSideFlags(geometry.Rate250, true, false) {
		t.Errorf("side flags = %02X", h.SideFlags(0))
	}

	tests := []struct {
		slot  int
		first byte
		flags disk.SectorFlags
	}{
		{0, 1, 0},
		{1, 0xE5, 0},
		{2, 3, disk.SectorDeleted},
		{3, 0x00, disk.SectorCRCError},
		{4, 0, disk.SectorNoData},
	}
	for _, tt := range tests {
		sec := tr.Sectors[tt.slot]
		if sec.Flags != tt.flags {
			t.Errorf("slot %d flags %v, want %v", tt.slot, sec.Flags, tt.flags)
		}
		if tt.flags&disk.SectorNoData != 0 {
			if sec.Data != nil {
				t.Errorf("unavailable sector carries data")
			}
			continue
		}
		if len(sec.Data) != 512 || sec.Data[511] != tt.first {
			t.Errorf("slot %d: %d bytes ending in %02X", tt.slot, len(sec.Data), sec.Data[len(sec.Data)-1])
		}
	}

	h.SetSector(0, disk.SectorID{C: 0, H: 0, R: 5, N: 2})
	if h.ReadData(0, 0) != disk.FillByte {
		t.Errorf("unavailable sector should read as fill")
	}
}

func TestRoundTrip(t *testing.T) {
	t0 := doubleDensity(0, 0)
	t0.sectors[1] = testSector{r: 2, typ: recCompressed, data: []byte{0xE5}}
	orig := buildIMD("", t0, doubleDensity(1, 0))
	path := writeFile(t, orig)

	h, err := Load(path, diskimg.Drive{Policy: diskimg.DefaultPolicy()})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}

	t.Run("unchanged", func(t *testing.T) {
		h.SetSector(0, disk.SectorID{C: 0, H: 0, R: 1, N: 2})
		h.WriteData(0, 0, 1)
		if err := h.Writeback(); err != nil {
			t.Fatalf("Failed to write back: %v", err)
		}
		got, _ := os.ReadFile(path)
		if !bytes.Equal(got, orig) {
			t.Errorf("rewriting identical data changed the file")
		}
	})

	t.Run("patched", func(t *testing.T) {
		h.SetSector(0, disk.SectorID{C: 0, H: 0, R: 3, N: 2})
		h.WriteData(0, 7, 0x42)

		// A single changed byte cannot be stored in a compressed record.
		h.SetSector(0, disk.SectorID{C: 0, H: 0, R: 2, N: 2})
		h.WriteData(0, 0, 0x00)

		if err := h.Writeback(); err != nil {
			t.Fatalf("Failed to write back: %v", err)
		}
		got, _ := os.ReadFile(path)
		want := append([]byte(nil), orig...)
		// header, descriptor, IDs, then sectors 1 and 2 and the type byte of 3
		off := len("IMD 1.18: 15/10/2026 12:00:00\r\n") + 1 + 5 + 9 + 513 + 2 + 1 + 7
		want[off] = 0x42
		if !bytes.Equal(got, want) {
			t.Errorf("write back mismatch")
		}
	})

	t.Run("new fill byte", func(t *testing.T) {
		h.SetSector(0, disk.SectorID{C: 0, H: 0, R: 2, N: 2})
		for i := 0; i < 512; i++ {
			h.WriteData(0, i, 0x11)
		}
		if err := h.Writeback(); err != nil {
			t.Fatalf("Failed to write back: %v", err)
		}
		got, _ := os.ReadFile(path)
		off := len("IMD 1.18: 15/10/2026 12:00:00\r\n") + 1 + 5 + 9 + 513 + 1
		if got[off] != 0x11 {
			t.Errorf("fill byte = %02X, want 11", got[off])
		}
	})

	h.Close()
}

func TestSizeMapAndOddSectors(t *testing.T) {
	tr := testTrack{mode: 5, cyl: 0, head: 0, code: sizeMapFollows}
	tr.sectors = []testSector{
		{r: 1, typ: recNormal, data: make([]byte, 512)},
		{r: 2, typ: recNormal, data: make([]byte, 300)},
	}
	image := []byte("IMD 1.18\r\n")
	image = append(image, commentEnd, tr.mode, tr.cyl, tr.head, 2, tr.code, 1, 2)
	image = append(image, 0x00, 0x02, 0x2C, 0x01)
	for _, s := range tr.sectors {
		image = append(image, s.typ)
		image = append(image, s.data...)
	}

	h, err := Load(writeFile(t, image), diskimg.Drive{Policy: diskimg.DefaultPolicy()})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	defer h.Close()
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	secs := h.CurrentTrack(0).Sectors
	if secs[0].Flags&disk.SectorOdd != 0 || secs[0].Size != 512 {
		t.Errorf("regular sector flagged odd")
	}
	if secs[1].Flags&disk.SectorOdd == 0 || secs[1].Size != 300 {
		t.Errorf("300 byte sector: size %d flags %v", secs[1].Size, secs[1].Flags)
	}
}

func TestDMFTrack(t *testing.T) {
	tr := testTrack{mode: 3, cyl: 4, head: 0, code: 2}
	for _, r := range geometry.DMFOrder {
		tr.sectors = append(tr.sectors, testSector{r: r, typ: recCompressed, data: []byte{r}})
	}
	h, err := Load(writeFile(t, buildIMD("", tr)), diskimg.Drive{Policy: diskimg.DefaultPolicy()})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	defer h.Close()
	if err := h.Seek(4); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	got := h.CurrentTrack(0)
	if !got.Interleaved || got.Gap3 != geometry.DMFGap3 {
		t.Errorf("interleaved %v gap3 %d", got.Interleaved, got.Gap3)
	}
	if h.Disk().Flags.Hole() != geometry.HoleHD {
		t.Errorf("500 kbps image should report an HD hole")
	}
}

func TestTrackWontFit(t *testing.T) {
	tr := testTrack{mode: 5, cyl: 0, head: 0, code: 2}
	for r := byte(1); r <= 12; r++ {
		tr.sectors = append(tr.sectors, testSector{r: r, typ: recCompressed, data: []byte{0}})
	}
	path := writeFile(t, buildIMD("", tr))

	if _, err := Load(path, diskimg.Drive{Policy: diskimg.DefaultPolicy()}); !errors.Is(err, diskimg.ErrTrackWontFit) {
		t.Errorf("12 sectors at 250 kbps: %v", err)
	}
	h, err := Load(path, diskimg.Drive{Policy: diskimg.Policy{Turbo: true}})
	if err != nil {
		t.Fatalf("Failed to load with turbo: %v", err)
	}
	h.Close()
}

func TestCorrupt(t *testing.T) {
	good := buildIMD("", doubleDensity(0, 0))

	tests := []struct {
		name  string
		image []byte
		want  error
	}{
		{"not imd", []byte("TD\x00\x15 not an imd image"), diskimg.ErrNotThisFormat},
		{"no terminator", []byte("IMD 1.18 comment without end"), diskimg.ErrCorruptHeader},
		{"truncated", good[:len(good)-100], diskimg.ErrCorruptStream},
		{"bad mode", append([]byte("IMD \x1A"), 9, 0, 0, 0, 2), diskimg.ErrCorruptStream},
		{"bad record", append([]byte("IMD \x1A"), 5, 0, 0, 1, 2, 1, 9), diskimg.ErrUnsupportedSectorEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.image), diskimg.Drive{Policy: diskimg.DefaultPolicy()})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
