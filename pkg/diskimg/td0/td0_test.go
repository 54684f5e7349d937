package td0

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
	"github.com/ha1tch/floppyimg/pkg/lzhuf"
)

func tdHeader(sig string, version, rate, drive, stepping, sides byte) []byte {
	b := []byte{sig[0], sig[1], 0, 0, version, rate, drive, stepping, 0, sides}
	crc := crc16(0, b)
	return append(b, byte(crc), byte(crc>>8))
}

func commentRecord(text string) []byte {
	n := len(text)
	b := []byte{0, 0, byte(n), byte(n >> 8), 126, 9, 15, 12, 30, 0}
	return append(b, text...)
}

func trackRecord(count, cyl, head byte) []byte {
	b := []byte{count, cyl, head}
	return append(b, byte(crc16(0, b)))
}

func sectorRecord(cyl, head, r, n, flags byte, data []byte) []byte {
	return append([]byte{cyl, head, r, n, flags, 0}, data...)
}

func block(enc byte, payload []byte) []byte {
	n := len(payload) + 1
	return append([]byte{byte(n), byte(n >> 8), enc}, payload...)
}

func rawData(data []byte) []byte { return block(encRaw, data) }

func patternData(count int, a, b byte) []byte {
	return block(encPattern, []byte{byte(count), byte(count >> 8), a, b})
}

// filledTrack is nine 512 byte sectors, each filled with its sector number.
func filledTrack(cyl, head byte) []byte {
	out := trackRecord(9, cyl, head)
	for r := byte(1); r <= 9; r++ {
		out = append(out, sectorRecord(cyl, head, r, 2, 0, patternData(256, r, r))...)
	}
	return out
}

// standardBody is a 2 track double sided disk whose first track carries
// every encoding and sector flag.
func standardBody() []byte {
	rle := []byte{0, 4, 'A', 'B', 'C', 'D', 1, 254, 0x12, 0x34}

	body := commentRecord("Line one\x00Line two\x00")
	body = append(body, trackRecord(10, 0, 0)...)
	body = append(body, sectorRecord(0, 0, 1, 2, 0, rawData(bytes.Repeat([]byte{1}, 512)))...)
	body = append(body, sectorRecord(0, 0, 2, 2, 0, patternData(256, 0xAA, 0x55))...)
	body = append(body, sectorRecord(0, 0, 3, 2, 0, block(encRLE, rle))...)
	body = append(body, sectorRecord(0, 0, 4, 2, flagCRCError, rawData(bytes.Repeat([]byte{4}, 512)))...)
	body = append(body, sectorRecord(0, 0, 5, 2, flagDeleted, rawData(bytes.Repeat([]byte{5}, 512)))...)
	body = append(body, sectorRecord(0, 0, 6, 2, flagUnallocated, nil)...)
	body = append(body, sectorRecord(0, 0, 7, 2, flagNoData, nil)...)
	body = append(body, sectorRecord(0, 0, 8, 2, 0, patternData(256, 8, 8))...)
	body = append(body, sectorRecord(0, 0, 9, 2, 0, patternData(256, 9, 9))...)
	body = append(body, sectorRecord(0, 0, 9, 2, flagDuplicate, patternData(256, 0x99, 0x99))...)

	body = append(body, filledTrack(0, 1)...)
	body = append(body, filledTrack(1, 0)...)
	body = append(body, filledTrack(1, 1)...)
	return append(body, endOfImage)
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.td0")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

func mustLoad(t *testing.T, image []byte, policy diskimg.Policy) *Image {
	t.Helper()
	h, err := Load(writeFile(t, image), diskimg.Drive{Policy: policy})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func checkStandard(t *testing.T, h *Image) {
	t.Helper()

	if h.Comment() != "Line one\nLine two" {
		t.Errorf("comment = %q", h.Comment())
	}
	if want := time.Date(2026, time.October, 15, 12, 30, 0, 0, time.UTC); !h.Date().Equal(want) {
		t.Errorf("date = %v, want %v", h.Date(), want)
	}
	d := h.Disk()
	if d.Tracks != 2 || d.Sides != 2 || !d.WriteProtect || d.Flags.Hole() != geometry.HoleDD {
		t.Errorf("disk: %d tracks %d sides write protect %v hole %v", d.Tracks, d.Sides, d.WriteProtect, d.Flags.Hole())
	}

	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	tr := h.CurrentTrack(0)
	if len(tr.Sectors) != 9 {
		t.Fatalf("track 0 holds %d sectors, want 9 after dropping the duplicate", len(tr.Sectors))
	}
	if tr.Rate != geometry.Rate250 || tr.Encoding != disk.MFM || tr.Gap3 != 80 {
		t.Errorf("track: %v %v gap3 %d", tr.Rate, tr.Encoding, tr.Gap3)
	}

	tests := []struct {
		r     byte
		head  []byte
		last  byte
		flags disk.SectorFlags
	}{
		{1, []byte{1, 1}, 1, 0},
		{2, []byte{0xAA, 0x55}, 0x55, 0},
		{3, []byte("ABCD\x12\x34"), 0x34, 0},
		{4, []byte{4}, 4, disk.SectorCRCError},
		{5, []byte{5}, 5, disk.SectorDeleted},
		{6, []byte{disk.FillByte}, disk.FillByte, 0},
		{7, []byte{0}, 0, disk.SectorNoData},
		{9, []byte{9}, 9, 0},
	}
	for _, tt := range tests {
		sec := tr.Find(disk.SectorID{C: 0, H: 0, R: tt.r, N: 2})
		if sec == nil {
			t.Errorf("sector %d missing", tt.r)
			continue
		}
		if sec.Flags != tt.flags {
			t.Errorf("sector %d flags %v, want %v", tt.r, sec.Flags, tt.flags)
		}
		if len(sec.Data) != 512 || !bytes.HasPrefix(sec.Data, tt.head) || sec.Data[511] != tt.last {
			t.Errorf("sector %d data % X ... %02X", tt.r, sec.Data[:len(tt.head)], sec.Data[len(sec.Data)-1])
		}
	}

	if err := h.Seek(1); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	if !h.SetSector(1, disk.SectorID{C: 1, H: 1, R: 5, N: 2}) {
		t.Fatalf("sector 5 of track 1 side 1 not found")
	}
	if h.ReadData(1, 100) != 5 {
		t.Errorf("read %02X, want 05", h.ReadData(1, 100))
	}
	h.WriteData(1, 100, 0xEE)
	if h.ReadData(1, 100) != 5 {
		t.Errorf("Teledisk image accepted a write")
	}
}

func TestLoad(t *testing.T) {
	image := append(tdHeader("TD", 21, 0, drive35DD, stepHasComment, 2), standardBody()...)
	h := mustLoad(t, image, diskimg.DefaultPolicy())
	if h.Compressed() {
		t.Errorf("plain image reported as compressed")
	}
	checkStandard(t, h)

	issues, err := diskimg.NewCheck(h).Run()
	if err != nil {
		t.Fatalf("Failed to check: %v", err)
	}
	for _, issue := range issues {
		t.Errorf("check: %v", issue)
	}
}

func TestAdvancedCompression(t *testing.T) {
	image := append(tdHeader("td", 21, 0, drive35DD, stepHasComment, 2), lzhuf.Compress(standardBody())...)
	h := mustLoad(t, image, diskimg.DefaultPolicy())
	if !h.Compressed() {
		t.Errorf("compressed image not reported as such")
	}
	checkStandard(t, h)
}

func TestWithoutComment(t *testing.T) {
	body := append(filledTrack(0, 0), endOfImage)
	h := mustLoad(t, append(tdHeader("TD", 15, 0, drive525DD, 0, 1), body...), diskimg.DefaultPolicy())
	if h.Comment() != "" || !h.Date().IsZero() {
		t.Errorf("comment %q date %v on an image without a comment block", h.Comment(), h.Date())
	}
	if h.Disk().Sides != 1 {
		t.Errorf("sides = %d, want 1", h.Disk().Sides)
	}
}

func TestOddSector(t *testing.T) {
	body := trackRecord(1, 0, 0)
	body = append(body, sectorRecord(0, 0, 1, 6, 0, patternData(4096, 0xA5, 0xA5))...)
	body = append(body, endOfImage)

	h := mustLoad(t, append(tdHeader("TD", 21, 0, drive35DD, 0, 1), body...), diskimg.DefaultPolicy())
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	sec := h.CurrentTrack(0).Sectors[0]
	if sec.Flags&disk.SectorOdd == 0 || sec.Size != 4096 || len(sec.Data) != 4096 {
		t.Errorf("8K sector at 250 kbps: size %d, %d bytes, flags %v", sec.Size, len(sec.Data), sec.Flags)
	}
}

func TestDMFTrack(t *testing.T) {
	body := trackRecord(byte(len(geometry.DMFOrder)), 0, 0)
	for _, r := range geometry.DMFOrder {
		body = append(body, sectorRecord(0, 0, r, 2, 0, patternData(256, r, r))...)
	}
	body = append(body, endOfImage)

	h := mustLoad(t, append(tdHeader("TD", 21, 2, drive35HD, 0, 1), body...), diskimg.DefaultPolicy())
	if err := h.Seek(0); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	tr := h.CurrentTrack(0)
	if !tr.Interleaved || tr.Gap3 != geometry.DMFGap3 {
		t.Errorf("interleaved %v gap3 %d", tr.Interleaved, tr.Gap3)
	}
	if h.Disk().Flags.Hole() != geometry.HoleHD {
		t.Errorf("hole = %v, want HD", h.Disk().Flags.Hole())
	}
}

func TestTrackWontFit(t *testing.T) {
	body := trackRecord(12, 0, 0)
	for r := byte(1); r <= 12; r++ {
		body = append(body, sectorRecord(0, 0, r, 2, 0, patternData(256, 0, 0))...)
	}
	image := append(tdHeader("TD", 21, 0, drive35DD, 0, 1), append(body, endOfImage)...)
	path := writeFile(t, image)

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
	header := tdHeader("TD", 21, 0, drive35DD, 0, 1)
	oneSector := func(data []byte) []byte {
		b := append(append([]byte(nil), header...), trackRecord(1, 0, 0)...)
		b = append(b, sectorRecord(0, 0, 1, 2, 0, data)...)
		return append(b, endOfImage)
	}
	badCRC := append([]byte(nil), header...)
	badCRC[10] ^= 0xFF
	full := append(append([]byte(nil), header...), filledTrack(0, 0)...)

	tests := []struct {
		name  string
		image []byte
		want  error
	}{
		{"not td0", []byte("IMD 1.18: 15/10/2026\r\n\x1A"), diskimg.ErrNotThisFormat},
		{"short", []byte("TD\x00"), diskimg.ErrNotThisFormat},
		{"header checksum", badCRC, diskimg.ErrNotThisFormat},
		{"lzw", tdHeader("td", 15, 0, drive35DD, 0, 1), diskimg.ErrCorruptHeader},
		{"version", tdHeader("TD", 30, 0, drive35DD, 0, 1), diskimg.ErrCorruptHeader},
		{"unknown encoding", oneSector(block(3, make([]byte, 512))), diskimg.ErrUnsupportedSectorEncoding},
		{"run overflow", oneSector(block(encRLE, []byte{1, 255, 0, 0, 1, 255, 0, 0})), diskimg.ErrBufferOverflow},
		{"short sector", oneSector(rawData(make([]byte, 100))), diskimg.ErrCorruptStream},
		{"truncated", full[:len(full)-20], diskimg.ErrCorruptStream},
		{"no tracks", append(append([]byte(nil), header...), endOfImage), diskimg.ErrCorruptStream},
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
