package list

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

// imdImage holds track 0 with a deleted sector and an unformatted track 1.
func imdImage() []byte {
	out := []byte("IMD 1.18: 15/10/2026 12:00:00\r\n\x1A")
	out = append(out, 5, 0, 0, 9, 2)
	for r := byte(1); r <= 9; r++ {
		out = append(out, r)
	}
	for r := byte(1); r <= 9; r++ {
		typ := byte(2)
		if r == 5 {
			typ = 4 // compressed, deleted data
		}
		out = append(out, typ, r)
	}
	out = append(out, 5, 1, 0, 0, 2)
	return out
}

func TestCollect(t *testing.T) {
	tracks, err := Collect(writeFile(t, "disk.imd", imdImage()), DefaultListOptions())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("listed %d tracks, want 2", len(tracks))
	}

	t0 := tracks[0]
	if len(t0.Sectors) != 9 || t0.Rate != 250 || t0.Encoding != "MFM" || t0.Gap3 == 0 {
		t.Errorf("track 0: %+v", t0)
	}
	if t0.Used == 0 || t0.Used > t0.Capacity {
		t.Errorf("track 0 uses %d of %d bytes", t0.Used, t0.Capacity)
	}
	if s := t0.Sectors[4]; s.R != 5 || len(s.Flags) != 1 || s.Flags[0] != "deleted" {
		t.Errorf("sector 5: %+v", s)
	}
	if len(tracks[1].Sectors) != 0 {
		t.Errorf("track 1 has %d sectors", len(tracks[1].Sectors))
	}
}

func TestListText(t *testing.T) {
	var out bytes.Buffer
	opts := DefaultListOptions()
	opts.Long = true
	opts.Output = &out
	if err := List(writeFile(t, "disk.imd", imdImage()), opts); err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	text := out.String()
	for _, want := range []string{"  0.0  250 kbps MFM", " 9 sectors", "00 00 05 02    512  deleted", "  1.0  250 kbps MFM  unformatted"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestListOneTrack(t *testing.T) {
	opts := DefaultListOptions()
	opts.Track = 1
	tracks, err := Collect(writeFile(t, "disk.imd", imdImage()), opts)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Track != 1 {
		t.Errorf("listed %+v", tracks)
	}
}
