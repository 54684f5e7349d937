package drive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/layout"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	return path
}

// rawImage is a 360K image without a boot sector; every sector holds its
// own number.
func rawImage() []byte {
	data := make([]byte, 368640)
	for i := 0; i < len(data); i += 512 {
		n := i/512%9 + 1
		for j := 0; j < 512; j++ {
			data[i+j] = byte(n)
		}
	}
	return data
}

// imdImage holds one single sided track of nine 512 byte sectors.
func imdImage() []byte {
	out := []byte("IMD 1.18: 15/10/2026 12:00:00\r\nregistry test\x1A")
	out = append(out, 5, 0, 0, 9, 2)
	for r := byte(1); r <= 9; r++ {
		out = append(out, r)
	}
	for r := byte(1); r <= 9; r++ {
		out = append(out, 2, 0xA0+r)
	}
	return out
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   []byte
		format string
	}{
		{"raw", "disk.img", rawImage(), "IMG"},
		{"imd", "disk.img", imdImage(), "IMD"},
		{"json", "disk.json", []byte(`[[[{"sector":1,"length":512,"data":[0]}]]]`), "JSON"},
		{"raw with td prefix", "disk.img", append([]byte("TD"), rawImage()[2:]...), "IMG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Open(writeFile(t, tt.file, tt.data), diskimg.Drive{Policy: diskimg.DefaultPolicy()}, img.DefaultOptions())
			if err != nil {
				t.Fatalf("Failed to open: %v", err)
			}
			defer h.Close()
			if h.Format() != tt.format {
				t.Errorf("format %q, want %q", h.Format(), tt.format)
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, diskimg.ErrNotThisFormat},
		{"broken imd", []byte("IMD 1.18 without a comment terminator"), diskimg.ErrCorruptHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Open(writeFile(t, "disk.img", tt.data), diskimg.Drive{Policy: diskimg.DefaultPolicy()}, img.DefaultOptions())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if h != nil {
				t.Errorf("failed open returned a handler")
			}
		})
	}
}

func TestAttachDetach(t *testing.T) {
	eng := layout.NewRecorder()
	r := NewRegistry(eng)
	raw := writeFile(t, "a.img", rawImage())
	imd := writeFile(t, "b.imd", imdImage())

	h, err := r.Attach(1, raw, diskimg.DefaultPolicy())
	if err != nil {
		t.Fatalf("Failed to attach: %v", err)
	}
	if eng.Slot(1) == nil || eng.Slot(1).Handler != h {
		t.Fatalf("handler not registered with the engine")
	}
	if _, err := r.Attach(1, imd, diskimg.DefaultPolicy()); !errors.Is(err, diskimg.ErrSlotBusy) {
		t.Errorf("second attach error = %v", err)
	}
	if _, err := r.Attach(0, imd, diskimg.DefaultPolicy()); err != nil {
		t.Fatalf("Failed to attach: %v", err)
	}

	slots := r.Slots()
	if len(slots) != 2 || slots[0] != 0 || slots[1] != 1 {
		t.Errorf("slots %v", slots)
	}
	if r.Path(1) != raw || r.Path(0) != imd {
		t.Errorf("paths %q %q", r.Path(0), r.Path(1))
	}

	if err := r.Seek(1, 5); err != nil {
		t.Fatalf("Failed to seek: %v", err)
	}
	if eng.Slot(1).Track != 5 || len(eng.Slot(1).Sides[1].Sectors) != 9 {
		t.Errorf("engine at track %d with %d sectors", eng.Slot(1).Track, len(eng.Slot(1).Sides[1].Sectors))
	}
	if !h.SetSector(1, disk.SectorID{C: 5, H: 1, R: 4, N: 2}) || h.ReadData(1, 0) != 4 {
		t.Errorf("sector 4 of track 5 side 1 not readable")
	}

	if err := r.Detach(1); err != nil {
		t.Fatalf("Failed to detach: %v", err)
	}
	if eng.Slot(1) != nil {
		t.Errorf("engine still holds slot 1")
	}
	if _, err := r.Handler(1); !errors.Is(err, diskimg.ErrNoDisk) {
		t.Errorf("handler error = %v", err)
	}
	if err := r.Detach(1); !errors.Is(err, diskimg.ErrNoDisk) {
		t.Errorf("detach error = %v", err)
	}
	if err := r.Seek(1, 0); !errors.Is(err, diskimg.ErrNoDisk) {
		t.Errorf("seek error = %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if len(r.Slots()) != 0 {
		t.Errorf("slots left after close: %v", r.Slots())
	}
}

func TestAttachFailureLeavesSlotEmpty(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Attach(0, filepath.Join(t.TempDir(), "missing.img"), diskimg.DefaultPolicy()); err == nil {
		t.Fatalf("attaching a missing file succeeded")
	}
	if len(r.Slots()) != 0 || r.Path(0) != "" {
		t.Errorf("failed attach left slot state")
	}
	if _, err := r.Attach(0, writeFile(t, "disk.img", rawImage()), diskimg.DefaultPolicy()); err != nil {
		t.Fatalf("Failed to attach after a failure: %v", err)
	}
	r.Close()
}
