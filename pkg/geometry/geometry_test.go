// file: pkg/geometry/geometry_test.go

package geometry

import (
	"testing"
)

func TestSizeCode(t *testing.T) {
	tests := []struct {
		bytes int
		code  uint8
	}{
		{128, 0}, {256, 1}, {512, 2}, {1024, 3}, {2048, 4},
		{4096, 5}, {8192, 6}, {16384, 7}, {1000, 2},
	}
	for _, tt := range tests {
		if got := SizeCode(tt.bytes); got != tt.code {
			t.Errorf("SizeCode(%d) = %d, want %d", tt.bytes, got, tt.code)
		}
		if tt.bytes != 1000 && CodeSize(tt.code) != tt.bytes {
			t.Errorf("CodeSize(%d) = %d, want %d", tt.code, CodeSize(tt.code), tt.bytes)
		}
	}
}

func TestBytesPerSectorValid(t *testing.T) {
	for k := 0; k <= MaxSizeCode; k++ {
		if !BytesPerSectorValid(128 << k) {
			t.Errorf("%d bytes should be valid", 128<<k)
		}
	}
	for _, n := range []int{0, 64, 500, 513, 32768, 65536} {
		if BytesPerSectorValid(n) {
			t.Errorf("%d bytes should be invalid", n)
		}
	}
}

func TestInterleaveIsPermutation(t *testing.T) {
	for spt := 1; spt <= 36; spt++ {
		for skew := 0; skew < 3; skew++ {
			seen := make(map[int]bool)
			for s := 0; s < spt; s++ {
				id := Interleave(s, skew, spt)
				if id < 1 || id > spt {
					t.Fatalf("spt %d skew %d: id %d out of range", spt, skew, id)
				}
				if seen[id] {
					t.Fatalf("spt %d skew %d: id %d repeated", spt, skew, id)
				}
				seen[id] = true
			}
		}
	}

	want := []int{1, 6, 2, 7, 3, 8, 4, 9, 5}
	for s, id := range want {
		if got := Interleave(s, 0, 9); got != id {
			t.Errorf("Interleave(%d, 0, 9) = %d, want %d", s, got, id)
		}
	}
}

func TestGap3Table(t *testing.T) {
	if got := Gap3(0, 2, 18); got != 108 {
		t.Errorf("1.44M gap3 = %d, want 108", got)
	}
	if got := Gap3(2, 2, 9); got != 80 {
		t.Errorf("720K gap3 = %d, want 80", got)
	}
	if got := Gap3(1, 2, 7); got != 0 {
		t.Errorf("unknown combination should return 0, got %d", got)
	}
}

func TestFitGap3Fallback(t *testing.T) {
	sizes := make([]int, 7)
	for i := range sizes {
		sizes[i] = 512
	}

	fit := Gap3OrFit(Rate300, false, true, 2, sizes)
	used := PretrackMFM + 7*(PreSectorMFM+512+2)
	want := (RawTrackSize(Rate300, false, false) - used - MinimumGap4) / 7
	if !fit.OK || fit.Slow {
		t.Fatalf("expected nominal fit, got %+v", fit)
	}
	if fit.Gap3 != want {
		t.Errorf("gap3 = %d, want %d", fit.Gap3, want)
	}
}

func TestFitGap3RetriesSlower(t *testing.T) {
	// 11 x 512 at 250 kbps leaves 6250-6460 < 0 at nominal speed
	sizes := make([]int, 11)
	for i := range sizes {
		sizes[i] = 512
	}
	fit := FitGap3(Rate250, false, true, sizes)
	if !fit.Slow {
		t.Errorf("expected retry at slower speed")
	}
	if fit.OK {
		t.Errorf("11 sectors should not fit at 250 kbps")
	}

	// 10 x 512 plus a little: fits only when 2% slower
	sizes = make([]int, 10)
	for i := range sizes {
		sizes[i] = 512
	}
	sizes[9] = 512 + 300
	fit = FitGap3(Rate250, false, true, sizes)
	used := TrackUsage(true, sizes)
	if 6250-used >= MinimumGap3*10 {
		t.Fatalf("test layout should not fit at nominal speed")
	}
	if !fit.Slow || !fit.OK {
		t.Errorf("expected slower fit, got %+v", fit)
	}
	if want := (6375 - used) / 10; fit.Gap3 != want {
		t.Errorf("gap3 = %d, want %d", fit.Gap3, want)
	}
}

func TestSelectRate(t *testing.T) {
	tests := []struct {
		name     string
		sizeCode uint8
		spt      int
		tracks   int
		sides    int
		rate     Rate
		hole     Hole
		rpm360   bool
		dmf      bool
		slow     bool
		xdf      XDFType
	}{
		{"360K", 2, 9, 40, 2, Rate250, HoleDD, false, false, false, XDFNone},
		{"720K", 2, 9, 80, 2, Rate250, HoleDD, false, false, false, XDFNone},
		{"1.2M", 2, 15, 80, 2, Rate500, HoleHD, true, false, false, XDFNone},
		{"1.44M", 2, 18, 80, 2, Rate500, HoleHD, false, false, false, XDFNone},
		{"DMF", 2, 21, 80, 2, Rate500, HoleHD, false, true, false, XDFNone},
		{"1.76M", 2, 22, 82, 2, Rate500, HoleHD, false, false, true, XDFNone},
		{"XDF 5.25", 2, 19, 80, 2, Rate500, HoleHD, true, false, false, XDF525},
		{"XDF 3.5", 2, 23, 80, 2, Rate500, HoleHD, false, false, false, XDF35},
		{"2.88M", 2, 36, 80, 2, Rate1000, HoleED, false, false, false, XDFNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := SelectRate(tt.sizeCode, tt.spt, tt.tracks, tt.sides)
			if !ok {
				t.Fatalf("no bucket found")
			}
			if c.Bucket.Rate != tt.rate || c.Bucket.Hole != tt.hole || c.Bucket.RPM360 != tt.rpm360 {
				t.Errorf("bucket = %+v", c.Bucket)
			}
			if c.DMF != tt.dmf || c.Slow != tt.slow || c.XDF != tt.xdf {
				t.Errorf("choice = %+v", c)
			}
		})
	}

	if _, ok := SelectRate(2, 60, 80, 2); ok {
		t.Errorf("60 sectors of 512 bytes should not fit any bucket")
	}
}

func TestGuessFromSize(t *testing.T) {
	tests := []struct {
		size    int
		sectors int
		tracks  int
		sides   int
		code    uint8
	}{
		{163840, 8, 40, 1, 2},
		{163841, 9, 40, 1, 2},
		{184320, 9, 40, 1, 2},
		{327680, 8, 40, 2, 2},
		{368640, 9, 40, 2, 2},
		{1228800, 15, 80, 2, 2},
		{1261568, 8, 77, 2, 3},
		{1474560, 18, 80, 2, 2},
		{1720320, 21, 80, 2, 2},
		{1763328, 21, 82, 2, 2},
		{1802240, 22, 80, 2, 2},
		{1884160, 23, 80, 2, 2},
		{1884159, 36, 80, 2, 2},
		{2949120, 36, 80, 2, 2},
		{3768320, 46, 80, 2, 2},
	}
	for _, tt := range tests {
		k, ok := GuessFromSize(tt.size)
		if !ok {
			t.Errorf("size %d: no geometry", tt.size)
			continue
		}
		if k.Sectors != tt.sectors || k.Tracks != tt.tracks || k.Sides != tt.sides || k.SizeCode != tt.code {
			t.Errorf("size %d: got %d/%d/%d/%d, want %d/%d/%d/%d", tt.size,
				k.Sectors, k.Tracks, k.Sides, k.SizeCode,
				tt.sectors, tt.tracks, tt.sides, tt.code)
		}
	}

	if _, ok := GuessFromSize(3768321); ok {
		t.Errorf("sizes above the ED maximum should not match")
	}
}

func TestKnownSizesMatchBytes(t *testing.T) {
	for _, k := range KnownSizes() {
		if k.Bytes() != k.MaxSize {
			t.Errorf("%s: geometry holds %d bytes, bound is %d", k.Label, k.Bytes(), k.MaxSize)
		}
	}
}

func TestLookupLabel(t *testing.T) {
	k, ok := LookupLabel("1440k")
	if !ok || k.Sectors != 18 {
		t.Errorf("1440k lookup = %+v, %v", k, ok)
	}
	k, ok = LookupLabel("720K DD")
	if !ok || k.Sectors != 9 || k.Tracks != 80 {
		t.Errorf("720K DD lookup = %+v, %v", k, ok)
	}
}
