// file: pkg/geometry/gaps.go

package geometry

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

const (
	// Bytes ahead of the first sector: gap4a, sync, index mark and gap1.
	PretrackMFM = 146
	PretrackFM  = 73

	// Per-sector overhead excluding data, data CRC and gap3.
	PreSectorMFM = 60
	PreSectorFM  = 42

	// MinimumGap3 is the smallest gap3 per sector a computed layout may use.
	MinimumGap3 = 12
	// MinimumGap4 is reserved after the last sector of a computed layout.
	MinimumGap4 = 0
)

// GapEntry is one row of the static gap3 table.
type GapEntry struct {
	GapRate  int   `csv:"gap_rate"`
	SizeCode uint8 `csv:"size_code"`
	Sectors  int   `csv:"sectors"`
	Gap3     int   `csv:"gap3"`
}

type gapKey struct {
	rate     int
	sizeCode uint8
	sectors  int
}

//go:embed gap3.csv
var gapTableCSV string

var gapTable = map[gapKey]int{}

func init() {
	err := gocsv.UnmarshalToCallback(
		strings.NewReader(gapTableCSV),
		func(row GapEntry) error {
			key := gapKey{row.GapRate, row.SizeCode, row.Sectors}
			if _, exists := gapTable[key]; exists {
				return fmt.Errorf("duplicate gap3 entry for rate %d size %d sectors %d",
					row.GapRate, row.SizeCode, row.Sectors)
			}
			gapTable[key] = row.Gap3
			return nil
		},
	)
	if err != nil {
		panic(err)
	}
}

// Gap3 looks up the standard gap3 length for a gap-table row, size code and
// sector count. Zero means unknown; the caller must compute one.
func Gap3(gapRate int, sizeCode uint8, spt int) int {
	return gapTable[gapKey{gapRate, sizeCode, spt}]
}

// TrackUsage returns the raw bytes a track of the given sector sizes occupies
// before any gap3 is added.
func TrackUsage(mfm bool, sizes []int) int {
	used, pre := PretrackFM, PreSectorFM
	if mfm {
		used, pre = PretrackMFM, PreSectorMFM
	}
	for _, size := range sizes {
		used += pre + size + 2
	}
	return used
}

// Fit is the result of FitGap3.
type Fit struct {
	Gap3 int
	Slow bool // the layout needs the spindle 2% slower than nominal
	OK   bool // false when the sectors do not fit even at the slower speed
}

// FitGap3 computes a gap3 that spreads the remaining raw track capacity over
// the sectors: (raw - used - MinimumGap4) / spt. When the remaining space is
// below the minimum gaps at nominal speed the computation is retried with the
// capacity of a spindle running 2% slow.
func FitGap3(rate Rate, rpm360, mfm bool, sizes []int) Fit {
	spt := len(sizes)
	if spt == 0 {
		return Fit{OK: true}
	}
	used := TrackUsage(mfm, sizes)
	minimum := MinimumGap3*spt + MinimumGap4

	raw := rawCapacity(rate, rpm360, mfm, false)
	fit := Fit{OK: true}
	if raw-used < minimum {
		raw = rawCapacity(rate, rpm360, mfm, true)
		fit.Slow = true
		if raw-used < minimum {
			fit.OK = false
		}
	}

	fit.Gap3 = (raw - used - MinimumGap4) / spt
	if fit.Gap3 < 0 {
		fit.Gap3 = 0
	}
	return fit
}

// Gap3OrFit returns the table gap3 when one exists, otherwise a computed one.
func Gap3OrFit(rate Rate, rpm360, mfm bool, sizeCode uint8, sizes []int) Fit {
	if g := Gap3(GapRateFor(rate, rpm360), sizeCode, len(sizes)); g != 0 {
		return Fit{Gap3: g, OK: true}
	}
	return FitGap3(rate, rpm360, mfm, sizes)
}

func rawCapacity(rate Rate, rpm360, mfm, slower bool) int {
	raw := RawTrackSize(rate, rpm360, slower)
	if !mfm {
		raw /= 2
	}
	return raw
}
