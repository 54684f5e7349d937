// file: pkg/geometry/rates.go

package geometry

import "fmt"

// Rate is the controller data-rate code as carried in the low bits of the
// per-side track flags.
type Rate uint8

const (
	Rate500  Rate = 0
	Rate300  Rate = 1
	Rate250  Rate = 2
	Rate1000 Rate = 3
	Rate2000 Rate = 5
)

// Kbps returns the nominal data rate in kilobits per second.
func (r Rate) Kbps() int {
	switch r {
	case Rate500:
		return 500
	case Rate300:
		return 300
	case Rate250:
		return 250
	case Rate1000:
		return 1000
	case Rate2000:
		return 2000
	}
	return 250
}

func (r Rate) String() string {
	return fmt.Sprintf("%d kbps", r.Kbps())
}

// RateFromKbps maps a bit rate in kbps to its rate code. Unknown rates
// fall back to 250 kbps.
func RateFromKbps(kbps int) Rate {
	switch kbps {
	case 500:
		return Rate500
	case 300:
		return Rate300
	case 1000:
		return Rate1000
	case 2000:
		return Rate2000
	}
	return Rate250
}

// Hole is the density hole punched in the media.
type Hole uint8

const (
	HoleDD Hole = 0
	HoleHD Hole = 1
	HoleED Hole = 2
)

func (h Hole) String() string {
	switch h {
	case HoleHD:
		return "HD"
	case HoleED:
		return "ED"
	}
	return "DD"
}

// Bucket is one column of the rate tables, ordered from the slowest
// effective bit rate (normalised to 300 rpm) to the fastest.
type Bucket struct {
	BitRate300 float64 // effective bit rate at 300 rpm
	Rate       Rate
	RPM360     bool // drive spins at 360 rpm for this bucket
	Hole       Hole
	GapRate    int // row of the gap3 table
}

// Buckets are tried in order; the first that can hold the track wins.
var Buckets = [6]Bucket{
	{BitRate300: 250.0 * 300.0 / 360.0, Rate: Rate250, Hole: HoleDD, GapRate: 2},
	{BitRate300: 250.0, Rate: Rate250, Hole: HoleDD, GapRate: 2},
	{BitRate300: 300.0, Rate: Rate300, Hole: HoleDD, GapRate: 1},
	{BitRate300: 500.0 * 300.0 / 360.0, Rate: Rate500, RPM360: true, Hole: HoleHD, GapRate: 4},
	{BitRate300: 500.0, Rate: Rate500, Hole: HoleHD, GapRate: 0},
	{BitRate300: 1000.0, Rate: Rate1000, Hole: HoleED, GapRate: 3},
}

// maxSectors[size code][bucket] is the largest sector count that fits a track.
var maxSectors = [MaxSizeCode + 1][6]uint8{
	{26, 31, 38, 53, 64, 118}, //   128
	{15, 19, 23, 32, 38, 73},  //   256
	{7, 10, 12, 17, 22, 41},   //   512
	{3, 5, 6, 9, 11, 22},      //  1024
	{2, 2, 3, 4, 5, 11},       //  2048
	{1, 1, 1, 2, 2, 5},        //  4096
	{0, 0, 0, 1, 1, 3},        //  8192
	{0, 0, 0, 0, 0, 1},        // 16384
}

// xdfSectors[size code][bucket] is the logical sector count of an XDF
// layout in that bucket, zero where none exists.
var xdfSectors = [MaxSizeCode + 1][6]uint8{
	2: {0, 0, 0, 19, 23, 0},
}

var xdfTypes = [MaxSizeCode + 1][6]XDFType{
	2: {XDFNone, XDFNone, XDFNone, XDF525, XDF35, XDFNone},
}

// MaxSectors returns the maximum sectors per track for a size code in a bucket.
func MaxSectors(sizeCode uint8, bucket int) int {
	if sizeCode > MaxSizeCode || bucket < 0 || bucket >= len(Buckets) {
		return 0
	}
	return int(maxSectors[sizeCode][bucket])
}

// MaxSizeCodeFor returns the largest size code that still fits one sector
// on a track in the given bucket.
func MaxSizeCodeFor(bucket int) uint8 {
	code := uint8(0)
	for c := uint8(0); c <= MaxSizeCode; c++ {
		if MaxSectors(c, bucket) >= 1 {
			code = c
		}
	}
	return code
}

// BucketFor finds the bucket matching a data rate and spindle speed.
func BucketFor(rate Rate, rpm360 bool) int {
	for i := len(Buckets) - 1; i >= 0; i-- {
		b := Buckets[i]
		if b.Rate == rate && b.RPM360 == rpm360 {
			return i
		}
	}
	switch rate {
	case Rate500:
		return 4
	case Rate300:
		return 2
	case Rate1000, Rate2000:
		return 5
	}
	return 1
}

// RateChoice is the outcome of SelectRate.
type RateChoice struct {
	Index  int
	Bucket Bucket
	XDF    XDFType
	DMF    bool // 21-sector DMF layout, sectors interleaved
	Slow   bool // 22-sector layout, spindle must run 2% slow
}

// Gap2 returns the gap2 length used for the chosen bucket.
func (c RateChoice) Gap2() int {
	if c.Bucket.Rate == Rate1000 {
		return Gap2ED
	}
	return Gap2Default
}

// SelectRate finds the smallest rate bucket whose maximum sectors per track
// (or exact XDF sector count) accommodates spt sectors of the given size.
func SelectRate(sizeCode uint8, spt, tracks, sides int) (RateChoice, bool) {
	if sizeCode > MaxSizeCode {
		return RateChoice{}, false
	}
	for i, b := range Buckets {
		fits := spt <= int(maxSectors[sizeCode][i])
		xdf := spt == int(xdfSectors[sizeCode][i])
		if !fits && !xdf {
			continue
		}

		choice := RateChoice{Index: i, Bucket: b}
		if xdf {
			choice.XDF = xdfTypes[sizeCode][i]
		}

		hd := b.BitRate300 == 500.0 && sizeCode == 2 && tracks >= 80 && tracks <= 82 && sides == 2
		switch {
		case hd && spt == 21:
			choice.DMF = true
		case hd && spt == 22:
			choice.Slow = true
		}
		return choice, true
	}
	return RateChoice{}, false
}

// RawTrackSize returns the raw MFM byte capacity of one revolution at the
// given rate and spindle speed, optionally 2% slower.
func RawTrackSize(rate Rate, rpm360, slower bool) int {
	var nominal, slow int
	switch {
	case rate == Rate250 && rpm360:
		nominal, slow = 5208, 5314
	case rate == Rate300 && !rpm360:
		nominal, slow = 7500, 7650
	case rate == Rate500 && rpm360:
		nominal, slow = 10416, 10629
	case rate == Rate500:
		nominal, slow = 12500, 12750
	case rate == Rate1000 && rpm360:
		nominal, slow = 20833, 21258
	case rate == Rate1000:
		nominal, slow = 25000, 25500
	case rate == Rate2000 && rpm360:
		nominal, slow = 41666, 42517
	case rate == Rate2000:
		nominal, slow = 50000, 51000
	default:
		// 250 kbps at 300 rpm and 300 kbps at 360 rpm
		nominal, slow = 6250, 6375
	}
	if slower {
		return slow
	}
	return nominal
}

// RawBitCells is the nominal number of MFM bit cells in one revolution.
func RawBitCells(rate Rate, rpm360 bool) int {
	return RawTrackSize(rate, rpm360, false) * 16
}

// GapRateFor maps a data rate and spindle speed to the gap3 table row the
// IMD and TD0 loaders use.
func GapRateFor(rate Rate, rpm360 bool) int {
	switch {
	case rate == Rate250:
		return 2
	case rate == Rate300 && rpm360:
		return 2
	case rate == Rate500 && rpm360:
		return 4
	}
	return int(rate & 3)
}

// XDFChoice returns the rate bucket an XDF layout is recorded in.
func XDFChoice(t XDFType) RateChoice {
	i := 4
	if t == XDF525 {
		i = 3
	}
	return RateChoice{Index: i, Bucket: Buckets[i], XDF: t}
}
