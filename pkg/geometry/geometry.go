// file: pkg/geometry/geometry.go

// Package geometry holds the static tables every loader consults to turn a
// sector count, a sector size and a data rate into a physical track layout:
// gap lengths, rate buckets, raw track capacities, known raw-image sizes and
// the XDF/DMF sector orderings.
package geometry

const (
	// MaxSizeCode is the largest sector size code with an entry in the tables (16384 bytes).
	MaxSizeCode = 7

	// Gap2 lengths between ID and data fields.
	Gap2Default = 22
	Gap2ED      = 41

	// DMFGap3 is the gap3 used for every 21-sector DMF track.
	DMFGap3 = 8
)

// SizeCode converts a byte count to the FDC size code N, where bytes = 128 << N.
// Unknown sizes map to 2 (512 bytes).
func SizeCode(bytes int) uint8 {
	for code := uint8(0); code <= MaxSizeCode; code++ {
		if bytes == 128<<code {
			return code
		}
	}
	return 2
}

// CodeSize is the inverse of SizeCode.
func CodeSize(code uint8) int {
	return 128 << code
}

// BytesPerSectorValid reports whether n is 128·2^k with a size code the
// tables cover, k in [0,MaxSizeCode].
func BytesPerSectorValid(n int) bool {
	for k := 0; k <= MaxSizeCode; k++ {
		if n == 128<<k {
			return true
		}
	}
	return false
}

// Interleave returns the 1-based sector ID placed at physical slot sector when
// a track of spt sectors is written with the odd/even half-track pattern and
// the given skew.
func Interleave(sector, skew, spt int) int {
	if spt <= 0 {
		return 0
	}
	add := spt & 1
	adjust := spt >> 1

	skewed := (sector + skew) % spt
	id := (skewed >> 1) + 1
	if skewed&1 != 0 {
		id += adjust + add
	}
	return id
}
