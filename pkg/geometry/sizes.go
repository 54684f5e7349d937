// file: pkg/geometry/sizes.go

package geometry

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"
)

// KnownSize describes a raw image geometry identified purely by file length.
type KnownSize struct {
	MaxSize  int    `csv:"max_size"`
	Exact    bool   `csv:"exact"` // only this exact length matches
	Sectors  int    `csv:"sectors"`
	Tracks   int    `csv:"tracks"`
	Sides    int    `csv:"sides"`
	SizeCode uint8  `csv:"size_code"`
	Label    string `csv:"label"`
}

// SectorSize returns the sector length in bytes.
func (k KnownSize) SectorSize() int {
	return CodeSize(k.SizeCode)
}

// Bytes returns the nominal image length of the geometry.
func (k KnownSize) Bytes() int {
	return k.Sectors * k.Tracks * k.Sides * k.SectorSize()
}

//go:embed sizes.csv
var knownSizesCSV string

var knownSizes []KnownSize

func init() {
	err := gocsv.UnmarshalToCallback(
		strings.NewReader(knownSizesCSV),
		func(row KnownSize) error {
			if n := len(knownSizes); n > 0 && knownSizes[n-1].MaxSize >= row.MaxSize {
				return fmt.Errorf("known size table out of order at %d bytes", row.MaxSize)
			}
			knownSizes = append(knownSizes, row)
			return nil
		},
	)
	if err != nil {
		panic(err)
	}
}

// KnownSizes returns a copy of the size table in ascending order.
func KnownSizes() []KnownSize {
	out := make([]KnownSize, len(knownSizes))
	copy(out, knownSizes)
	return out
}

// GuessFromSize picks the geometry for a raw image of the given length. The
// first entry whose bound is at least size wins; exact entries only match
// their own length.
func GuessFromSize(size int) (KnownSize, bool) {
	i := sort.Search(len(knownSizes), func(i int) bool {
		return knownSizes[i].MaxSize >= size
	})
	for ; i < len(knownSizes); i++ {
		k := knownSizes[i]
		if k.Exact && k.MaxSize != size {
			continue
		}
		return k, true
	}
	return KnownSize{}, false
}

// LookupLabel finds a size table entry by its label or by a short form such
// as "1440k" or "1.44m".
func LookupLabel(name string) (KnownSize, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, k := range knownSizes {
		label := strings.ToLower(k.Label)
		if label == want || strings.HasPrefix(label, want+" ") {
			return k, true
		}
		if fmt.Sprintf("%dk", k.MaxSize/1024) == want {
			return k, true
		}
	}
	return KnownSize{}, false
}
