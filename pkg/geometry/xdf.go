// file: pkg/geometry/xdf.go

package geometry

// XDFType identifies a copy-protection oriented XDF layout.
type XDFType int

const (
	XDFNone XDFType = iota
	XDF525          // 5.25" 2HD
	XDF35           // 3.5" 2HD
)

func (t XDFType) String() string {
	switch t {
	case XDF525:
		return "XDF 5.25\" 2HD"
	case XDF35:
		return "XDF 3.5\" 2HD"
	}
	return "none"
}

// DMFSectors is the sector count of a DMF track.
const DMFSectors = 21

// DMFOrder gives the sector ID found at each physical slot of a DMF track.
var DMFOrder = [DMFSectors]uint8{12, 2, 13, 3, 14, 4, 15, 5, 16, 6, 17, 7, 18, 8, 19, 9, 20, 10, 21, 11, 1}

// XDFLayout describes the sector IDs of one XDF track kind.
//
// Logical is the order the sectors occupy in a flat image (and usually in a
// sector dump), Physical the order they pass under the head. Sector IDs on
// tracks other than zero carry their size code in the low nibble.
type XDFLayout struct {
	Logical  []uint8
	Physical []uint8
	Gap3     int
}

// SizeCode returns the size code of an XDF sector ID on this layout.
func (l XDFLayout) SizeCode(id uint8, track0 bool) uint8 {
	if track0 {
		return 2
	}
	return id & 0x0f
}

// LogicalBlocks is the number of 512-byte blocks one side of the layout holds.
func (l XDFLayout) LogicalBlocks(track0 bool) int {
	n := 0
	for _, id := range l.Logical {
		n += CodeSize(l.SizeCode(id, track0)) / 512
	}
	return n
}

var xdfLayouts = map[XDFType][2]XDFLayout{
	XDF525: {
		{
			Logical: []uint8{
				0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88,
				0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			},
			Physical: []uint8{
				0x81, 0x01, 0x82, 0x02, 0x83, 0x03, 0x84, 0x04,
				0x85, 0x05, 0x86, 0x06, 0x87, 0x07, 0x88, 0x08,
			},
			Gap3: 60,
		},
		{
			Logical:  []uint8{0x86, 0x83, 0x82},
			Physical: []uint8{0x83, 0x86, 0x82},
			Gap3:     69,
		},
	},
	XDF35: {
		{
			Logical: []uint8{
				0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8a, 0x8b,
				0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			},
			Physical: []uint8{
				0x81, 0x01, 0x82, 0x02, 0x83, 0x03, 0x84, 0x04, 0x85, 0x05,
				0x86, 0x06, 0x87, 0x07, 0x88, 0x08, 0x89, 0x8a, 0x8b,
			},
			Gap3: 60,
		},
		{
			Logical:  []uint8{0x86, 0x84, 0x83, 0x82},
			Physical: []uint8{0x83, 0x84, 0x86, 0x82},
			Gap3:     50,
		},
	},
}

// XDFLayoutFor returns the layout of track 0 or of every other track.
func XDFLayoutFor(t XDFType, track0 bool) (XDFLayout, bool) {
	layouts, ok := xdfLayouts[t]
	if !ok {
		return XDFLayout{}, false
	}
	if track0 {
		return layouts[0], true
	}
	return layouts[1], true
}

// ClassifyXDF reports which XDF layout, if any, a track's sector IDs and size
// codes match. The IDs may appear in any order.
func ClassifyXDF(track int, ids, sizeCodes []uint8) XDFType {
	for _, t := range []XDFType{XDF525, XDF35} {
		layout, _ := XDFLayoutFor(t, track == 0)
		if len(ids) != len(layout.Logical) {
			continue
		}
		if _, ok := BuildOrder(ids, layout.Physical); !ok {
			continue
		}
		sizesMatch := true
		for i, id := range ids {
			if i < len(sizeCodes) && sizeCodes[i] != layout.SizeCode(id, track == 0) {
				sizesMatch = false
				break
			}
		}
		if sizesMatch {
			return t
		}
	}
	return XDFNone
}

// IsDMF reports whether a track's IDs are exactly 1..21 with 512-byte sectors.
func IsDMF(ids, sizeCodes []uint8) bool {
	if len(ids) != DMFSectors {
		return false
	}
	for _, n := range sizeCodes {
		if n != 2 {
			return false
		}
	}
	_, ok := BuildOrder(ids, DMFOrder[:])
	return ok
}

// BuildOrder maps each physical slot to the index in stored where the sector
// with the slot's ID lives. It fails unless stored and physical hold the same
// set of distinct IDs, so a successful result is always a bijection onto
// [0, len(stored)).
func BuildOrder(stored, physical []uint8) ([]int, bool) {
	if len(stored) != len(physical) {
		return nil, false
	}
	var pos [256]int
	for i := range pos {
		pos[i] = -1
	}
	for i, id := range stored {
		if pos[id] != -1 {
			return nil, false
		}
		pos[id] = i
	}

	order := make([]int, len(physical))
	for slot, id := range physical {
		if pos[id] < 0 {
			return nil, false
		}
		order[slot] = pos[id]
		pos[id] = -2
	}
	return order, true
}

// Invert returns the inverse permutation of order.
func Invert(order []int) []int {
	inv := make([]int, len(order))
	for i, v := range order {
		inv[v] = i
	}
	return inv
}
