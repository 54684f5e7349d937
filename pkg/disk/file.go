package disk

// Selection is the sector chosen by the last set-sector call on one side.
// Reads and writes address bytes inside it; when no sector matched, reads
// return FillByte and writes are dropped.
type Selection struct {
	sector *Sector
	id     SectorID
}

// Select picks the sector on t matching id. It reports whether one was found.
func (s *Selection) Select(t *Track, id SectorID) bool {
	s.id = id
	s.sector = t.Find(id)
	return s.sector != nil
}

// Clear forgets the current selection.
func (s *Selection) Clear() {
	s.sector = nil
}

// Sector returns the selected sector or nil.
func (s *Selection) Sector() *Sector {
	return s.sector
}

// ID returns the ID that was last requested.
func (s *Selection) ID() SectorID {
	return s.id
}

// ByteAt returns the byte at pos of the selected sector.
func (s *Selection) ByteAt(pos int) byte {
	if s.sector == nil || pos < 0 || pos >= len(s.sector.Data) {
		return FillByte
	}
	return s.sector.Data[pos]
}

// SetByteAt stores b at pos of the selected sector and reports whether
// anything was written.
func (s *Selection) SetByteAt(pos int, b byte) bool {
	if s.sector == nil || pos < 0 || pos >= len(s.sector.Data) {
		return false
	}
	s.sector.Data[pos] = b
	return true
}
