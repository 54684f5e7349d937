package internal

// TrackToSector converts a track, side and sector slot into a linear sector
// index for images stored cylinder by cylinder, side by side.
func TrackToSector(track, side, sector, sides, sectorsPerTrack int) int {
	return (track*sides+side)*sectorsPerTrack + sector
}

// SectorOffset returns the byte offset of a sector in a flat image that
// starts at base.
func SectorOffset(base int64, track, side, sector, sides, sectorsPerTrack, sectorSize int) int64 {
	return base + int64(TrackToSector(track, side, sector, sides, sectorsPerTrack))*int64(sectorSize)
}

// TrackOffset returns the byte offset of the first sector of a cylinder.
func TrackOffset(base int64, track, sides, sectorsPerTrack, sectorSize int) int64 {
	return SectorOffset(base, track, 0, 0, sides, sectorsPerTrack, sectorSize)
}
