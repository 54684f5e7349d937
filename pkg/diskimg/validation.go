// file: pkg/diskimg/validation.go

package diskimg

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// ValidationError represents a header field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error - %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrCorruptHeader.
func (e *ValidationError) Unwrap() error {
	return ErrCorruptHeader
}

// Geometry is the shape a loader derived from an image header.
type Geometry struct {
	Tracks          int
	Sides           int
	SectorsPerTrack int
	SectorSize      int
}

// SizeCode returns the size code of the sector size.
func (g Geometry) SizeCode() uint8 {
	return geometry.SizeCode(g.SectorSize)
}

// Bytes is the data capacity of the whole disk.
func (g Geometry) Bytes() int64 {
	return int64(g.Tracks) * int64(g.Sides) * int64(g.SectorsPerTrack) * int64(g.SectorSize)
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d tracks, %d sides, %d sectors of %d bytes", g.Tracks, g.Sides, g.SectorsPerTrack, g.SectorSize)
}

// ValidateGeometry checks a derived geometry before a loader commits to it.
func ValidateGeometry(g Geometry) error {
	if g.Sides < 1 || g.Sides > 2 {
		return &ValidationError{
			Field:   "Sides",
			Message: fmt.Sprintf("%d sides, must be 1 or 2", g.Sides),
		}
	}

	if g.Tracks < 1 || g.Tracks > 86 {
		return &ValidationError{
			Field:   "Tracks",
			Message: fmt.Sprintf("%d tracks out of range", g.Tracks),
		}
	}

	if g.SectorsPerTrack < 1 || g.SectorsPerTrack > 255 {
		return &ValidationError{
			Field:   "SectorsPerTrack",
			Message: fmt.Sprintf("%d sectors per track out of range", g.SectorsPerTrack),
		}
	}

	if !geometry.BytesPerSectorValid(g.SectorSize) {
		if PowerOfTwoSize(g.SectorSize) {
			return errors.Wrapf(ErrUnsupportedGeometry, "%d byte sectors", g.SectorSize)
		}
		return &ValidationError{
			Field:   "SectorSize",
			Message: fmt.Sprintf("%d is not a valid sector size", g.SectorSize),
		}
	}

	return nil
}

// PowerOfTwoSize reports whether n has the 128·2^k form of a sector size,
// whether or not a size code exists for it.
func PowerOfTwoSize(n int) bool {
	return n >= 128 && n&(n-1) == 0
}
