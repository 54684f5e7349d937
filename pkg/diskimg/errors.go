// file: pkg/diskimg/errors.go

package diskimg

import "errors"

var (
	ErrNotThisFormat             = errors.New("not this image format")
	ErrCorruptHeader             = errors.New("corrupt image header")
	ErrCorruptStream             = errors.New("corrupt image data")
	ErrUnsupportedGeometry       = errors.New("unsupported disk geometry")
	ErrUnsupportedSectorEncoding = errors.New("unsupported sector encoding")
	ErrTrackWontFit              = errors.New("sectors do not fit the track")
	ErrReadOnly                  = errors.New("disk or file is read-only")
	ErrNoDisk                    = errors.New("no disk in drive")
	ErrSlotBusy                  = errors.New("drive slot already holds a disk")
	ErrBufferOverflow            = errors.New("decoded data exceeds buffer limit")
)
