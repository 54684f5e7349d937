// file: pkg/diskimg/td0/header.go

package td0

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

const (
	headerSize  = 12
	commentSize = 10

	minVersion = 10
	maxVersion = 21

	// Advanced compression switched from LZW to LZHUF with version 2.0.
	lzhufVersion = 20

	rateFM         = 0x80
	stepHasComment = 0x80
	headFM         = 0x80
)

var (
	magicNormal   = []byte("TD")
	magicAdvanced = []byte("td")
)

// Teledisk drive types.
const (
	drive525DD = 1
	drive525HD = 2
	drive35DD  = 3
	drive35HD  = 4
	drive8     = 5
	drive35ED  = 6
)

// fileHeader is the fixed 12 byte header at the start of every image.
type fileHeader struct {
	compressed bool
	volume     uint8
	check      uint8
	version    uint8
	rate       uint8
	driveType  uint8
	stepping   uint8
	dosAlloc   uint8
	sides      uint8
	crc        uint16
}

func parseHeader(b []byte) (*fileHeader, error) {
	if len(b) < headerSize {
		return nil, diskimg.ErrNotThisFormat
	}
	h := &fileHeader{
		volume:    b[2],
		check:     b[3],
		version:   b[4],
		rate:      b[5],
		driveType: b[6],
		stepping:  b[7],
		dosAlloc:  b[8],
		sides:     b[9],
		crc:       binary.LittleEndian.Uint16(b[10:]),
	}
	switch {
	case bytes.HasPrefix(b, magicNormal):
	case bytes.HasPrefix(b, magicAdvanced):
		h.compressed = true
	default:
		return nil, diskimg.ErrNotThisFormat
	}

	// A header with a bad checksum does not claim the file.
	if got := crc16(0, b[:10]); got != h.crc {
		return nil, errors.Wrapf(diskimg.ErrNotThisFormat, "header checksum %04X, stored %04X", got, h.crc)
	}
	if h.version < minVersion || h.version > maxVersion {
		return nil, &diskimg.ValidationError{
			Field:   "Version",
			Message: fmt.Sprintf("Teledisk version %d.%d", h.version/10, h.version%10),
		}
	}
	if h.compressed && h.version < lzhufVersion {
		return nil, errors.Wrap(diskimg.ErrCorruptHeader, "LZW compressed images are not supported")
	}
	return h, nil
}

// dataRate returns the rate every track is recorded at and whether the
// whole disk is FM.
func (h *fileHeader) dataRate() (geometry.Rate, bool) {
	fm := h.rate&rateFM != 0
	switch h.rate & 3 {
	case 1:
		return geometry.Rate300, fm
	case 2:
		return geometry.Rate500, fm
	}
	return geometry.Rate250, fm
}

// rpm360 reports whether the source drive spins at 360 rpm. 5.25" high
// density and 8" drives do, and so does any drive reading 300 kbps.
func (h *fileHeader) rpm360() bool {
	rate, _ := h.dataRate()
	switch {
	case h.driveType == drive525HD, h.driveType == drive8:
		return rate != geometry.Rate250
	case rate == geometry.Rate300:
		return true
	}
	return false
}

func (h *fileHeader) driveName() string {
	switch h.driveType {
	case drive525DD:
		return "5.25\" 360K"
	case drive525HD:
		return "5.25\" 1.2M"
	case drive35DD:
		return "3.5\" 720K"
	case drive35HD:
		return "3.5\" 1.44M"
	case drive8:
		return "8\""
	case drive35ED:
		return "3.5\" 2.88M"
	}
	return fmt.Sprintf("type %d", h.driveType)
}

// commentBlock is the optional block that follows the header.
type commentBlock struct {
	date time.Time
	text string
}

// parseComment reads the comment block at the start of body and returns it
// together with the number of bytes it occupies.
func parseComment(body []byte) (*commentBlock, int, error) {
	if len(body) < commentSize {
		return nil, 0, errors.Wrap(diskimg.ErrCorruptStream, "comment header truncated")
	}
	n := int(binary.LittleEndian.Uint16(body[2:]))
	if commentSize+n > len(body) {
		return nil, 0, errors.Wrapf(diskimg.ErrCorruptStream, "comment of %d bytes runs past the end", n)
	}
	d := body[4:commentSize]
	c := &commentBlock{
		date: time.Date(1900+int(d[0]), time.Month(d[1]+1), int(d[2]),
			int(d[3]), int(d[4]), int(d[5]), 0, time.UTC),
	}

	// Lines are NUL separated.
	lines := strings.Split(string(body[commentSize:commentSize+n]), "\x00")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \r\n")
	}
	c.text = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return c, commentSize + n, nil
}

// crc16 is the Teledisk checksum: polynomial 0xA097, no reflection.
func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0xA097
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
