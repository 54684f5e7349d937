// file: pkg/fdi2raw/header.go

package fdi2raw

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Signature opens every FDI file.
const Signature = "Formatted Disk Image file"

const (
	headerBlock   = 512
	trackTableOff = 152
	firstBlock    = 180 // track descriptors that fit the first header block
	perBlock      = 256 // descriptors per additional block
)

var (
	ErrNotFDI          = errors.New("fdi2raw: not an FDI file")
	ErrCorruptHeader   = errors.New("fdi2raw: corrupt header")
	ErrCorruptTrack    = errors.New("fdi2raw: corrupt track data")
	ErrUnknownOpcode   = errors.New("fdi2raw: unknown track opcode")
	ErrUnsupported     = errors.New("fdi2raw: unsupported track type")
	ErrNoStablePulse   = errors.New("fdi2raw: no stable pulse in track")
	ErrTrackOutOfRange = errors.New("fdi2raw: track out of range")
)

// DiskType is the media form factor declared in the header.
type DiskType uint8

const (
	Disk8   DiskType = 0
	Disk525 DiskType = 1
	Disk35  DiskType = 2
	Disk3   DiskType = 3
)

func (t DiskType) String() string {
	switch t {
	case Disk8:
		return "8\""
	case Disk525:
		return "5.25\""
	case Disk35:
		return "3.5\""
	case Disk3:
		return "3\""
	}
	return "unknown"
}

var tpiValues = [...]int{48, 67, 96, 100, 135, 192}

// Header is the fixed part of an FDI file.
type Header struct {
	Creator        string
	Comment        string
	VersionMajor   uint8
	VersionMinor   uint8
	LastTrack      int // last cylinder
	LastHead       int
	Type           DiskType
	RPM            int
	WriteProtected bool
	TPI            int
	HeadWidth      int
}

type trackEntry struct {
	typ    uint8
	size   uint8
	offset int64
	length int64
}

// FDI is an open FDI image.
type FDI struct {
	Header
	r      io.ReaderAt
	tracks []trackEntry
	rng    lcg
}

func field(b []byte) string {
	if i := bytes.IndexByte(b, 0x1A); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " \x00\r\n")
}

// trackLength returns the number of data bytes of a track descriptor.
func trackLength(typ, size uint8) int64 {
	switch {
	case typ == 1:
		return int64(size&15) * 512
	case typ&0xc0 == 0x80:
		return (int64(typ&0x3f)<<8 | int64(size)) * 256
	}
	return int64(size) * 256
}

// dataStart returns where track data begins for a number of tracks.
func dataStart(tracks int) int64 {
	off := int64(headerBlock)
	if n := tracks; n > firstBlock {
		off += headerBlock
		n -= firstBlock
		for n > perBlock {
			off += headerBlock
			n -= perBlock
		}
	}
	return off
}

// Open reads the header and the track table of an FDI file.
func Open(r io.ReaderAt, size int64) (*FDI, error) {
	sig := make([]byte, len(Signature))
	if size < int64(len(sig)) {
		return nil, ErrNotFDI
	}
	if _, err := r.ReadAt(sig, 0); err != nil {
		return nil, errors.Wrap(err, "fdi2raw: failed to read signature")
	}
	if string(sig) != Signature {
		return nil, ErrNotFDI
	}
	if size < headerBlock {
		return nil, errors.Wrapf(ErrCorruptHeader, "file is only %d bytes", size)
	}

	hdr := make([]byte, headerBlock)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, errors.Wrap(err, "fdi2raw: failed to read header")
	}

	f := &FDI{r: r, rng: newLCG(1)}
	f.Creator = field(hdr[27:57])
	f.Comment = field(hdr[59:139])
	f.VersionMajor, f.VersionMinor = hdr[140], hdr[141]
	if f.VersionMajor < 1 || f.VersionMajor > 2 {
		return nil, errors.Wrapf(ErrCorruptHeader, "unsupported version %d.%d", f.VersionMajor, f.VersionMinor)
	}
	f.LastTrack = int(binary.BigEndian.Uint16(hdr[142:144]))
	f.LastHead = int(hdr[144])
	if f.LastHead > 1 {
		return nil, errors.Wrapf(ErrCorruptHeader, "%d heads", f.LastHead+1)
	}
	f.Type = DiskType(hdr[145])
	f.RPM = int(hdr[146]) + 128
	f.WriteProtected = hdr[147]&1 != 0
	if int(hdr[148]) < len(tpiValues) {
		f.TPI = tpiValues[hdr[148]]
	}
	f.HeadWidth = int(hdr[149])

	count := (f.LastTrack + 1) * (f.LastHead + 1)
	start := dataStart(count)
	if size < start {
		return nil, errors.Wrapf(ErrCorruptHeader, "track table needs %d bytes, file has %d", start, size)
	}
	table := make([]byte, count*2)
	if _, err := r.ReadAt(table, trackTableOff); err != nil {
		return nil, errors.Wrap(err, "fdi2raw: failed to read track table")
	}

	off := start
	f.tracks = make([]trackEntry, count)
	for i := range f.tracks {
		e := trackEntry{typ: table[i*2], size: table[i*2+1], offset: off}
		e.length = trackLength(e.typ, e.size)
		off += e.length
		if off > size {
			return nil, errors.Wrapf(ErrCorruptHeader, "track %d ends at %d beyond the file (%d bytes)", i, off, size)
		}
		f.tracks[i] = e
	}

	log.Debugf("FDI %d.%d: %d cylinders, %d heads, %s, %d rpm, %d tpi, creator %q",
		f.VersionMajor, f.VersionMinor, f.LastTrack+1, f.LastHead+1, f.Type, f.RPM, f.TPI, f.Creator)
	return f, nil
}

// Tracks is the number of track records, cylinders times heads.
func (f *FDI) Tracks() int { return len(f.tracks) }

// Heads is the number of heads.
func (f *FDI) Heads() int { return f.LastHead + 1 }

// TrackType returns the type byte of a track record.
func (f *FDI) TrackType(track int) uint8 {
	if track < 0 || track >= len(f.tracks) {
		return 0
	}
	return f.tracks[track].typ
}

// BitRate is the nominal data rate in kbps implied by the media type and
// track density.
func (f *FDI) BitRate() int {
	switch {
	case f.Type == Disk8:
		return 500
	case f.Type == Disk35 && f.TPI == 135:
		return 500
	case f.Type == Disk525 && f.TPI == 96 && f.RPM >= 350:
		return 500
	}
	return 250
}

func (f *FDI) trackData(track int) ([]byte, error) {
	if track < 0 || track >= len(f.tracks) {
		return nil, errors.Wrapf(ErrTrackOutOfRange, "track %d of %d", track, len(f.tracks))
	}
	e := f.tracks[track]
	buf := make([]byte, e.length)
	if _, err := f.r.ReadAt(buf, e.offset); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "fdi2raw: failed to read track %d", track)
	}
	return buf, nil
}
