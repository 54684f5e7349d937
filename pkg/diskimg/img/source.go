// file: pkg/diskimg/img/source.go

package img

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// subFormat is one of the encodings sharing the IMG loader.
type subFormat int

const (
	subRaw subFormat = iota
	subCopyQM
	subFDF
	subJapaneseFDI
	subDDI
)

func (s subFormat) String() string {
	switch s {
	case subCopyQM:
		return "CopyQM"
	case subFDF:
		return "FDF"
	case subJapaneseFDI:
		return "FDI (PC-98)"
	case subDDI:
		return "DDI"
	}
	return "IMG"
}

const (
	bpbLength = 0x24

	cqmHeaderSize = 133
	fdfDataStart  = 0x80
	ddiHeaderSize = 0x2400
	jfdiHeader    = 32

	// decodedLimit caps the in-memory image of the compressed sub-formats.
	decodedLimit = 4 << 20
)

var (
	cqmMagic = []byte{'C', 'Q', 0x14}
	fdfMagic = []byte{0x1A, 'F', 'D', 'F'}
)

// source is what a sub-decoder hands to finishGeometry: where the sectors
// live and what the header says about their shape.
type source struct {
	kind subFormat
	base int64  // offset of the first sector in the file
	size int64  // bytes of sector data
	data []byte // whole disk decoded in memory, nil when read from the file
	bpb  []byte // start of the first sector

	// Header geometry, used as is when noGuess is set.
	noGuess bool
	geo     diskimg.Geometry

	interleave int
	skew       int
	comment    string
}

type decodeFunc func(f *diskimg.ImageFile, opts Options) (*source, error)

var decoders = map[subFormat]decodeFunc{
	subRaw:         readRaw,
	subCopyQM:      readCopyQM,
	subFDF:         readFDF,
	subJapaneseFDI: readJapaneseFDI,
	subDDI:         readDDI,
}

// detect picks the sub-format from the magic bytes, falling back to the
// file extension for the formats that have none.
func detect(f *diskimg.ImageFile) (subFormat, error) {
	magic := make([]byte, 4)
	if err := f.ReadAtFill(magic, 0, 0); err != nil {
		return subRaw, err
	}
	switch {
	case bytes.HasPrefix(magic, cqmMagic):
		return subCopyQM, nil
	case bytes.Equal(magic, fdfMagic):
		return subFDF, nil
	}
	switch f.Ext() {
	case "fdi":
		return subJapaneseFDI, nil
	case "ddi":
		return subDDI, nil
	}
	return subRaw, nil
}

func readRaw(f *diskimg.ImageFile, _ Options) (*source, error) {
	if f.Size == 0 {
		return nil, errors.Wrapf(diskimg.ErrNotThisFormat, "%s is empty", f.Path)
	}
	bpb := make([]byte, bpbLength)
	if err := f.ReadAtFill(bpb, 0, 0); err != nil {
		return nil, err
	}
	return &source{kind: subRaw, size: f.Size, bpb: bpb}, nil
}

func readDDI(f *diskimg.ImageFile, _ Options) (*source, error) {
	if f.Size <= ddiHeaderSize {
		return nil, errors.Wrapf(diskimg.ErrCorruptHeader, "%s: DDI image of %d bytes", f.Path, f.Size)
	}
	bpb := make([]byte, bpbLength)
	if err := f.ReadAtFill(bpb, ddiHeaderSize, 0); err != nil {
		return nil, err
	}
	return &source{kind: subDDI, base: ddiHeaderSize, size: f.Size - ddiHeaderSize, bpb: bpb}, nil
}

func readJapaneseFDI(f *diskimg.ImageFile, _ Options) (*source, error) {
	hdr, err := f.ReadHeader(jfdiHeader)
	if err != nil {
		return nil, err
	}
	base := int64(binary.LittleEndian.Uint32(hdr[0x08:]))
	total := int64(binary.LittleEndian.Uint32(hdr[0x0C:]))
	if base < jfdiHeader || base >= f.Size {
		return nil, &diskimg.ValidationError{
			Field:   "Base",
			Message: fmt.Sprintf("sector data at %d in a %d byte file", base, f.Size),
		}
	}

	src := &source{
		kind:    subJapaneseFDI,
		base:    base,
		size:    total,
		noGuess: true,
		geo: diskimg.Geometry{
			SectorSize:      int(binary.LittleEndian.Uint16(hdr[0x10:])),
			SectorsPerTrack: int(hdr[0x14]),
			Sides:           int(hdr[0x18]),
			Tracks:          int(binary.LittleEndian.Uint32(hdr[0x1C:])),
		},
	}
	if src.size <= 0 || src.size > f.Size-base {
		src.size = f.Size - base
	}
	log.Debugf("FDI (PC-98): base %d, %d bytes, %v", base, total, src.geo)
	return src, nil
}

func readCopyQM(f *diskimg.ImageFile, _ Options) (*source, error) {
	hdr, err := f.ReadHeader(cqmHeaderSize)
	if err != nil {
		return nil, err
	}

	geo := diskimg.Geometry{
		SectorSize:      int(binary.LittleEndian.Uint16(hdr[0x03:])),
		SectorsPerTrack: int(binary.LittleEndian.Uint16(hdr[0x10:])),
		Sides:           int(binary.LittleEndian.Uint16(hdr[0x12:])),
		Tracks:          int(hdr[0x5B]),
	}
	if geo.Tracks == 0 && geo.SectorsPerTrack > 0 && geo.Sides > 0 {
		total := int(binary.LittleEndian.Uint16(hdr[0x0B:]))
		geo.Tracks = total / (geo.SectorsPerTrack * geo.Sides)
	}
	if err := diskimg.ValidateGeometry(geo); err != nil {
		return nil, errors.Wrapf(err, "%s: CopyQM header", f.Path)
	}

	commentLen := int64(binary.LittleEndian.Uint16(hdr[0x6F:]))
	start := int64(cqmHeaderSize) + commentLen
	if start > f.Size {
		return nil, errors.Wrapf(diskimg.ErrCorruptHeader, "%s: comment of %d bytes runs past the end", f.Path, commentLen)
	}

	raw, err := f.ReadAll(decodedLimit)
	if err != nil {
		return nil, err
	}
	data, err := expandCopyQM(raw[start:], int(geo.Bytes()))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Path)
	}

	src := &source{
		kind:       subCopyQM,
		size:       int64(len(data)),
		data:       data,
		noGuess:    true,
		geo:        geo,
		interleave: int(hdr[0x74]),
		skew:       int(int8(hdr[0x76])),
		comment:    cleanComment(raw[cqmHeaderSize:start]),
	}
	log.Debugf("CopyQM: %v, interleave %d skew %d", geo, src.interleave, src.skew)
	return src, nil
}

// expandCopyQM decodes the signed length blocks into a buffer of exactly
// size bytes. Space the blocks do not cover keeps the fill byte.
func expandCopyQM(src []byte, size int) ([]byte, error) {
	out := internal.NewBuffer(size)
	for pos := 0; pos+2 <= len(src); {
		n := int(int16(binary.LittleEndian.Uint16(src[pos:])))
		pos += 2

		var err error
		switch {
		case n < 0:
			if pos >= len(src) {
				return nil, errors.Wrap(diskimg.ErrCorruptStream, "CopyQM run without a value")
			}
			err = out.Fill(src[pos], -n)
			pos++
		case n > 0:
			if pos+n > len(src) {
				return nil, errors.Wrapf(diskimg.ErrCorruptStream, "CopyQM block of %d bytes truncated", n)
			}
			_, err = out.Write(src[pos : pos+n])
			pos += n
		}
		if err != nil {
			return nil, errors.Wrapf(diskimg.ErrBufferOverflow, "CopyQM: %v", err)
		}
	}

	if pad := size - out.Len(); pad > 0 {
		log.Debugf("CopyQM: %d bytes not covered by blocks", pad)
		if err := out.Fill(disk.FillByte, pad); err != nil {
			return nil, errors.Wrapf(diskimg.ErrBufferOverflow, "CopyQM: %v", err)
		}
	}
	return out.Bytes(), nil
}

func readFDF(f *diskimg.ImageFile, opts Options) (*source, error) {
	raw, err := f.ReadAll(decodedLimit)
	if err != nil {
		return nil, err
	}
	if len(raw) < fdfDataStart || !bytes.HasPrefix(raw, fdfMagic) {
		return nil, errors.Wrapf(diskimg.ErrCorruptHeader, "%s: FDF header truncated", f.Path)
	}

	data, err := expandFDF(raw[fdfDataStart:], opts.FDFSuppressFinalByte)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", f.Path)
	}
	if len(data) == 0 {
		return nil, errors.Wrapf(diskimg.ErrCorruptStream, "%s: FDF image holds no data", f.Path)
	}

	bpb := make([]byte, bpbLength)
	copy(bpb, data)
	return &source{kind: subFDF, size: int64(len(data)), data: data, bpb: bpb}, nil
}

// expandFDF decodes the FDF block stream. Every block starts with a flag
// byte, two bytes of unknown purpose and a 16-bit length; flag 0 marks a
// literal block, 0xFF the end. suppress bytes are dropped from the output
// after each block.
func expandFDF(src []byte, suppress int) ([]byte, error) {
	out := internal.NewBuffer(decodedLimit)
	overflow := func(err error) error {
		return errors.Wrapf(diskimg.ErrBufferOverflow, "FDF: %v", err)
	}

	pos := 0
	for pos < len(src) {
		flag := src[pos]
		if flag == 0xFF {
			break
		}
		if pos+5 > len(src) {
			return nil, errors.Wrap(diskimg.ErrCorruptStream, "FDF block header truncated")
		}
		n := int(binary.LittleEndian.Uint16(src[pos+3:]))
		pos += 5
		if pos+n > len(src) {
			return nil, errors.Wrapf(diskimg.ErrCorruptStream, "FDF block of %d bytes truncated", n)
		}
		block := src[pos : pos+n]
		pos += n

		if flag == 0 {
			if _, err := out.Write(block); err != nil {
				return nil, overflow(err)
			}
		} else {
			for i := 0; i < len(block); {
				run := int(block[i] & 0x7f)
				if block[i]&0x80 != 0 {
					if i+1 >= len(block) {
						return nil, errors.Wrap(diskimg.ErrCorruptStream, "FDF run without a value")
					}
					if err := out.Fill(block[i+1], run); err != nil {
						return nil, overflow(err)
					}
					i += 2
					continue
				}
				i++
				if i+run > len(block) {
					return nil, errors.Wrap(diskimg.ErrCorruptStream, "FDF literal run truncated")
				}
				if _, err := out.Write(block[i : i+run]); err != nil {
					return nil, overflow(err)
				}
				i += run
			}
		}
		out.Truncate(suppress)
	}
	return out.Bytes(), nil
}

// bpb is the part of a BIOS parameter block the loader looks at.
type bpb struct {
	first byte
	bps   int
	total int
	spt   int
	sides int
}

func parseBPB(p []byte) bpb {
	if len(p) < bpbLength {
		return bpb{}
	}
	b := bpb{
		first: p[0],
		bps:   int(binary.LittleEndian.Uint16(p[0x0B:])),
		total: int(binary.LittleEndian.Uint16(p[0x13:])),
		spt:   int(binary.LittleEndian.Uint16(p[0x18:])),
		sides: int(binary.LittleEndian.Uint16(p[0x1A:])),
	}
	if b.total == 0 {
		b.total = int(binary.LittleEndian.Uint32(p[0x20:]))
	}
	return b
}

// valid applies the checks that decide whether the block can be trusted.
func (b bpb) valid() bool {
	switch b.first {
	case 0x60, 0xE9, 0xEB:
	default:
		return false
	}
	if b.sides < 1 || b.sides > 2 || !diskimg.PowerOfTwoSize(b.bps) {
		return false
	}
	if b.spt == 0 || b.total == 0 {
		return false
	}
	return b.total%b.spt == 0 && b.total%b.sides == 0
}

// finishGeometry is where every sub-decoder converges: header geometry when
// the format has one, else the boot sector, else the file length.
func finishGeometry(src *source, policy diskimg.Policy) (diskimg.Geometry, error) {
	if src.noGuess {
		if err := diskimg.ValidateGeometry(src.geo); err != nil {
			return diskimg.Geometry{}, errors.Wrapf(err, "%s header", src.kind)
		}
		return src.geo, nil
	}

	b := parseBPB(src.bpb)
	if policy.CheckBPB && b.valid() {
		geo := diskimg.Geometry{
			Tracks:          b.total / (b.spt * b.sides),
			Sides:           b.sides,
			SectorsPerTrack: b.spt,
			SectorSize:      b.bps,
		}
		err := diskimg.ValidateGeometry(geo)
		switch {
		case err == nil:
			log.Debugf("%s: geometry from boot sector: %v", src.kind, geo)
			return geo, nil
		case errors.Is(err, diskimg.ErrUnsupportedGeometry):
			return diskimg.Geometry{}, errors.Wrapf(err, "%s boot sector", src.kind)
		}
		log.Debugf("%s: boot sector rejected: %v", src.kind, err)
	}

	k, ok := geometry.GuessFromSize(int(src.size))
	if !ok {
		return diskimg.Geometry{}, errors.Wrapf(diskimg.ErrUnsupportedGeometry, "no known geometry holds %d bytes", src.size)
	}
	geo := diskimg.Geometry{
		Tracks:          k.Tracks,
		Sides:           k.Sides,
		SectorsPerTrack: k.Sectors,
		SectorSize:      k.SectorSize(),
	}
	log.Debugf("%s: geometry guessed from %d bytes: %s", src.kind, src.size, k.Label)
	return geo, nil
}

func cleanComment(p []byte) string {
	return strings.TrimSpace(strings.Trim(string(p), "\x00"))
}
