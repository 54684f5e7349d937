// file: pkg/lzhuf/decoder.go

package lzhuf

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/internal"
)

var ErrCorruptStream = errors.New("lzhuf: corrupt stream")

// bitReader hands out bits MSB first and zeros once the source is
// exhausted, counting every padding bit it invents.
type bitReader struct {
	src io.ByteReader
	buf uint32 // left aligned
	n   int
	eof bool
	err error
	pad int
}

func (b *bitReader) fill() {
	for b.n <= 24 && !b.eof {
		c, err := b.src.ReadByte()
		if err != nil {
			b.eof = true
			if err != io.EOF {
				b.err = err
			}
			return
		}
		b.buf |= uint32(c) << uint(24-b.n)
		b.n += 8
	}
}

func (b *bitReader) bit() int {
	if b.n == 0 {
		b.fill()
		if b.n == 0 {
			b.pad++
			return 0
		}
	}
	v := int(b.buf >> 31)
	b.buf <<= 1
	b.n--
	return v
}

func (b *bitReader) byte() int {
	v := 0
	for i := 0; i < 8; i++ {
		v = v<<1 | b.bit()
	}
	return v
}

// empty reports whether every bit of the source has been consumed.
func (b *bitReader) empty() bool {
	b.fill()
	return b.eof && b.n == 0
}

// zeroTail reports whether all that is left is less than a byte of zero
// bits, the padding after the final token.
func (b *bitReader) zeroTail() bool {
	b.fill()
	return b.eof && b.n < 8 && b.buf>>uint(32-b.n) == 0
}

// Decoder decompresses one stream. It keeps the ring buffer and tree
// between calls so a stream can be read in pieces.
type Decoder struct {
	bits bitReader
	huff tree
	text [N]byte
	r    int

	copyPos, copyLen, copyIdx int

	written  int
	rebuilds []int
}

// NewDecoder prepares a decoder reading from src.
func NewDecoder(src io.Reader) *Decoder {
	br, ok := src.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(src)
	}
	d := &Decoder{bits: bitReader{src: br}}
	d.huff.start()
	for i := 0; i < N-F; i++ {
		d.text[i] = ' '
	}
	d.r = N - F
	return d
}

// Rebuilds returns the output offsets at which the Huffman tree was rebuilt.
func (d *Decoder) Rebuilds() []int {
	return d.rebuilds
}

func (d *Decoder) put(c byte) {
	d.text[d.r] = c
	d.r = (d.r + 1) & (N - 1)
	d.written++
}

func (d *Decoder) decodeChar() int {
	c := d.huff.son[root]
	for c < tSize {
		c = d.huff.son[c+d.bits.bit()]
	}
	c -= tSize
	if d.huff.update(c) {
		d.rebuilds = append(d.rebuilds, d.written)
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("lzhuf: tree rebuilt at output offset %d", d.written)
		}
	}
	return c
}

func (d *Decoder) decodePosition() int {
	i := d.bits.byte()
	c := int(dCode[i]) << 6
	for j := int(dLen[i]) - 2; j > 0; j-- {
		i = i<<1 | d.bits.bit()
	}
	return c | i&0x3f
}

// next produces one output byte. ok is false at a clean end of stream.
func (d *Decoder) next() (byte, bool, error) {
	for d.copyLen == 0 {
		if d.bits.empty() {
			if d.bits.err != nil {
				return 0, false, errors.Wrap(d.bits.err, "lzhuf: read failed")
			}
			return 0, false, nil
		}
		tail := d.bits.zeroTail()

		c := d.decodeChar()
		pos := 0
		if c >= 256 {
			pos = d.decodePosition()
		}
		if d.bits.pad > 0 {
			if tail {
				return 0, false, nil
			}
			return 0, false, errors.Wrapf(ErrCorruptStream, "token truncated at offset %d", d.written)
		}

		if c < 256 {
			d.put(byte(c))
			return byte(c), true, nil
		}
		d.copyPos = (d.r - pos - 1) & (N - 1)
		d.copyLen = c - 255 + Threshold
		d.copyIdx = 0
	}

	c := d.text[(d.copyPos+d.copyIdx)&(N-1)]
	d.copyIdx++
	if d.copyIdx >= d.copyLen {
		d.copyLen, d.copyIdx = 0, 0
	}
	d.put(c)
	return c, true, nil
}

// Decode returns exactly want bytes. Running out of input first is a
// corrupt stream.
func (d *Decoder) Decode(want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for len(out) < want {
		c, ok, err := d.next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, errors.Wrapf(ErrCorruptStream, "stream ended after %d of %d bytes", len(out), want)
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeAll decodes to the end of the stream. Output longer than limit
// fails with internal.ErrOverflow; a limit of zero means no limit.
func (d *Decoder) DecodeAll(limit int) ([]byte, error) {
	out := internal.NewBuffer(limit)
	for {
		c, ok, err := d.next()
		if err != nil {
			return out.Bytes(), err
		}
		if !ok {
			return out.Bytes(), nil
		}
		if err := out.WriteByte(c); err != nil {
			return out.Bytes(), errors.Wrap(err, "lzhuf")
		}
	}
}

// Decompress decodes a complete in-memory stream.
func Decompress(src []byte, limit int) ([]byte, error) {
	return NewDecoder(bytes.NewReader(src)).DecodeAll(limit)
}
