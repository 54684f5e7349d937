// file: pkg/fdi2raw/huffman.go

package fdi2raw

import "github.com/pkg/errors"

// Stream modes in the top two bits of a 24-bit stream size.
const (
	streamRaw     = 0
	streamHuffman = 1
)

type node struct {
	left, right *node
	v           uint16
}

// streamReader reads bits MSB first and realigns to bytes between the
// parts of a sub-stream.
type streamReader struct {
	src  []byte
	pos  int
	mask byte
}

func newStreamReader(src []byte) *streamReader {
	return &streamReader{src: src, mask: 0x80}
}

func (s *streamReader) bit() (int, error) {
	if s.pos >= len(s.src) {
		return 0, errors.Wrap(ErrCorruptTrack, "huffman stream truncated")
	}
	v := 0
	if s.src[s.pos]&s.mask != 0 {
		v = 1
	}
	s.mask >>= 1
	if s.mask == 0 {
		s.mask = 0x80
		s.pos++
	}
	return v, nil
}

func (s *streamReader) align() {
	if s.mask != 0x80 {
		s.mask = 0x80
		s.pos++
	}
}

func (s *streamReader) readByte() (byte, error) {
	s.align()
	if s.pos >= len(s.src) {
		return 0, errors.Wrap(ErrCorruptTrack, "huffman stream truncated")
	}
	b := s.src[s.pos]
	s.pos++
	return b, nil
}

// expandTree reads the tree shape: 1 marks a leaf, 0 an inner node
// followed by its left and right subtrees.
func (s *streamReader) expandTree(n *node, depth int) error {
	if depth > 32 {
		return errors.Wrap(ErrCorruptTrack, "huffman tree too deep")
	}
	b, err := s.bit()
	if err != nil {
		return err
	}
	if b == 1 {
		return nil
	}
	n.left, n.right = &node{}, &node{}
	if err := s.expandTree(n.left, depth+1); err != nil {
		return err
	}
	return s.expandTree(n.right, depth+1)
}

// leafValues assigns the values to the leaves, left to right.
func (s *streamReader) leafValues(n *node, wide bool) error {
	if n.left == nil {
		hi, err := s.readByte()
		if err != nil {
			return err
		}
		n.v = uint16(hi)
		if wide {
			lo, err := s.readByte()
			if err != nil {
				return err
			}
			n.v = n.v<<8 | uint16(lo)
		}
		return nil
	}
	if err := s.leafValues(n.left, wide); err != nil {
		return err
	}
	return s.leafValues(n.right, wide)
}

func signExtend(v uint16, wide bool) uint32 {
	if wide {
		return uint32(int32(int16(v)))
	}
	return uint32(int32(int8(v)))
}

// huffmanDecode fills out with count values built from one or more
// sub-streams. Each sub-stream ORs its values in at its shift; a shift of
// zero marks the last one.
func huffmanDecode(src []byte, count int) ([]uint32, error) {
	out := make([]uint32, count)
	s := newStreamReader(src)
	for {
		h, err := s.readByte()
		if err != nil {
			return nil, err
		}
		f, err := s.readByte()
		if err != nil {
			return nil, err
		}
		signed := h&0x80 != 0
		shift := uint(h & 0x7f)
		wide := f&0x80 != 0
		if shift > 31 {
			return nil, errors.Wrapf(ErrCorruptTrack, "sub-stream shift %d", shift)
		}

		root := &node{}
		if err := s.expandTree(root, 0); err != nil {
			return nil, err
		}
		if err := s.leafValues(root, wide); err != nil {
			return nil, err
		}
		s.align()

		for i := range out {
			n := root
			for n.left != nil {
				b, err := s.bit()
				if err != nil {
					return nil, err
				}
				if b == 1 {
					n = n.right
				} else {
					n = n.left
				}
			}
			v := uint32(n.v)
			if signed {
				v = signExtend(n.v, wide)
			}
			out[i] |= v << shift
		}
		s.align()

		if shift == 0 {
			return out, nil
		}
	}
}

// decompress reads one pulse stream described by a 24-bit size field.
func decompress(pulses int, sizeField uint32, src []byte) ([]uint32, error) {
	length := int(sizeField & 0x3fffff)
	mode := sizeField >> 22
	if length > len(src) {
		return nil, errors.Wrapf(ErrCorruptTrack, "stream of %d bytes, %d available", length, len(src))
	}
	src = src[:length]
	if mode == streamRaw && pulses*2 > length {
		mode = streamHuffman
	}
	switch mode {
	case streamRaw:
		if pulses*4 > length {
			return nil, errors.Wrapf(ErrCorruptTrack, "raw stream of %d bytes for %d pulses", length, pulses)
		}
		out := make([]uint32, pulses)
		for i := range out {
			out[i] = uint32(src[i*4])<<24 | uint32(src[i*4+1])<<16 | uint32(src[i*4+2])<<8 | uint32(src[i*4+3])
		}
		return out, nil
	case streamHuffman:
		return huffmanDecode(src, pulses)
	}
	return nil, errors.Wrapf(ErrCorruptTrack, "stream mode %d", mode)
}
