// file: pkg/lzhuf/encoder.go

package lzhuf

// encoder is the compressing half of the codec. Matches are found greedily
// through a table of three byte prefixes.
type encoder struct {
	huff  tree
	out   []byte
	cur   byte
	n     int
	pCode [64]uint8
	pLen  [64]uint8
}

func newEncoder() *encoder {
	e := &encoder{}
	e.huff.start()
	for i := 255; i >= 0; i-- {
		e.pCode[dCode[i]] = uint8(i)
		e.pLen[dCode[i]] = dLen[i]
	}
	return e
}

// putBits writes the top n bits of v.
func (e *encoder) putBits(v uint32, n int) {
	for i := 0; i < n; i++ {
		e.cur = e.cur<<1 | byte(v>>31)
		v <<= 1
		e.n++
		if e.n == 8 {
			e.out = append(e.out, e.cur)
			e.cur, e.n = 0, 0
		}
	}
}

func (e *encoder) encodeChar(c int) {
	var code uint32
	n := 0
	k := e.huff.prnt[c+tSize]
	for {
		code >>= 1
		if k&1 != 0 {
			code |= 0x80000000
		}
		n++
		if k = e.huff.prnt[k]; k == root {
			break
		}
	}
	e.putBits(code, n)
	e.huff.update(c)
}

func (e *encoder) encodePosition(p int) {
	i := p >> 6
	e.putBits(uint32(e.pCode[i])<<24, int(e.pLen[i]))
	e.putBits(uint32(p&0x3f)<<26, 6)
}

func (e *encoder) flush() []byte {
	if e.n > 0 {
		e.out = append(e.out, e.cur<<uint(8-e.n))
		e.cur, e.n = 0, 0
	}
	return e.out
}

// Compress packs data into a stream Decompress restores. It exists to
// produce Teledisk images; the output is valid but not optimal.
func Compress(data []byte) []byte {
	e := newEncoder()
	last := map[[3]byte]int{}
	for i := 0; i < len(data); {
		best, dist := 0, 0
		if i+3 <= len(data) {
			key := [3]byte{data[i], data[i+1], data[i+2]}
			if s, ok := last[key]; ok && i-s <= N-F {
				for best < F && i+best < len(data) && data[s+best] == data[i+best] {
					best++
				}
				dist = i - s
			}
		}

		step := 1
		if best > Threshold {
			e.encodeChar(best - Threshold + 255)
			e.encodePosition(dist - 1)
			step = best
		} else {
			e.encodeChar(int(data[i]))
		}
		for j := i; j < i+step && j+3 <= len(data); j++ {
			last[[3]byte{data[j], data[j+1], data[j+2]}] = j
		}
		i += step
	}
	return e.flush()
}
