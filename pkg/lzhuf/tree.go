// file: pkg/lzhuf/tree.go

// Package lzhuf decodes the LZSS stream with adaptive Huffman coded tokens
// used by "advanced compression" Teledisk images.
package lzhuf

const (
	N         = 4096 // ring buffer size
	F         = 60   // longest match
	Threshold = 2    // matches longer than this are coded as references

	nChar   = 256 - Threshold + F // literal bytes plus match lengths
	tSize   = nChar*2 - 1         // nodes in the tree
	root    = tSize - 1
	maxFreq = 0x8000
)

// dCode and dLen decode the upper six bits of a match position from the
// first byte read for it.
var dCode, dLen [256]uint8

func init() {
	// runs of (code count, entries per code, bit length)
	runs := []struct{ codes, each, bits int }{
		{1, 32, 3},
		{3, 16, 4},
		{8, 8, 5},
		{12, 4, 6},
		{24, 2, 7},
		{16, 1, 8},
	}
	i, code := 0, 0
	for _, r := range runs {
		for c := 0; c < r.codes; c++ {
			for e := 0; e < r.each; e++ {
				dCode[i] = uint8(code)
				dLen[i] = uint8(r.bits)
				i++
			}
			code++
		}
	}
}

// tree is the adaptive Huffman tree. Positions 0..root hold node
// frequencies in ascending order; son[p] >= tSize marks a leaf for
// character son[p]-tSize.
type tree struct {
	freq [tSize + 1]uint16
	prnt [tSize + nChar]int
	son  [tSize]int
}

func (t *tree) start() {
	for i := 0; i < nChar; i++ {
		t.freq[i] = 1
		t.son[i] = i + tSize
		t.prnt[i+tSize] = i
	}
	i, j := 0, nChar
	for j <= root {
		t.freq[j] = t.freq[i] + t.freq[i+1]
		t.son[j] = i
		t.prnt[i] = j
		t.prnt[i+1] = j
		i += 2
		j++
	}
	t.freq[tSize] = 0xffff
	t.prnt[root] = 0
}

// rebuild halves every leaf frequency and rebuilds the tree from scratch.
func (t *tree) rebuild() {
	j := 0
	for i := 0; i < tSize; i++ {
		if t.son[i] >= tSize {
			t.freq[j] = (t.freq[i] + 1) / 2
			t.son[j] = t.son[i]
			j++
		}
	}

	for i, j := 0, nChar; j < tSize; i, j = i+2, j+1 {
		f := t.freq[i] + t.freq[i+1]
		t.freq[j] = f
		k := j - 1
		for f < t.freq[k] {
			k--
		}
		k++
		copy(t.freq[k+1:j+1], t.freq[k:j])
		t.freq[k] = f
		copy(t.son[k+1:j+1], t.son[k:j])
		t.son[k] = i
	}

	for i := 0; i < tSize; i++ {
		k := t.son[i]
		t.prnt[k] = i
		if k < tSize {
			t.prnt[k+1] = i
		}
	}
}

// update counts one occurrence of character c. It reports whether the tree
// had to be rebuilt first.
func (t *tree) update(c int) bool {
	rebuilt := false
	if t.freq[root] == maxFreq {
		t.rebuild()
		rebuilt = true
	}

	c = t.prnt[c+tSize]
	for {
		t.freq[c]++
		k := t.freq[c]

		if l := c + 1; k > t.freq[l] {
			for k > t.freq[l+1] {
				l++
			}
			t.freq[c] = t.freq[l]
			t.freq[l] = k

			i := t.son[c]
			t.prnt[i] = l
			if i < tSize {
				t.prnt[i+1] = l
			}
			j := t.son[l]
			t.son[l] = i
			t.prnt[j] = c
			if j < tSize {
				t.prnt[j+1] = c
			}
			t.son[c] = j
			c = l
		}

		if c = t.prnt[c]; c == 0 {
			break
		}
	}
	return rebuilt
}
