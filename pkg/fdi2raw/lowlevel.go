// file: pkg/fdi2raw/lowlevel.go

package fdi2raw

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	fixedShift = 8  // fractional bits of pulse widths
	psEntries  = 10 // pulses in the running bit cell average
	pulseLimit = 15 // percent the average may drift from nominal
	randMax    = 0x7fff
)

// cellsPerRev is the nominal number of cells in one revolution per density.
var cellsPerRev = [...]int64{50000, 100000, 200000, 400000}

// lcg reproduces the C library rand of the reference decoder.
type lcg struct {
	state uint32
}

func newLCG(seed uint32) lcg { return lcg{state: seed} }

func (g *lcg) next() int64 {
	g.state = g.state*214013 + 2531011
	return int64(g.state>>16) & randMax
}

// pulseTrack is a decompressed low-level track.
type pulseTrack struct {
	avg, min, max []uint32
	idx           []uint32 // index signal strength per pulse
	maxIdx        uint32
	indexPulse    int
	totalAvg      uint64
	weakBits      int
}

func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// parseLowLevel reads the pulse count, the four stream sizes and the
// streams. Minimum and maximum are stored as distances from the average.
func parseLowLevel(src []byte) (*pulseTrack, error) {
	if len(src) < 16 {
		return nil, errors.Wrap(ErrCorruptTrack, "low-level track header truncated")
	}
	pulses := int(binary.BigEndian.Uint32(src))
	if pulses == 0 {
		return nil, errors.Wrap(ErrCorruptTrack, "low-level track without pulses")
	}
	if pulses > maxTrackCells {
		return nil, errors.Wrapf(ErrCorruptTrack, "%d pulses", pulses)
	}
	sizes := [4]uint32{u24(src[4:]), u24(src[7:]), u24(src[10:]), u24(src[13:])}
	off := 16
	stream := func(i int) ([]uint32, error) {
		v, err := decompress(pulses, sizes[i], src[off:])
		if err != nil {
			return nil, err
		}
		off += int(sizes[i] & 0x3fffff)
		return v, nil
	}

	t := &pulseTrack{}
	var err error
	if t.avg, err = stream(0); err != nil {
		return nil, errors.Wrap(err, "average stream")
	}
	if sizes[1] != 0 && sizes[2] != 0 {
		if t.min, err = stream(1); err != nil {
			return nil, errors.Wrap(err, "minimum stream")
		}
		if t.max, err = stream(2); err != nil {
			return nil, errors.Wrap(err, "maximum stream")
		}
		for i, a := range t.avg {
			if t.min[i] > a {
				t.min[i] = 0
			} else {
				t.min[i] = a - t.min[i]
			}
			t.max[i] += a
		}
	} else {
		t.min, t.max = t.avg, t.avg
	}

	on := make([]uint32, pulses)
	offs := make([]uint32, pulses)
	if sizes[3] != 0 {
		raw, err := stream(3)
		if err != nil {
			return nil, errors.Wrap(err, "index stream")
		}
		for i, v := range raw {
			on[i], offs[i] = (v>>8)&0xff, v&0xff
		}
	} else {
		for i := range on {
			on[i] = 2
		}
		on[0], offs[0] = 1, 1
	}

	t.idx = make([]uint32, pulses)
	for i := range on {
		t.idx[i] = on[i] + offs[i]
		if t.idx[i] > t.maxIdx {
			t.maxIdx = t.idx[i]
		}
	}
	t.indexPulse = findIndex(on, offs)

	for i, a := range t.avg {
		if t.idx[i] >= t.maxIdx {
			t.totalAvg += uint64(a)
		} else {
			t.weakBits++
		}
	}
	return t, nil
}

// findIndex locates the falling edge of the index signal.
func findIndex(on, off []uint32) int {
	n := len(on)
	i := 0
	for i < n && off[i] != 0 {
		i++
	}
	if i == n {
		return 0
	}
	step := func() {
		if i++; i >= n {
			i = 0
		}
	}
	j := i
	step()
	for i != j && off[i] == 0 {
		step()
	}
	if i == j {
		return 0
	}
	for i != j && on[i] > off[i] {
		step()
	}
	if i == j {
		return 0
	}
	return i
}

// shape maps half of the generator range onto the whole of it, with more
// weight near zero.
func shape(r int64) int64 {
	if r > randMax/4 {
		if r <= 3*randMax/8 {
			return 2*r - randMax/4
		}
		return 4*r - randMax
	}
	return r
}

// fluxDecoder holds the state of one decode pass.
type fluxDecoder struct {
	t        *pulseTrack
	rng      *lcg
	cell     int64 // nominal cell width
	ps       [psEntries]struct{ size, bits int64 }
	psNext   int
	total    int64
	totalDiv int64
	out      *bitWriter
	timing   []int64 // pulse width per cell
	index    int
}

func fx(v uint32) int64 { return int64(v) << fixedShift }

func (d *fluxDecoder) average() int64 {
	avg := d.total / d.totalDiv
	lim := d.cell * pulseLimit / 100
	if avg < d.cell-lim || avg > d.cell+lim {
		return d.cell
	}
	return avg
}

func (d *fluxDecoder) record(pulse, cells int64) {
	e := &d.ps[d.psNext]
	d.total += pulse - e.size
	d.totalDiv += cells - e.bits
	e.size, e.bits = pulse, cells
	if d.psNext++; d.psNext >= psEntries {
		d.psNext = 0
	}
}

// jittered moves avg towards lo or hi by a random fraction of the distance.
func (d *fluxDecoder) jittered(avg, lo, hi int64) int64 {
	r := d.rng.next()
	if r < randMax/2 {
		return avg - shape(r)*(avg-lo)/randMax
	}
	return avg + shape(r-randMax/2)*(hi-avg)/randMax
}

func (d *fluxDecoder) run() error {
	t := d.t
	n := len(t.avg)
	twoCells := 2 * d.cell

	i := 1
	for i < n && (t.idx[i] < t.maxIdx || t.idx[i-1] < t.maxIdx || fx(t.min[i]) < twoCells-twoCells/4) {
		i++
	}
	if i >= n {
		return ErrNoStablePulse
	}
	nexti, eodat := i, i
	i--

	for k := range d.ps {
		d.ps[k].size, d.ps[k].bits = twoCells, 2
		d.total += twoCells
		d.totalDiv += 2
	}

	var refPulse, jitter, adjust int64
	trace := log.IsLevelEnabled(log.TraceLevel)
	budget := 4*n + 16
	for outstep := -1; outstep < 2; {
		avg := d.average()

		var pulse int64
		for pulse < avg-avg/4 {
			if budget--; budget < 0 {
				return errors.Wrap(ErrCorruptTrack, "pulse widths never complete a revolution")
			}
			if i++; i >= n {
				i = 0
			}
			if i == nexti {
				for {
					if nexti++; nexti >= n {
						nexti = 0
					}
					if t.idx[nexti] >= t.maxIdx {
						break
					}
				}
			}

			if t.idx[i] >= t.maxIdx {
				avgP := fx(t.avg[i]) - jitter
				minP, maxP := fx(t.min[i]), fx(t.max[i])
				if jitter >= 0 {
					maxP -= jitter
				} else {
					minP -= jitter
				}
				nAvg, nMin, nMax := fx(t.avg[nexti]), fx(t.min[nexti]), fx(t.max[nexti])
				if nMax-nAvg < avgP-minP {
					minP = avgP - (nMax - nAvg)
				}
				if nAvg-nMin < maxP-avgP {
					maxP = avgP + (nAvg - nMin)
				}
				if minP < refPulse {
					minP = refPulse
				}
				before := avgP
				avgP = d.jittered(avgP, minP, maxP)
				jitter = avgP - before
				if trace && (avgP < minP || avgP > maxP) {
					log.Tracef("FDI: pulse %d outside bounds: %d not in [%d, %d]", i, avgP, minP, maxP)
				}
				pulse += avgP - refPulse
				refPulse = 0
				if i == eodat {
					outstep++
				}
			} else if d.rng.next() <= int64(t.idx[i])*randMax/int64(t.maxIdx) {
				avgP := d.jittered(fx(t.avg[i]), fx(t.min[i]), fx(t.max[i]))
				if avgP > refPulse && avgP < fx(t.avg[nexti])-jitter {
					pulse += avgP - refPulse
					refPulse = avgP
				}
			}
			if outstep == 1 && i == t.indexPulse {
				d.index = d.out.Len()
			}
		}
		if outstep >= 2 {
			break
		}

		eff := pulse - adjust
		cells := (eff + avg/2) / avg
		if cells < 1 {
			cells = 1
		}
		if outstep == 1 {
			for j := cells; j > 1; j-- {
				d.out.writeHalfBit(0)
			}
			d.out.writeHalfBit(1)
			for j := int64(0); j < cells; j++ {
				d.timing = append(d.timing, pulse/cells)
			}
			if d.out.err != nil {
				return d.out.err
			}
		}
		adjust = cells*avg - eff
		if adjust > avg/2 {
			adjust = avg / 2
		} else if adjust < -avg/2 {
			adjust = -avg / 2
		}
		d.record(pulse, cells)
	}
	return nil
}

// cellTiming averages the per-cell widths over groups of eight cells and
// scales them so that 1000 is the mean cell width of the revolution.
func cellTiming(timing []int64, totalAvg uint64) []uint16 {
	if len(timing) == 0 {
		return nil
	}
	bitLen := int64(totalAvg<<fixedShift) / int64(len(timing))
	if bitLen == 0 {
		return nil
	}
	out := make([]uint16, 0, (len(timing)+7)/8)
	for i := 0; i < len(timing); i += 8 {
		end := i + 8
		if end > len(timing) {
			end = len(timing)
		}
		var sum int64
		for _, v := range timing[i:end] {
			sum += v
		}
		v := 1000 * (sum / int64(end-i)) / bitLen
		if v > 0xffff {
			v = 0xffff
		}
		out = append(out, uint16(v))
	}
	return out
}

func (f *FDI) decodeLowLevel(src []byte, density int) (*Revolution, error) {
	t, err := parseLowLevel(src)
	if err != nil {
		return nil, err
	}
	if t.totalAvg == 0 {
		return nil, ErrNoStablePulse
	}
	cell := int64(t.totalAvg<<fixedShift) / cellsPerRev[density]
	if cell == 0 {
		return nil, errors.Wrapf(ErrCorruptTrack, "revolution of %d is too short for density %d", t.totalAvg, density)
	}
	d := &fluxDecoder{
		t:    t,
		rng:  &f.rng,
		cell: cell,
		out:  newBitWriter(int(cellsPerRev[density]) * 2),
	}
	if err := d.run(); err != nil {
		return nil, err
	}
	log.Debugf("FDI: %d pulses, %d weak, %d cells, index at %d", len(t.avg), t.weakBits, d.out.Len(), d.index)
	return &Revolution{
		Bits:     d.out.Bits(),
		Timing:   cellTiming(d.timing, t.totalAvg),
		Length:   d.out.Len(),
		Index:    d.index,
		WeakBits: t.weakBits,
	}, nil
}
