// file: pkg/layout/render.go

package layout

import (
	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/internal"
	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

const (
	gapByte  = 0x4E
	fmGap    = 0xFF
	markIDAM = 0xFE
	markDAM  = 0xFB
	markDDAM = 0xF8
	markIAM  = 0xFC
)

type stream struct {
	buf *internal.Buffer
	mfm bool
	err error
}

func (w *stream) put(p ...byte) {
	if w.err == nil {
		_, w.err = w.buf.Write(p)
	}
}

func (w *stream) fill(b byte, n int) {
	if w.err == nil {
		w.err = w.buf.Fill(b, n)
	}
}

func (w *stream) gap(n int) {
	if w.mfm {
		w.fill(gapByte, n)
	} else {
		w.fill(fmGap, n)
	}
}

// mark writes the sync run and an address mark and returns the CRC preset
// that covers the mark.
func (w *stream) mark(m byte) uint16 {
	if w.mfm {
		w.fill(0x00, 12)
		w.put(0xA1, 0xA1, 0xA1, m)
		return internal.CRC16(internal.CRCInit, 0xA1, 0xA1, 0xA1, m)
	}
	w.fill(0x00, 6)
	w.put(m)
	return internal.CRC16(internal.CRCInit, m)
}

// Render returns the decoded byte stream of one side of the current track,
// padded with gap bytes to the nominal raw track length. Sectors recorded
// with a CRC error get an inverted data CRC.
func (r *Recorder) Render(s diskimg.Slot, side int) ([]byte, error) {
	st := r.Slot(s)
	if st == nil {
		return nil, errors.Wrapf(diskimg.ErrNoDisk, "slot %d", s)
	}
	sd := &st.Sides[side&1]
	raw := geometry.RawTrackSize(sd.Flags.Rate(), sd.Flags.RPM360(), false)
	if !sd.Flags.MFM() {
		raw /= 2
	}

	w := &stream{buf: internal.NewBuffer(0), mfm: sd.Flags.MFM()}
	if sd.Pretrack > 0 {
		if w.mfm {
			w.gap(80)
			w.fill(0x00, 12)
			w.put(0xC2, 0xC2, 0xC2, markIAM)
			w.gap(50)
		} else {
			w.gap(40)
			w.fill(0x00, 6)
			w.put(markIAM)
			w.gap(26)
		}
	}

	for _, rec := range sd.Sectors {
		crc := w.mark(markIDAM)
		id := []byte{rec.ID.C, rec.ID.H, rec.ID.R, rec.ID.N}
		w.put(id...)
		crc = internal.CRC16(crc, id...)
		w.put(byte(crc>>8), byte(crc))
		w.gap(rec.Gap2)

		if rec.Flags&disk.SectorNoData == 0 {
			dam := byte(markDAM)
			if rec.Flags&disk.SectorDeleted != 0 {
				dam = markDDAM
			}
			crc = w.mark(dam)
			data := make([]byte, rec.Size)
			n := copy(data, rec.Data)
			for i := n; i < len(data); i++ {
				data[i] = disk.FillByte
			}
			w.put(data...)
			crc = internal.CRC16(crc, data...)
			if rec.Flags&disk.SectorCRCError != 0 {
				crc = ^crc
			}
			w.put(byte(crc>>8), byte(crc))
		}
		w.gap(rec.Gap3)
	}

	if w.err != nil {
		return nil, errors.Wrap(w.err, "failed to render track")
	}
	if pad := raw - w.buf.Len(); pad > 0 {
		w.gap(pad)
	}
	return w.buf.Bytes(), w.err
}
