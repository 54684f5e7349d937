// file: pkg/diskimg/writer.go

package diskimg

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// WriteSectors stores p at off in the backing file.
func (f *ImageFile) WriteSectors(off int64, p []byte) error {
	if f.ReadOnly {
		return errors.Wrapf(ErrReadOnly, "%s", f.Path)
	}
	if _, err := f.WriteAt(p, off); err != nil {
		return errors.Wrapf(err, "failed to write %s at %d", f.Path, off)
	}
	return nil
}

// LogicalSectors returns the sectors of t in the order a flat image stores
// them: the recorded image order for reordered tracks, ascending sector
// number otherwise.
func LogicalSectors(t *disk.Track) []*disk.Sector {
	out := make([]*disk.Sector, len(t.Sectors))
	if len(t.Order) == len(t.Sectors) && len(t.Order) > 0 {
		for slot, idx := range t.Order {
			out[idx] = &t.Sectors[slot]
		}
		return out
	}

	for i := range t.Sectors {
		out[i] = &t.Sectors[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID.R < out[j].ID.R })
	return out
}

// WriteRaw flattens an attached image into a raw sector dump, cylinder by
// cylinder and side by side. It returns the number of bytes written.
func WriteRaw(w io.Writer, h FloppyHandler) (int64, error) {
	st, ok := h.(SectorTracks)
	if !ok {
		return 0, errors.Errorf("%s images carry no sector data", h.Format())
	}

	d := h.Disk()
	var written int64
	for c := 0; c < d.Tracks; c++ {
		if err := h.Seek(c); err != nil {
			return written, errors.Wrapf(err, "failed to seek track %d", c)
		}
		for side := 0; side < d.Sides; side++ {
			t := st.CurrentTrack(side)
			if t == nil {
				continue
			}
			for _, sec := range LogicalSectors(t) {
				if sec.Flags&disk.SectorNoData != 0 {
					continue
				}
				data := sec.Data
				if len(data) > sec.Size {
					data = data[:sec.Size]
				}
				n, err := w.Write(data)
				written += int64(n)
				if err != nil {
					return written, errors.Wrap(err, "failed to write sector data")
				}
			}
		}
	}
	return written, nil
}

// BlankRaw writes a formatted-looking empty raw image for a known size.
func BlankRaw(w io.Writer, size geometry.KnownSize) error {
	track := make([]byte, size.Sectors*size.SectorSize())
	for i := range track {
		track[i] = disk.FillByte
	}
	for i := 0; i < size.Tracks*size.Sides; i++ {
		if _, err := w.Write(track); err != nil {
			return errors.Wrap(err, "failed to write blank track")
		}
	}
	return nil
}
