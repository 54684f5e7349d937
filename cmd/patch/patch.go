// file: cmd/patch/patch.go

package patch

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/drive"
	"github.com/ha1tch/floppyimg/pkg/layout"
)

// PatchOptions selects the sector and the bytes to write into it
type PatchOptions struct {
	Track  int
	Side   int
	Sector int    // sector number as recorded in the ID field
	Offset int    // first byte within the sector
	Hex    string // bytes to write, spaces allowed
	Quiet  bool   // Suppress non-error output

	Policy diskimg.Policy
	IMG    img.Options
}

// DefaultPatchOptions returns default options for Patch
func DefaultPatchOptions() *PatchOptions {
	return &PatchOptions{
		Sector: 1,
		Policy: diskimg.DefaultPolicy(),
		IMG:    img.DefaultOptions(),
	}
}

type writeProtected interface {
	WriteProtected() bool
}

// Patch writes bytes into one sector of a writable image
func Patch(diskPath string, opts *PatchOptions) error {
	if opts == nil {
		opts = DefaultPatchOptions()
	}
	data, err := parseHex(opts.Hex)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("nothing to write")
	}

	reg := drive.NewRegistry(layout.NewRecorder())
	reg.IMGOptions = opts.IMG
	h, err := reg.Attach(0, diskPath, opts.Policy)
	if err != nil {
		return errors.Wrap(err, "failed to open disk")
	}

	if err := patch(reg, h, data, opts); err != nil {
		reg.Close()
		return err
	}
	// Detaching writes the track back.
	if err := reg.Detach(0); err != nil {
		return errors.Wrap(err, "failed to save disk image")
	}

	if !opts.Quiet {
		fmt.Printf("Wrote %d bytes to track %d side %d sector %d at offset %d\n",
			len(data), opts.Track, opts.Side, opts.Sector, opts.Offset)
	}
	return nil
}

func patch(reg *drive.Registry, h diskimg.FloppyHandler, data []byte, opts *PatchOptions) error {
	if wp, ok := h.(writeProtected); ok && wp.WriteProtected() {
		return errors.Wrapf(diskimg.ErrReadOnly, "%s image is write protected", h.Format())
	}
	st, ok := h.(diskimg.SectorTracks)
	if !ok {
		return errors.Wrapf(diskimg.ErrUnsupportedSectorEncoding, "%s images carry no sector data", h.Format())
	}

	d := h.Disk()
	if opts.Track < 0 || opts.Track >= d.Tracks || opts.Side < 0 || opts.Side >= d.Sides {
		return errors.Errorf("track %d side %d is outside the %d x %d disk", opts.Track, opts.Side, d.Tracks, d.Sides)
	}
	if err := reg.Seek(0, opts.Track); err != nil {
		return err
	}

	sec := findSector(st.CurrentTrack(opts.Side), opts.Sector)
	if sec == nil {
		return errors.Errorf("sector %d not found on track %d side %d", opts.Sector, opts.Track, opts.Side)
	}
	if opts.Offset < 0 || opts.Offset+len(data) > sec.Size {
		return errors.Errorf("%d bytes at offset %d do not fit a %d byte sector", len(data), opts.Offset, sec.Size)
	}
	if !h.SetSector(opts.Side, sec.ID) {
		return errors.Errorf("sector %v cannot be selected", sec.ID)
	}
	for i, b := range data {
		h.WriteData(opts.Side, opts.Offset+i, b)
	}
	return nil
}

func findSector(t *disk.Track, r int) *disk.Sector {
	if t == nil {
		return nil
	}
	for i := range t.Sectors {
		if int(t.Sectors[i].ID.R) == r {
			return &t.Sectors[i]
		}
	}
	return nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' || r == ',' {
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex bytes")
	}
	return b, nil
}
