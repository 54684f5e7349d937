// file: cmd/list/list.go

package list

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/drive"
	"github.com/ha1tch/floppyimg/pkg/geometry"
	"github.com/ha1tch/floppyimg/pkg/layout"
)

// SectorEntry represents one sector in the track listing
type SectorEntry struct {
	C     uint8    `json:"c"`
	H     uint8    `json:"h"`
	R     uint8    `json:"r"`
	N     uint8    `json:"n"`
	Size  int      `json:"size"`
	Flags []string `json:"flags,omitempty"`
}

// TrackEntry represents one side of one track
type TrackEntry struct {
	Track    int           `json:"track"`
	Side     int           `json:"side"`
	Rate     int           `json:"rate_kbps"`
	Encoding string        `json:"encoding"`
	Gap3     int           `json:"gap3,omitempty"`
	Layout   string        `json:"layout,omitempty"`
	Used     int           `json:"used_bytes"`
	Capacity int           `json:"capacity_bytes"`
	Sectors  []SectorEntry `json:"sectors,omitempty"`
	RawCells int           `json:"raw_cells,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ListOptions configures the track listing
type ListOptions struct {
	JSON   bool // Output in JSON format
	Long   bool // Show every sector instead of the ID range
	Track  int  // Only list this track, -1 for all
	Policy diskimg.Policy
	IMG    img.Options
	Output io.Writer
}

// DefaultListOptions returns default options for List
func DefaultListOptions() *ListOptions {
	return &ListOptions{
		Track:  -1,
		Policy: diskimg.DefaultPolicy(),
		IMG:    img.DefaultOptions(),
		Output: os.Stdout,
	}
}

// List displays the track layout of a disk image
func List(diskPath string, opts *ListOptions) error {
	if opts == nil {
		opts = DefaultListOptions()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	tracks, err := Collect(diskPath, opts)
	if err != nil {
		return err
	}
	if opts.JSON {
		encoder := json.NewEncoder(opts.Output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(tracks)
	}
	return outputText(opts.Output, tracks, opts)
}

// Collect seeks every track of the image and records what the engine saw.
func Collect(diskPath string, opts *ListOptions) ([]TrackEntry, error) {
	if _, err := os.Stat(diskPath); err != nil {
		return nil, errors.Wrap(err, "disk image does not exist")
	}

	policy := opts.Policy
	policy.WriteProtect = true
	eng := layout.NewRecorder()
	reg := drive.NewRegistry(eng)
	reg.IMGOptions = opts.IMG
	defer reg.Close()

	h, err := reg.Attach(0, diskPath, policy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open disk")
	}
	st, sectorLevel := h.(diskimg.SectorTracks)

	d := h.Disk()
	var ret []TrackEntry
	for track := 0; track < d.Tracks; track++ {
		if opts.Track >= 0 && track != opts.Track {
			continue
		}
		if err := reg.Seek(0, track); err != nil {
			return nil, err
		}
		for side := 0; side < d.Sides; side++ {
			f := h.SideFlags(side)
			e := TrackEntry{
				Track:    track,
				Side:     side,
				Rate:     f.Rate().Kbps(),
				Encoding: f.Encoding().String(),
				Capacity: geometry.RawTrackSize(f.Rate(), f.RPM360(), d.Flags.Slow()),
			}
			if !sectorLevel {
				if err := h.ReadRevolution(side); err != nil {
					e.Error = err.Error()
				}
				e.RawCells = h.RawSize(side)
				ret = append(ret, e)
				continue
			}
			if slot := eng.Slot(0); slot != nil {
				e.Used = slot.Sides[side].Used()
			}
			if t := st.CurrentTrack(side); t != nil {
				e.Gap3 = t.Gap3
				e.Layout = layoutName(t)
				for _, s := range t.Sectors {
					e.Sectors = append(e.Sectors, SectorEntry{
						C: s.ID.C, H: s.ID.H, R: s.ID.R, N: s.ID.N,
						Size:  s.Size,
						Flags: flagNames(s.Flags),
					})
				}
			}
			ret = append(ret, e)
		}
	}
	return ret, nil
}

func layoutName(t *disk.Track) string {
	switch {
	case t.XDF != geometry.XDFNone:
		return t.XDF.String()
	case t.Interleaved:
		return "interleaved"
	}
	return ""
}

func flagNames(f disk.SectorFlags) []string {
	var ret []string
	for _, n := range []struct {
		flag disk.SectorFlags
		name string
	}{
		{disk.SectorDeleted, "deleted"},
		{disk.SectorCRCError, "crc"},
		{disk.SectorNoData, "nodata"},
		{disk.SectorOdd, "clipped"},
	} {
		if f&n.flag != 0 {
			ret = append(ret, n.name)
		}
	}
	return ret
}

func outputText(w io.Writer, tracks []TrackEntry, opts *ListOptions) error {
	for _, e := range tracks {
		fmt.Fprintf(w, "%3d.%d  %3d kbps %-3s", e.Track, e.Side, e.Rate, e.Encoding)
		if e.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", e.Error)
			continue
		}
		if e.RawCells > 0 {
			fmt.Fprintf(w, "  %d bit cells\n", e.RawCells)
			continue
		}
		if len(e.Sectors) == 0 {
			fmt.Fprintln(w, "  unformatted")
			continue
		}
		fmt.Fprintf(w, "  %2d sectors  gap3 %3d  %5d/%d bytes", len(e.Sectors), e.Gap3, e.Used, e.Capacity)
		if e.Layout != "" {
			fmt.Fprintf(w, "  %s", e.Layout)
		}
		fmt.Fprintln(w)

		if !opts.Long {
			continue
		}
		for _, s := range e.Sectors {
			fmt.Fprintf(w, "        %02X %02X %02X %02X  %5d", s.C, s.H, s.R, s.N, s.Size)
			if len(s.Flags) > 0 {
				fmt.Fprintf(w, "  %s", strings.Join(s.Flags, ","))
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
