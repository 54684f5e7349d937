package diskimg

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// Issue is one inconsistency found by a Check.
type Issue struct {
	Track   int
	Side    int
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("track %d side %d: %s", i.Track, i.Side, i.Message)
}

// Check performs a consistency check of an attached image by seeking every
// track and inspecting what the loader laid out.
type Check struct {
	h      FloppyHandler
	issues []Issue
}

// NewCheck prepares a check of h.
func NewCheck(h FloppyHandler) *Check {
	return &Check{h: h}
}

// Run walks all tracks. Seek failures abort the check; everything else is
// collected as issues.
func (c *Check) Run() ([]Issue, error) {
	c.issues = nil
	d := c.h.Disk()
	st, sectorLevel := c.h.(SectorTracks)

	for track := 0; track < d.Tracks; track++ {
		if err := c.h.Seek(track); err != nil {
			return c.issues, errors.Wrapf(err, "check failed at track %d", track)
		}
		for side := 0; side < d.Sides; side++ {
			if !sectorLevel {
				c.checkFlux(track, side)
				continue
			}
			t := st.CurrentTrack(side)
			if t == nil {
				c.report(track, side, "track missing")
				continue
			}
			c.checkSectors(track, side, t)
			c.checkOrder(track, side, t)
			c.checkFit(track, side, t)
		}
	}
	return c.issues, nil
}

func (c *Check) report(track, side int, format string, args ...interface{}) {
	c.issues = append(c.issues, Issue{Track: track, Side: side, Message: fmt.Sprintf(format, args...)})
}

func (c *Check) checkSectors(track, side int, t *disk.Track) {
	seen := make(map[disk.SectorID]bool, len(t.Sectors))
	for _, sec := range t.Sectors {
		if seen[sec.ID] {
			c.report(track, side, "duplicate sector %v", sec.ID)
		}
		seen[sec.ID] = true

		if sec.Flags&disk.SectorNoData != 0 {
			continue
		}
		if want := geometry.CodeSize(sec.ID.N); sec.Size != want && sec.Flags&disk.SectorOdd == 0 {
			c.report(track, side, "sector %v holds %d bytes, expected %d", sec.ID, sec.Size, want)
		}
		if len(sec.Data) < sec.Size {
			c.report(track, side, "sector %v has %d of %d data bytes", sec.ID, len(sec.Data), sec.Size)
		}
	}
}

func (c *Check) checkOrder(track, side int, t *disk.Track) {
	if t.Order == nil {
		return
	}
	if len(t.Order) != len(t.Sectors) {
		c.report(track, side, "sector order has %d entries for %d sectors", len(t.Order), len(t.Sectors))
		return
	}
	used := make([]bool, len(t.Order))
	for _, v := range t.Order {
		if v < 0 || v >= len(used) || used[v] {
			c.report(track, side, "sector order %v is not a permutation", t.Order)
			return
		}
		used[v] = true
	}
}

func (c *Check) checkFit(track, side int, t *disk.Track) {
	if len(t.Sectors) == 0 {
		return
	}
	used := geometry.TrackUsage(t.Encoding == disk.MFM, t.Sizes()) + t.Gap3*len(t.Sectors)
	raw := geometry.RawTrackSize(t.Rate, t.RPM360, c.h.DiskFlags().Slow())
	if t.Encoding == disk.FM {
		raw /= 2
	}
	if used > raw {
		c.report(track, side, "%d bytes laid out on a %d byte track", used, raw)
	}
}

func (c *Check) checkFlux(track, side int) {
	if err := c.h.ReadRevolution(side); err != nil {
		c.report(track, side, "revolution cannot be decoded: %v", err)
		return
	}
	if c.h.RawSize(side) == 0 {
		c.report(track, side, "empty revolution")
	}
}
