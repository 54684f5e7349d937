// file: cmd/info/info.go

package info

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/disk"
	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/drive"
	"github.com/ha1tch/floppyimg/pkg/layout"
)

// DiskInfo represents image information in a structured format
type DiskInfo struct {
	Path         string    `json:"path"`
	Format       string    `json:"format"`
	Tracks       int       `json:"tracks"`
	Sides        int       `json:"sides"`
	Sectors      int       `json:"sectors_per_track,omitempty"`
	SectorSize   int       `json:"sector_size,omitempty"`
	Rate         int       `json:"rate_kbps"`
	Encoding     string    `json:"encoding"`
	RPM          int       `json:"rpm"`
	Hole         string    `json:"hole"`
	Thin         bool      `json:"thin,omitempty"`
	Slow         bool      `json:"slow,omitempty"`
	WriteProtect bool      `json:"write_protect"`
	Comment      string    `json:"comment,omitempty"`
	Modified     time.Time `json:"modified_time,omitempty"`
	Validation   []string  `json:"validation_issues,omitempty"`
}

// InfoOptions configures the information display
type InfoOptions struct {
	JSON     bool // Output in JSON format
	Validate bool // Seek every track and check the layout
	Quiet    bool // Print only validation issues

	Policy diskimg.Policy
	IMG    img.Options
	Output io.Writer
}

// DefaultInfoOptions returns default options for Info
func DefaultInfoOptions() *InfoOptions {
	return &InfoOptions{
		Policy: diskimg.DefaultPolicy(),
		IMG:    img.DefaultOptions(),
		Output: os.Stdout,
	}
}

// Info displays information about a disk image
func Info(diskPath string, opts *InfoOptions) error {
	if opts == nil {
		opts = DefaultInfoOptions()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	info, err := Collect(diskPath, opts)
	if err != nil {
		return err
	}
	if opts.JSON {
		return outputJSON(opts.Output, info)
	}
	return outputText(opts.Output, info, opts)
}

// Collect attaches the image read-only and gathers its information.
func Collect(diskPath string, opts *InfoOptions) (*DiskInfo, error) {
	if _, err := os.Stat(diskPath); err != nil {
		return nil, errors.Wrap(err, "disk image does not exist")
	}

	policy := opts.Policy
	policy.WriteProtect = true
	reg := drive.NewRegistry(layout.NewRecorder())
	reg.IMGOptions = opts.IMG
	defer reg.Close()

	h, err := reg.Attach(0, diskPath, policy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open disk")
	}

	d := h.Disk()
	info := &DiskInfo{
		Path:         diskPath,
		Format:       h.Format(),
		Tracks:       d.Tracks,
		Sides:        d.Sides,
		Hole:         d.Flags.Hole().String(),
		Thin:         d.Thin,
		Slow:         d.Flags.Slow(),
		WriteProtect: d.WriteProtect,
	}
	if c, ok := h.(diskimg.Commenter); ok {
		info.Comment = c.Comment()
	}
	if stat, err := os.Stat(diskPath); err == nil {
		info.Modified = stat.ModTime()
	}

	if err := reg.Seek(0, 0); err != nil {
		return nil, err
	}
	f := h.SideFlags(0)
	info.Rate = f.Rate().Kbps()
	info.Encoding = f.Encoding().String()
	info.RPM = 300
	if f.RPM360() {
		info.RPM = 360
	}
	if st, ok := h.(diskimg.SectorTracks); ok {
		if t := st.CurrentTrack(0); t != nil && len(t.Sectors) > 0 {
			info.Sectors = len(t.Sectors)
			info.SectorSize = commonSize(t)
		}
	}

	if opts.Validate {
		issues, err := diskimg.NewCheck(h).Run()
		if err != nil {
			return nil, errors.Wrap(err, "failed to validate disk")
		}
		for _, issue := range issues {
			info.Validation = append(info.Validation, issue.String())
		}
	}
	return info, nil
}

// commonSize is the sector size shared by every sector of t, 0 when they
// differ.
func commonSize(t *disk.Track) int {
	size := t.Sectors[0].Size
	for _, s := range t.Sectors[1:] {
		if s.Size != size {
			return 0
		}
	}
	return size
}

// outputJSON writes disk information in JSON format
func outputJSON(w io.Writer, info *DiskInfo) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// outputText writes disk information in human-readable format
func outputText(w io.Writer, info *DiskInfo, opts *InfoOptions) error {
	if opts.Quiet {
		for _, issue := range info.Validation {
			fmt.Fprintln(w, issue)
		}
		return nil
	}

	fmt.Fprintf(w, "Disk Image: %s\n\n", info.Path)
	fmt.Fprintf(w, "Format:     %s\n", info.Format)
	fmt.Fprintf(w, "Tracks:     %d\n", info.Tracks)
	fmt.Fprintf(w, "Sides:      %d\n", info.Sides)
	if info.Sectors > 0 {
		if info.SectorSize > 0 {
			fmt.Fprintf(w, "Sectors:    %d per track, %d bytes\n", info.Sectors, info.SectorSize)
		} else {
			fmt.Fprintf(w, "Sectors:    %d on track 0, mixed sizes\n", info.Sectors)
		}
	}
	fmt.Fprintf(w, "Rate:       %d kbps %s, %d rpm\n", info.Rate, info.Encoding, info.RPM)
	fmt.Fprintf(w, "Media:      %s", info.Hole)
	if info.Thin {
		fmt.Fprint(w, ", 96 tpi")
	}
	if info.Slow {
		fmt.Fprint(w, ", 2% slow")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Protected:  %v\n", info.WriteProtect)
	if !info.Modified.IsZero() {
		fmt.Fprintf(w, "Modified:   %s\n", info.Modified.Format(time.RFC1123))
	}
	if info.Comment != "" {
		fmt.Fprintf(w, "\nComment:\n%s\n", info.Comment)
	}

	if len(info.Validation) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warning := range info.Validation {
			fmt.Fprintf(w, "- %s\n", warning)
		}
	}
	return nil
}
