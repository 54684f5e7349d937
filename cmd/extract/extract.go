// file: cmd/extract/extract.go

package extract

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/drive"
	"github.com/ha1tch/floppyimg/pkg/layout"
)

// ExtractOptions configures the conversion to a raw sector image
type ExtractOptions struct {
	Overwrite bool // Allow overwriting an existing output file
	Quiet     bool // Suppress non-error output

	Policy diskimg.Policy
	IMG    img.Options
}

// DefaultExtractOptions returns default options for Extract
func DefaultExtractOptions() *ExtractOptions {
	return &ExtractOptions{
		Policy: diskimg.DefaultPolicy(),
		IMG:    img.DefaultOptions(),
	}
}

// Extract converts the image at diskPath into a flat raw sector image at
// outPath and returns its length.
func Extract(diskPath, outPath string, opts *ExtractOptions) (int64, error) {
	if opts == nil {
		opts = DefaultExtractOptions()
	}
	if _, err := os.Stat(diskPath); err != nil {
		return 0, errors.Wrap(err, "disk image does not exist")
	}
	if !opts.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			return 0, errors.Errorf("file already exists: %s (use overwrite to replace)", outPath)
		}
	}

	policy := opts.Policy
	policy.WriteProtect = true
	reg := drive.NewRegistry(layout.NewRecorder())
	reg.IMGOptions = opts.IMG
	defer reg.Close()

	h, err := reg.Attach(0, diskPath, policy)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open disk")
	}
	if _, ok := h.(diskimg.SectorTracks); !ok {
		return 0, errors.Wrapf(diskimg.ErrUnsupportedSectorEncoding, "%s images carry no sector data", h.Format())
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, errors.Wrap(err, "failed to create output directory")
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create output file")
	}

	w := bufio.NewWriter(out)
	n, err := diskimg.WriteRaw(w, h)
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Clean up partial file on error
		os.Remove(outPath)
		return 0, errors.Wrapf(err, "failed to extract %s", diskPath)
	}

	if !opts.Quiet {
		fmt.Printf("Extracted %d bytes from %s image to %s\n", n, h.Format(), outPath)
	}
	return n, nil
}
