// file: cmd/create/create.go

package create

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

// CreateOptions configures the image creation
type CreateOptions struct {
	Size       string // Known size label or short form, e.g. 1440k
	BootSector bool   // Write a parameter block describing the geometry
	Force      bool   // Overwrite existing file
	Quiet      bool   // Suppress non-error output
}

// DefaultCreateOptions returns default options for Create
func DefaultCreateOptions() *CreateOptions {
	return &CreateOptions{
		Size: "1440k",
	}
}

// Create writes a blank raw image of a known size
func Create(outPath string, opts *CreateOptions) error {
	if opts == nil {
		opts = DefaultCreateOptions()
	}

	size, ok := geometry.LookupLabel(opts.Size)
	if !ok {
		return errors.Wrapf(diskimg.ErrUnsupportedGeometry, "unknown image size %q", opts.Size)
	}

	outPath = filepath.Clean(outPath)
	if !opts.Force {
		if _, err := os.Stat(outPath); err == nil {
			return errors.Errorf("file already exists: %s (use force to overwrite)", outPath)
		}
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create directory")
		}
	}

	if err := write(outPath, size, opts.BootSector); err != nil {
		// Clean up partial file on error
		os.Remove(outPath)
		return err
	}

	if !opts.Quiet {
		fmt.Printf("Created %s image: %s (%d tracks, %d sides, %d x %d bytes)\n",
			size.Label, outPath, size.Tracks, size.Sides, size.Sectors, size.SectorSize())
	}
	return nil
}

func write(outPath string, size geometry.KnownSize, boot bool) error {
	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "failed to create image")
	}
	w := bufio.NewWriter(f)
	err = diskimg.BlankRaw(w, size)
	if err == nil {
		err = w.Flush()
	}
	if err == nil && boot {
		_, err = f.WriteAt(bootSector(size), 0)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "failed to write %s", outPath)
}

// bootSector builds the first sector with a parameter block the loaders
// read the geometry from.
func bootSector(size geometry.KnownSize) []byte {
	b := make([]byte, size.SectorSize())
	copy(b, []byte{0xEB, 0x3C, 0x90})
	copy(b[3:], "FLOPPYIM")
	binary.LittleEndian.PutUint16(b[0x0B:], uint16(size.SectorSize()))
	b[0x0D] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(b[0x0E:], 1)
	b[0x10] = 2
	binary.LittleEndian.PutUint16(b[0x11:], 224)
	total := size.Tracks * size.Sides * size.Sectors
	if total > 0xFFFF {
		binary.LittleEndian.PutUint32(b[0x20:], uint32(total))
	} else {
		binary.LittleEndian.PutUint16(b[0x13:], uint16(total))
	}
	b[0x15] = mediaByte(size)
	binary.LittleEndian.PutUint16(b[0x18:], uint16(size.Sectors))
	binary.LittleEndian.PutUint16(b[0x1A:], uint16(size.Sides))
	if len(b) >= 512 {
		b[510], b[511] = 0x55, 0xAA
	}
	return b
}

func mediaByte(size geometry.KnownSize) byte {
	switch {
	case size.Sides == 1:
		return 0xFE
	case size.Tracks <= 40:
		return 0xFD
	case size.Sectors == 9:
		return 0xF9
	}
	return 0xF0
}
