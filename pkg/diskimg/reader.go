// file: pkg/diskimg/reader.go

package diskimg

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ImageFile is the backing file of an attached image.
type ImageFile struct {
	*os.File
	Path     string
	Size     int64
	ReadOnly bool
}

// OpenImage opens path for update. When the file cannot be opened for
// writing, or the policy forbids it, it is opened read-only instead.
func OpenImage(path string, policy Policy) (*ImageFile, error) {
	var f *os.File
	var err error
	readOnly := policy.WriteProtect

	if !readOnly {
		f, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			log.Debugf("%s: cannot open for writing, trying read-only: %v", path, err)
			readOnly = true
		}
	}
	if readOnly {
		if f, err = os.Open(path); err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}

	return &ImageFile{File: f, Path: path, Size: info.Size(), ReadOnly: readOnly}, nil
}

// Ext returns the lower case file extension without the dot.
func (f *ImageFile) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")
}

// ReadAll reads the whole file. Files longer than limit fail with
// ErrBufferOverflow; a limit of zero means no limit.
func (f *ImageFile) ReadAll(limit int64) ([]byte, error) {
	if limit > 0 && f.Size > limit {
		return nil, errors.Wrapf(ErrBufferOverflow, "%s is %d bytes, limit %d", f.Path, f.Size, limit)
	}
	buf := make([]byte, f.Size)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to read %s", f.Path)
	}
	return buf, nil
}

// ReadAtFill reads len(p) bytes at off. Bytes beyond the end of the file are
// set to fill.
func (f *ImageFile) ReadAtFill(p []byte, off int64, fill byte) error {
	n, err := f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "failed to read %s at %d", f.Path, off)
	}
	for i := n; i < len(p); i++ {
		p[i] = fill
	}
	return nil
}

// ReadHeader reads exactly n bytes from the start of the file, failing with
// ErrNotThisFormat when the file is shorter.
func (f *ImageFile) ReadHeader(n int) ([]byte, error) {
	if f.Size < int64(n) {
		return nil, errors.Wrapf(ErrNotThisFormat, "%s: %d bytes is too short for a header", f.Path, f.Size)
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s header", f.Path)
	}
	return buf, nil
}
