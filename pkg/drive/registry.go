// file: pkg/drive/registry.go

// Package drive keeps the handlers attached to the drive slots and picks
// the loader for an image file.
package drive

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/diskimg/fdi"
	"github.com/ha1tch/floppyimg/pkg/diskimg/imd"
	"github.com/ha1tch/floppyimg/pkg/diskimg/img"
	"github.com/ha1tch/floppyimg/pkg/diskimg/pcjs"
	"github.com/ha1tch/floppyimg/pkg/diskimg/td0"
)

// Loader attaches the image at path to a drive.
type Loader func(path string, drv diskimg.Drive) (diskimg.FloppyHandler, error)

// adapt turns a format's Load into a Loader. A failed load yields a nil
// interface, never a typed nil.
func adapt[H diskimg.FloppyHandler](load func(string, diskimg.Drive) (H, error)) Loader {
	return func(path string, drv diskimg.Drive) (diskimg.FloppyHandler, error) {
		h, err := load(path, drv)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// Loaders returns the candidate loaders in the order Open tries them.
// Formats with a signature come first; the IMG family, which accepts any
// file of a known size, comes last.
func Loaders(opts img.Options) []Loader {
	return []Loader{
		adapt(fdi.Load),
		adapt(imd.Load),
		adapt(td0.Load),
		adapt(pcjs.Load),
		adapt(func(path string, drv diskimg.Drive) (*img.Image, error) {
			return img.Load(path, drv, opts)
		}),
	}
}

// Open tries every loader on path and returns the first handler that
// accepts it. Only ErrNotThisFormat moves on to the next loader; any other
// failure is final.
func Open(path string, drv diskimg.Drive, opts img.Options) (diskimg.FloppyHandler, error) {
	for _, load := range Loaders(opts) {
		h, err := load(path, drv)
		if err == nil {
			log.Debugf("drive: %s attached as %s", path, h.Format())
			return h, nil
		}
		if !errors.Is(err, diskimg.ErrNotThisFormat) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(diskimg.ErrNotThisFormat, "%s: no loader recognizes the image", path)
}

// Registry owns the handler of every occupied drive slot.
type Registry struct {
	// IMGOptions is passed to the IMG family loader on every Attach.
	IMGOptions img.Options

	engine   diskimg.Engine
	mu       sync.Mutex
	handlers map[diskimg.Slot]diskimg.FloppyHandler
	paths    map[diskimg.Slot]string
}

// NewRegistry returns a registry whose handlers report to engine. A nil
// engine is allowed.
func NewRegistry(engine diskimg.Engine) *Registry {
	return &Registry{
		IMGOptions: img.DefaultOptions(),
		engine:     engine,
		handlers:   map[diskimg.Slot]diskimg.FloppyHandler{},
		paths:      map[diskimg.Slot]string{},
	}
}

// Attach loads the image at path into slot. The slot must be empty; on
// failure it stays empty.
func (r *Registry) Attach(slot diskimg.Slot, path string, policy diskimg.Policy) (diskimg.FloppyHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[slot]; ok {
		return nil, errors.Wrapf(diskimg.ErrSlotBusy, "slot %d holds %s", slot, r.paths[slot])
	}
	h, err := Open(path, diskimg.Drive{Slot: slot, Engine: r.engine, Policy: policy}, r.IMGOptions)
	if err != nil {
		return nil, err
	}
	r.handlers[slot] = h
	r.paths[slot] = path
	log.Infof("drive: slot %d loaded %s (%s)", slot, path, h.Format())
	return h, nil
}

// Detach writes back the current track of slot and closes its handler.
// The slot is emptied even when writing back fails.
func (r *Registry) Detach(slot diskimg.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detach(slot)
}

func (r *Registry) detach(slot diskimg.Slot) error {
	h, ok := r.handlers[slot]
	if !ok {
		return errors.Wrapf(diskimg.ErrNoDisk, "slot %d", slot)
	}
	path := r.paths[slot]
	delete(r.handlers, slot)
	delete(r.paths, slot)

	werr := h.Writeback()
	cerr := h.Close()
	if werr != nil {
		return errors.Wrapf(werr, "slot %d: failed to write back %s", slot, path)
	}
	if cerr != nil {
		return errors.Wrapf(cerr, "slot %d", slot)
	}
	log.Infof("drive: slot %d unloaded %s", slot, path)
	return nil
}

// Handler returns the handler in slot, or ErrNoDisk.
func (r *Registry) Handler(slot diskimg.Slot) (diskimg.FloppyHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[slot]
	if !ok {
		return nil, errors.Wrapf(diskimg.ErrNoDisk, "slot %d", slot)
	}
	return h, nil
}

// Path returns the image file attached to slot, empty when there is none.
func (r *Registry) Path(slot diskimg.Slot) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paths[slot]
}

// Seek flushes the track under the heads of slot and moves them to track.
func (r *Registry) Seek(slot diskimg.Slot, track int) error {
	h, err := r.Handler(slot)
	if err != nil {
		return err
	}
	if err := h.Writeback(); err != nil {
		return errors.Wrapf(err, "slot %d", slot)
	}
	if err := h.Seek(track); err != nil {
		return errors.Wrapf(err, "slot %d: failed to seek to track %d", slot, track)
	}
	return nil
}

// Slots lists the occupied slots in ascending order.
func (r *Registry) Slots() []diskimg.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]diskimg.Slot, 0, len(r.handlers))
	for s := range r.handlers {
		ret = append(ret, s)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// Close detaches every slot and returns the first error met.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for s := range r.handlers {
		if err := r.detach(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
