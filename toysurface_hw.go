package wltoy

import (
	"errors"
	"fmt"

	"github.com/bnema/wltoy/internal/config"
)

// RenderContext is a hardware rendering context, typically an EGL display and
// context pair living outside this package.
type RenderContext interface {
	// CreateWindow binds a swap chain to the wl_surface with the given object id.
	CreateWindow(surfaceID uint32, width, height int32) (RenderWindow, error)
}

// RenderWindow is a swap chain for one surface.
type RenderWindow interface {
	// Resize sets the size of the next buffer; dx and dy move the surface origin.
	Resize(width, height, dx, dy int32) error
	Canvas() Canvas
	// SwapBuffers presents the frame. It attaches and commits the surface.
	SwapBuffers() error
	AttachedSize() (width, height int32)
	MakeCurrent(ctx RenderContext) error
	ReleaseCurrent() error
	Destroy()
}

// hwSurface is the hardware ToySurface, a thin adapter over a RenderWindow.
type hwSurface struct {
	ctx RenderContext
	win RenderWindow
}

func newHardwareSurface(ctx RenderContext, s *wlSurface, width, height int32) (*hwSurface, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: no render context", ErrHardwareUnavailable)
	}
	win, err := ctx.CreateWindow(s.ID(), max(width, 1), max(height, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHardwareUnavailable, err)
	}
	return &hwSurface{ctx: ctx, win: win}, nil
}

func (h *hwSurface) Kind() BackendKind {
	return BackendHardware
}

func (h *hwSurface) Prepare(dx, dy, width, height int32, _ uint32, transform, scale int32) (Canvas, error) {
	bw, bh := surfaceToBufferSize(transform, scale, width, height)
	if err := h.win.Resize(bw, bh, dx, dy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBuffer, err)
	}
	c := h.win.Canvas()
	if c == nil {
		return nil, ErrNoBuffer
	}
	return c, nil
}

func (h *hwSurface) Swap(transform, scale int32) (Rectangle, error) {
	if err := h.win.SwapBuffers(); err != nil {
		return Rectangle{}, err
	}
	w, ht := h.win.AttachedSize()
	w, ht = bufferToSurfaceSize(transform, scale, w, ht)
	return Rectangle{Width: w, Height: ht}, nil
}

func (h *hwSurface) Acquire(ctx RenderContext) error {
	if ctx == nil {
		ctx = h.ctx
	}
	if ctx != h.ctx {
		return errors.New("surface belongs to a different render context")
	}
	return h.win.MakeCurrent(ctx)
}

func (h *hwSurface) Release() {
	_ = h.win.ReleaseCurrent()
}

func (h *hwSurface) Destroy() {
	h.win.Destroy()
}

// newToySurface picks the backend for s once. A hardware request that cannot be met
// falls back to shm; the first such fallback is logged.
func (d *Display) newToySurface(s *Surface) ToySurface {
	wantHW := s.bufferType == BufferTypeHardware
	switch d.cfg.Render.Backend {
	case config.BackendShm:
		wantHW = false
	case config.BackendHardware:
		wantHW = true
	}

	if wantHW {
		hw, err := newHardwareSurface(d.renderer, s.wl, s.allocation.Width, s.allocation.Height)
		if err == nil {
			return hw
		}
		if !d.warnedNoHW {
			d.warnedNoHW = true
			d.logger.Warn("hardware rendering unavailable, using shm buffers", "error", err)
		}
	}

	var flags uint32
	if s.widget != nil && s.widget.opaque {
		flags |= SurfaceOpaque
	}
	shm := newShmSurface(d, s.wl, flags)
	shm.released = s.bufferReleased
	return shm
}
