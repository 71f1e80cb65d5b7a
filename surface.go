package wltoy

import (
	"errors"
	"fmt"
	"time"
)

// SubsurfaceMode is the commit mode a subsurface returns to between resizes.
type SubsurfaceMode int

const (
	// SubsurfaceSynchronized commits together with the parent.
	SubsurfaceSynchronized SubsurfaceMode = iota
	// SubsurfaceDesynchronized commits on its own, for content updating faster than
	// the main surface.
	SubsurfaceDesynchronized
)

// Surface is one wl_surface of a window: the main surface or a subsurface. It owns
// the ToySurface and tracks the frame callback that gates its redraws.
type Surface struct {
	window *Window
	wl     *wlSurface
	sub    *subsurface
	widget *Widget
	toy    ToySurface
	canvas Canvas

	// direct marks a frame drawn without a canvas; acquired is set between a
	// successful Acquire and Release.
	direct   bool
	acquired bool
	// starved is set when Prepare found every buffer held by the compositor.
	starved bool

	bufferType BufferType

	synchronized        bool
	synchronizedDefault bool

	redrawNeeded   bool
	frameCB        *callback
	frameRequested time.Time
	lastTime       uint32

	allocation       Rectangle
	serverAllocation Rectangle
	position         struct{ x, y int32 }

	bufferTransform int32
	bufferScale     int32
	sentTransform   int32
	sentScale       int32

	opaqueRegion *region
	inputRegion  *region
}

func (w *Window) newSurface() (*Surface, error) {
	d := w.display
	if d.compositor == nil {
		return nil, fmt.Errorf("%w: wl_compositor", ErrMissingGlobal)
	}
	wl, err := d.compositor.createSurface()
	if err != nil {
		return nil, err
	}
	s := &Surface{
		window:          w,
		wl:              wl,
		bufferType:      w.bufferType,
		synchronized:    true,
		bufferTransform: TransformNormal,
		bufferScale:     1,
		sentScale:       1,
	}
	wl.enter = s.handleEnter
	wl.leave = s.handleLeave
	return s, nil
}

func (s *Surface) handleEnter(outputID uint32) {
	o := s.window.display.outputByProxyID(outputID)
	if o == nil || s != s.window.mainSurface {
		return
	}
	s.window.addOutput(o)
}

func (s *Surface) handleLeave(outputID uint32) {
	o := s.window.display.outputByProxyID(outputID)
	if o == nil || s != s.window.mainSurface {
		return
	}
	s.window.removeOutput(o)
}

// Window returns the window the surface belongs to.
func (s *Surface) Window() *Window {
	return s.window
}

// Allocation returns the size the widget tree was last laid out for.
func (s *Surface) Allocation() Rectangle {
	return s.allocation
}

// ServerAllocation returns the size of the last buffer committed to the compositor.
func (s *Surface) ServerAllocation() Rectangle {
	return s.serverAllocation
}

// Backend returns which ToySurface variant serves the surface, once one exists.
func (s *Surface) Backend() (BackendKind, bool) {
	if s.toy == nil {
		return BackendSoftware, false
	}
	return s.toy.Kind(), true
}

// LastFrameTime returns the timestamp of the last frame callback, in milliseconds.
func (s *Surface) LastFrameTime() uint32 {
	return s.lastTime
}

func (s *Surface) useCanvas() bool {
	return s.widget == nil || s.widget.useCanvas
}

// prepareCanvas gets a buffer for this frame. At most one is outstanding.
func (s *Surface) prepareCanvas() error {
	if s.canvas != nil {
		return nil
	}
	w := s.window
	s.ensureToy()

	var flags uint32
	if w.resizing {
		flags |= SurfaceHintResize
	}
	if s.widget != nil && s.widget.opaque {
		flags |= SurfaceOpaque
	}
	dx, dy := w.attachOffset(s)
	c, err := s.toy.Prepare(dx, dy, s.allocation.Width, s.allocation.Height, flags, s.bufferTransform, s.bufferScale)
	if err != nil {
		s.starved = errors.Is(err, ErrNoBuffer)
		return err
	}
	s.canvas = c
	s.starved = false
	return nil
}

func (s *Surface) ensureToy() {
	if s.toy == nil {
		s.toy = s.window.display.newToySurface(s)
	}
}

// prepareDirect starts a frame the widgets draw through the render context. A
// hardware swap chain is sized for it; a software surface has nothing to prepare.
func (s *Surface) prepareDirect() error {
	s.ensureToy()
	if s.toy.Kind() == BackendHardware {
		dx, dy := s.window.attachOffset(s)
		if _, err := s.toy.Prepare(dx, dy, s.allocation.Width, s.allocation.Height, 0, s.bufferTransform, s.bufferScale); err != nil {
			return err
		}
	}
	s.direct = true
	return nil
}

// bufferReleased retries a redraw that failed for lack of a free buffer.
func (s *Surface) bufferReleased() {
	if !s.starved {
		return
	}
	s.starved = false
	s.redrawNeeded = true
	s.window.scheduleRedrawTask()
}

// Acquire makes the surface current on ctx, or on the display's context when ctx is
// nil, so widgets can render into it directly. If that fails the frame falls back to
// a software canvas, reachable through Canvas, and the error says why.
func (s *Surface) Acquire(ctx RenderContext) error {
	s.ensureToy()
	err := s.toy.Acquire(ctx)
	if err == nil {
		s.acquired = true
		return nil
	}
	if perr := s.prepareCanvas(); perr != nil {
		return fmt.Errorf("%w (no canvas either: %v)", err, perr)
	}
	return err
}

// Release hands the surface back after Acquire.
func (s *Surface) Release() {
	if !s.acquired {
		return
	}
	s.acquired = false
	s.toy.Release()
}

// Canvas returns the canvas of the frame being drawn, nil if there is none.
func (s *Surface) Canvas() Canvas { return s.canvas }

func (s *Surface) framePending() bool {
	return s.canvas != nil || s.direct
}

func (s *Surface) dropFrameCallback() {
	if s.frameCB == nil {
		return
	}
	// wl_callback has no destructor; late events for it are dropped
	s.window.display.forget(s.frameCB, nil)
	s.frameCB = nil
}

// frameStalled reports whether the pending frame callback is older than the
// configured timeout.
func (s *Surface) frameStalled() bool {
	d := s.window.display
	timeout := d.cfg.Redraw.FrameTimeout.D()
	return timeout > 0 && d.now().Sub(s.frameRequested) > timeout
}

// redraw repaints the surface's widgets if it needs it and the compositor is ready.
func (s *Surface) redraw() error {
	w := s.window
	if !w.redrawNeeded && !s.redrawNeeded {
		return nil
	}

	// A whole-window redraw goes ahead even if the last frame is not on screen yet
	if s.frameCB != nil {
		if !w.redrawNeeded && !s.frameStalled() {
			return nil
		}
		s.dropFrameCallback()
	}

	if s.sub != nil {
		s.syncAllocation()
	}
	if s.useCanvas() {
		if err := s.prepareCanvas(); err != nil {
			return err
		}
	} else if err := s.prepareDirect(); err != nil {
		return err
	}

	var cb *callback
	cb, err := s.wl.frame(func(time uint32) { s.frameDone(cb, time) })
	if err != nil {
		return err
	}
	s.frameCB = cb
	s.frameRequested = w.display.now()
	s.redrawNeeded = false

	if s.widget != nil {
		s.widget.redraw(s.canvas)
	}
	return nil
}

func (s *Surface) frameDone(cb *callback, time uint32) {
	if s.frameCB != cb {
		return
	}
	s.frameCB = nil
	s.lastTime = time
	if s.redrawNeeded || s.window.redrawNeeded {
		s.window.scheduleRedrawTask()
	}
}

// flush commits the prepared canvas, if any, and records what the compositor will show.
func (s *Surface) flush() {
	if !s.framePending() {
		return
	}
	if s.bufferTransform != s.sentTransform {
		_ = s.wl.setBufferTransform(s.bufferTransform)
		s.sentTransform = s.bufferTransform
	}
	if s.bufferScale != s.sentScale {
		_ = s.wl.setBufferScale(s.bufferScale)
		s.sentScale = s.bufferScale
	}
	if s.opaqueRegion != nil {
		_ = s.wl.setOpaqueRegion(s.opaqueRegion)
		s.opaqueRegion.destroy()
		s.opaqueRegion = nil
	}
	if s.inputRegion != nil {
		_ = s.wl.setInputRegion(s.inputRegion)
		s.inputRegion.destroy()
		s.inputRegion = nil
	}

	if s.canvas == nil && s.toy.Kind() != BackendHardware {
		// Nothing was drawn into a buffer; commit so the frame callback still fires
		s.direct = false
		if err := s.wl.commit(); err != nil {
			s.window.display.logger.Warn("commit failed", "surface", s.wl.ID(), "error", err)
		}
		return
	}

	alloc, err := s.toy.Swap(s.bufferTransform, s.bufferScale)
	s.canvas = nil
	s.direct = false
	if err != nil {
		s.window.display.logger.Warn("buffer swap failed", "surface", s.wl.ID(), "error", err)
		return
	}
	s.serverAllocation.Width = alloc.Width
	s.serverAllocation.Height = alloc.Height
}

// resize lays out the surface's widget tree for the window's pending allocation.
func (s *Surface) resize() {
	w := s.window
	if s.widget == nil {
		s.allocation = w.pendingAllocation
		return
	}
	if s == w.mainSurface {
		s.widget.allocation = w.pendingAllocation
	}
	s.widget.resize()
	s.syncAllocation()
}

// syncAllocation takes the root widget's rectangle as the surface size and, for a
// subsurface, its position relative to the main surface.
func (s *Surface) syncAllocation() {
	if s.widget == nil {
		return
	}
	a := s.widget.allocation
	if s.sub != nil && (a.X != s.position.x || a.Y != s.position.y) {
		s.position.x, s.position.y = a.X, a.Y
		_ = s.sub.setPosition(a.X, a.Y)
	}
	s.allocation = a
}

func (s *Surface) setSynchronized() {
	if s.sub == nil || s.synchronized {
		return
	}
	_ = s.sub.setSync()
	s.synchronized = true
}

func (s *Surface) setSynchronizedDefault() {
	if s.sub == nil || s.synchronized == s.synchronizedDefault {
		return
	}
	if s.synchronizedDefault {
		_ = s.sub.setSync()
	} else {
		_ = s.sub.setDesync()
	}
	s.synchronized = s.synchronizedDefault
}

// SetOpaqueRegion marks a rectangle as opaque starting with the next commit.
func (s *Surface) SetOpaqueRegion(r Rectangle) error {
	reg, err := s.newRegion(r)
	if err != nil {
		return err
	}
	if s.opaqueRegion != nil {
		s.opaqueRegion.destroy()
	}
	s.opaqueRegion = reg
	return nil
}

// SetInputRegion limits input to a rectangle starting with the next commit.
func (s *Surface) SetInputRegion(r Rectangle) error {
	reg, err := s.newRegion(r)
	if err != nil {
		return err
	}
	if s.inputRegion != nil {
		s.inputRegion.destroy()
	}
	s.inputRegion = reg
	return nil
}

func (s *Surface) newRegion(r Rectangle) (*region, error) {
	d := s.window.display
	if d.compositor == nil {
		return nil, fmt.Errorf("%w: wl_compositor", ErrMissingGlobal)
	}
	reg, err := d.compositor.createRegion()
	if err != nil {
		return nil, err
	}
	if err := reg.add(r.X, r.Y, r.Width, r.Height); err != nil {
		reg.destroy()
		return nil, err
	}
	return reg, nil
}

// destroy releases everything the surface owns. The widget tree is destroyed by the caller.
func (s *Surface) destroy() {
	s.dropFrameCallback()
	if s.opaqueRegion != nil {
		s.opaqueRegion.destroy()
		s.opaqueRegion = nil
	}
	if s.inputRegion != nil {
		s.inputRegion.destroy()
		s.inputRegion = nil
	}
	s.Release()
	if s.toy != nil {
		s.toy.Destroy()
		s.toy = nil
	}
	s.canvas = nil
	s.direct = false
	if s.sub != nil {
		s.sub.destroy()
		s.sub = nil
	}
	s.wl.destroy()
}
