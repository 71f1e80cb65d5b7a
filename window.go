package wltoy

import (
	"fmt"

	"github.com/bnema/wltoy/internal/config"
)

// WindowID identifies a window for as long as it lives. IDs are never reused.
type WindowID uint32

// WindowState is the redraw state of a window.
type WindowState int

const (
	// WindowIdle has nothing to draw.
	WindowIdle WindowState = iota
	// WindowRedrawScheduled has a redraw task queued.
	WindowRedrawScheduled
	// WindowRedrawInFlight is painting and committing right now.
	WindowRedrawInFlight
	// WindowAwaitingFrame committed and waits for the main surface frame callback.
	WindowAwaitingFrame
	// WindowResizePending has a resize blocked behind the frame callback.
	WindowResizePending
)

func (s WindowState) String() string {
	switch s {
	case WindowIdle:
		return "idle"
	case WindowRedrawScheduled:
		return "redraw-scheduled"
	case WindowRedrawInFlight:
		return "redraw-in-flight"
	case WindowAwaitingFrame:
		return "awaiting-frame"
	case WindowResizePending:
		return "resize-pending"
	}
	return fmt.Sprintf("WindowState(%d)", int(s))
}

// WindowHandlers are the window-level callbacks. Nil handlers are skipped.
type WindowHandlers struct {
	// Key receives key presses, releases and repeats. sym is NoSymbol for keys the
	// keymap does not know.
	Key func(w *Window, in *Input, time, key uint32, sym Keysym, state KeyState)
	// KeyboardFocus is called with the seat gaining focus, or nil on focus loss.
	KeyboardFocus func(w *Window, in *Input)
	// Data is called while a drag hovers the window. types is nil without an offer.
	Data func(w *Window, in *Input, x, y float64, types []string)
	Drop func(w *Window, in *Input, x, y float64)
	// Close replaces the default of stopping the display.
	Close func(w *Window)
	// Fullscreen is called for F11; without it F11 is an ordinary key.
	Fullscreen func(w *Window)
	// Output is called when the window enters or leaves an output.
	Output func(w *Window, o *Output, entered bool)
	// State is called after each configure changes maximized, fullscreen, resizing
	// or activation state.
	State func(w *Window)
}

// Window is a toplevel: a main surface with optional subsurfaces, a widget tree per
// surface, and the state that paces its redraws.
type Window struct {
	id         WindowID
	display    *Display
	bufferType BufferType

	title string
	appID string

	pendingAllocation Rectangle
	savedAllocation   Rectangle
	minAllocation     Rectangle
	lastGeometry      Rectangle

	redrawTask          *Task
	redrawTaskScheduled bool
	redrawNeeded        bool
	resizeNeeded        bool
	redrawInhibited     bool
	inRedraw            bool
	destroyed           bool

	resizing    bool
	fullscreen  bool
	maximized   bool
	focused     bool
	resizeEdges uint32

	mainSurface *Surface
	surfaces    []*Surface // main surface first, then subsurfaces in creation order
	outputs     []*Output

	xdgSurface   *xdgSurface
	toplevel     *xdgToplevel
	transientFor WindowID

	Handlers WindowHandlers
}

// CreateWindow creates a toplevel window. Nothing is drawn until the compositor
// sends the first configure and a size is known.
func (d *Display) CreateWindow(bufferType BufferType) (*Window, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if d.wmBase == nil {
		return nil, fmt.Errorf("%w: xdg_wm_base", ErrMissingGlobal)
	}

	d.nextWindowID++
	w := &Window{
		id:         d.nextWindowID,
		display:    d,
		bufferType: bufferType,
	}
	w.redrawTask = NewTask(w.idleRedraw)

	main, err := w.newSurface()
	if err != nil {
		return nil, err
	}
	w.mainSurface = main
	w.surfaces = []*Surface{main}

	xs, err := d.wmBase.getXdgSurface(main.wl)
	if err != nil {
		main.destroy()
		return nil, err
	}
	xs.configure = w.handleSurfaceConfigure
	tl, err := xs.getToplevel()
	if err != nil {
		xs.destroy()
		main.destroy()
		return nil, err
	}
	tl.configure = w.handleToplevelConfigure
	tl.close = w.Close
	w.xdgSurface = xs
	w.toplevel = tl

	// Drawing before the first configure is a protocol error
	w.redrawInhibited = true
	_ = main.wl.commit()

	d.windows = append(d.windows, w)
	d.windowIDs[w.id] = w
	d.logger.Debug("window created", "window", w.id, "surface", main.wl.ID())
	return w, nil
}

// window resolves a weak window reference.
func (d *Display) window(id WindowID) *Window {
	if id == 0 {
		return nil
	}
	return d.windowIDs[id]
}

// surfaceByProxyID finds the window surface behind a wl_surface id.
func (d *Display) surfaceByProxyID(id uint32) *Surface {
	for _, w := range d.windows {
		for _, s := range w.surfaces {
			if s.wl.ID() == id {
				return s
			}
		}
	}
	return nil
}

// ID returns the window's identifier.
func (w *Window) ID() WindowID { return w.id }

// Display returns the display owning the window.
func (w *Window) Display() *Display { return w.display }

// MainSurface returns the toplevel surface.
func (w *Window) MainSurface() *Surface { return w.mainSurface }

// State reports where the window is in its redraw cycle.
func (w *Window) State() WindowState {
	switch {
	case w.inRedraw:
		return WindowRedrawInFlight
	case w.resizeNeeded && w.mainSurface.frameCB != nil:
		return WindowResizePending
	case w.redrawTaskScheduled:
		return WindowRedrawScheduled
	case w.mainSurface.frameCB != nil:
		return WindowAwaitingFrame
	}
	return WindowIdle
}

// Allocation returns the size the main surface was last laid out for.
func (w *Window) Allocation() Rectangle {
	return w.mainSurface.allocation
}

// IsFullscreen reports the compositor's last fullscreen state.
func (w *Window) IsFullscreen() bool { return w.fullscreen }

// IsMaximized reports the compositor's last maximized state.
func (w *Window) IsMaximized() bool { return w.maximized }

// IsResizing reports whether an interactive resize is in progress.
func (w *Window) IsResizing() bool { return w.resizing }

// IsActivated reports whether the compositor shows the window as focused.
func (w *Window) IsActivated() bool { return w.focused }

// Title returns the window title.
func (w *Window) Title() string { return w.title }

// SetTitle sets the title shown by the compositor.
func (w *Window) SetTitle(title string) {
	w.title = title
	if w.toplevel != nil {
		_ = w.toplevel.setTitle(title)
	}
}

// SetAppID sets the application id used by the compositor to group windows.
func (w *Window) SetAppID(appID string) {
	w.appID = appID
	if w.toplevel != nil {
		_ = w.toplevel.setAppID(appID)
	}
}

// SetTransientFor makes the window a child of parent, or a plain toplevel for nil.
func (w *Window) SetTransientFor(parent *Window) {
	w.transientFor = 0
	var p *xdgToplevel
	if parent != nil && !parent.destroyed {
		w.transientFor = parent.id
		p = parent.toplevel
	}
	if w.toplevel != nil {
		_ = w.toplevel.setParent(p)
	}
}

// TransientFor returns the parent window, or nil if it was never set or is gone.
func (w *Window) TransientFor() *Window {
	return w.display.window(w.transientFor)
}

// SetMinimumSize stops the window from being resized below width x height.
func (w *Window) SetMinimumSize(width, height int32) {
	w.minAllocation = Rectangle{Width: width, Height: height}
	if w.toplevel != nil {
		_ = w.toplevel.setMinSize(width, height)
	}
}

// SetFullscreen asks the compositor to make the window fullscreen or restore it.
func (w *Window) SetFullscreen(on bool) {
	if w.toplevel == nil || w.fullscreen == on {
		return
	}
	_ = w.toplevel.setFullscreen(on, nil)
}

// SetMaximized asks the compositor to maximize or restore the window.
func (w *Window) SetMaximized(on bool) {
	if w.toplevel == nil || w.maximized == on {
		return
	}
	_ = w.toplevel.setMaximized(on)
}

// SetMinimized asks the compositor to minimize the window.
func (w *Window) SetMinimized() {
	if w.toplevel != nil {
		_ = w.toplevel.setMinimized()
	}
}

// Move starts an interactive move driven by the seat's pointer.
func (w *Window) Move(in *Input, serial uint32) {
	if w.toplevel == nil || in.seat == nil {
		return
	}
	_ = w.toplevel.move(in.seat, serial)
}

// Resize starts an interactive resize from the given Edge* edges.
func (w *Window) Resize(in *Input, serial, edges uint32) {
	if w.toplevel == nil || in.seat == nil {
		return
	}
	w.resizeEdges = edges
	_ = w.toplevel.resize(in.seat, serial, edges)
}

// Close runs the close handler, or stops the display without one.
func (w *Window) Close() {
	if w.Handlers.Close != nil {
		w.Handlers.Close(w)
		return
	}
	w.display.Exit()
}

// AcquireSurface makes the main surface current on ctx for direct rendering, see
// Surface.Acquire. On error the frame is drawn into the widget's canvas instead.
func (w *Window) AcquireSurface(ctx RenderContext) error {
	return w.mainSurface.Acquire(ctx)
}

// ReleaseSurface ends direct rendering started by AcquireSurface.
func (w *Window) ReleaseSurface() {
	w.mainSurface.Release()
}

// SetBufferScale sets the integer scale buffers are rendered at.
func (w *Window) SetBufferScale(scale int32) {
	if scale < 1 {
		scale = 1
	}
	for _, s := range w.surfaces {
		if s.bufferScale != scale {
			s.bufferScale = scale
			w.resizeNeeded = true
		}
	}
	if w.resizeNeeded {
		w.ScheduleRedraw()
	}
}

// SetBufferTransform sets the transform buffers are rendered with.
func (w *Window) SetBufferTransform(transform int32) {
	s := w.mainSurface
	if s.bufferTransform == transform {
		return
	}
	s.bufferTransform = transform
	w.resizeNeeded = true
	w.ScheduleRedraw()
}

// ScheduleResize requests a new size. It takes effect on the next redraw, which waits
// for the main surface's frame callback.
func (w *Window) ScheduleResize(width, height int32) {
	w.pendingAllocation.X = 0
	w.pendingAllocation.Y = 0
	w.pendingAllocation.Width = max(width, w.minAllocation.Width, 1)
	w.pendingAllocation.Height = max(height, w.minAllocation.Height, 1)
	w.resizeNeeded = true
	w.ScheduleRedraw()
}

// ScheduleRedraw marks every surface for repaint and queues the redraw task.
func (w *Window) ScheduleRedraw() {
	for _, s := range w.surfaces {
		s.redrawNeeded = true
	}
	w.scheduleRedrawTask()
}

func (w *Window) scheduleRedrawTask() {
	if w.redrawInhibited || w.destroyed {
		return
	}
	if !w.redrawTaskScheduled {
		w.redrawTaskScheduled = true
		w.display.loop.Defer(w.redrawTask)
	}
}

func (w *Window) uninhibitRedraw() {
	if !w.redrawInhibited {
		return
	}
	w.redrawInhibited = false
	pending := w.redrawNeeded || w.resizeNeeded
	for _, s := range w.surfaces {
		pending = pending || s.redrawNeeded
	}
	if pending {
		w.scheduleRedrawTask()
	}
}

// resizeMayOverrunFrame reports whether a resize can go ahead with the main frame
// callback outstanding.
func (w *Window) resizeMayOverrunFrame() bool {
	return w.resizing && w.display.cfg.Redraw.ResizeThrottle == config.ThrottleRelaxed
}

func (w *Window) idleRedraw(uint32) {
	w.redrawTaskScheduled = false

	resized := false
	if w.resizeNeeded {
		// Resizes are paced by the main surface; its frame callback reschedules us
		if w.mainSurface.frameCB != nil && !w.resizeMayOverrunFrame() {
			return
		}
		w.idleResize()
		resized = true
	}

	w.inRedraw = true
	failed := false
	if err := w.mainSurface.redraw(); err != nil {
		// Subsurface failures just leave old content, only the main surface undoes a resize
		w.display.logger.Warn("redraw failed", "window", w.id, "error", err)
		failed = true
	} else {
		for _, s := range w.surfaces[1:] {
			if err := s.redraw(); err != nil {
				w.display.logger.Debug("subsurface redraw failed", "window", w.id, "error", err)
			}
		}
	}

	w.redrawNeeded = false
	w.flush()
	w.inRedraw = false

	for _, s := range w.surfaces {
		s.setSynchronizedDefault()
	}

	if resized && failed {
		w.undoResize()
	}
}

func (w *Window) idleResize() {
	w.resizeNeeded = false
	w.redrawNeeded = true

	w.mainSurface.resize()
	for _, s := range w.surfaces[1:] {
		// Subsurfaces commit atomically with the resized parent
		s.setSynchronized()
		s.resize()
	}

	if !w.fullscreen && !w.maximized {
		w.savedAllocation = w.pendingAllocation
	}
}

// undoResize puts the widget tree back to what is on screen after the main surface
// failed to get a buffer for the new size. The surface reschedules the redraw when
// the compositor releases a buffer.
func (w *Window) undoResize() {
	server := w.mainSurface.serverAllocation
	if server.Empty() {
		w.display.logger.Error("no buffer for window, skipping frame", "window", w.id)
		return
	}
	w.pendingAllocation.Width = server.Width
	w.pendingAllocation.Height = server.Height
	w.resizeNeeded = true
	for _, s := range w.surfaces {
		s.redrawNeeded = true
	}
}

func (w *Window) flush() {
	if w.xdgSurface != nil && w.mainSurface.framePending() {
		geometry := Rectangle{Width: w.mainSurface.allocation.Width, Height: w.mainSurface.allocation.Height}
		if geometry != w.lastGeometry {
			_ = w.xdgSurface.setWindowGeometry(geometry.X, geometry.Y, geometry.Width, geometry.Height)
			w.lastGeometry = geometry
		}
	}
	for _, s := range w.surfaces[1:] {
		s.flush()
	}
	w.mainSurface.flush()
}

// attachOffset moves the buffer origin when resizing from the left or top edge so the
// opposite edge stays put.
func (w *Window) attachOffset(s *Surface) (int32, int32) {
	if s != w.mainSurface || !w.resizing || s.serverAllocation.Empty() {
		return 0, 0
	}
	var dx, dy int32
	if w.resizeEdges&EdgeLeft != 0 {
		dx = s.serverAllocation.Width - s.allocation.Width
	}
	if w.resizeEdges&EdgeTop != 0 {
		dy = s.serverAllocation.Height - s.allocation.Height
	}
	return dx, dy
}

func (w *Window) handleSurfaceConfigure(serial uint32) {
	_ = w.xdgSurface.ackConfigure(serial)
	w.uninhibitRedraw()
}

func (w *Window) handleToplevelConfigure(width, height int32, states []uint32) {
	var maximized, fullscreen, resizing, focused bool
	for _, st := range states {
		switch st {
		case toplevelStateMaximized:
			maximized = true
		case toplevelStateFullscreen:
			fullscreen = true
		case toplevelStateResizing:
			resizing = true
		case toplevelStateActivated:
			focused = true
		}
	}
	changed := maximized != w.maximized || fullscreen != w.fullscreen ||
		resizing != w.resizing || focused != w.focused
	w.maximized, w.fullscreen, w.resizing, w.focused = maximized, fullscreen, resizing, focused
	if !resizing {
		w.resizeEdges = EdgeNone
	}

	switch {
	case width > 0 && height > 0:
		w.ScheduleResize(width, height)
	case !w.savedAllocation.Empty():
		// Compositor leaves the size to us, e.g. when leaving fullscreen
		w.ScheduleResize(w.savedAllocation.Width, w.savedAllocation.Height)
	case !w.pendingAllocation.Empty():
		w.ScheduleResize(w.pendingAllocation.Width, w.pendingAllocation.Height)
	}

	if changed {
		if w.Handlers.State != nil {
			w.Handlers.State(w)
		}
		// Activation changes decoration state
		w.ScheduleRedraw()
	}
}

// AddWidget creates the root widget of the main surface. A window has one root;
// further widgets hang below it.
func (w *Window) AddWidget() *Widget {
	s := w.mainSurface
	if s.widget != nil {
		return s.widget.AddWidget()
	}
	widget := w.display.newWidget(w, s)
	s.widget = widget
	return widget
}

// AddSubsurface creates a subsurface above the main surface and returns its root widget.
// The widget's allocation positions the subsurface in window coordinates.
func (w *Window) AddSubsurface(mode SubsurfaceMode) (*Widget, error) {
	d := w.display
	if d.subcompositor == nil {
		return nil, fmt.Errorf("%w: wl_subcompositor", ErrMissingGlobal)
	}
	s, err := w.newSurface()
	if err != nil {
		return nil, err
	}
	sub, err := d.subcompositor.getSubsurface(s.wl, w.mainSurface.wl)
	if err != nil {
		s.wl.destroy()
		return nil, err
	}
	s.sub = sub
	s.synchronizedDefault = mode == SubsurfaceSynchronized
	s.bufferScale = w.mainSurface.bufferScale

	widget := d.newWidget(w, s)
	s.widget = widget
	w.surfaces = append(w.surfaces, s)
	return widget, nil
}

func (w *Window) removeSurface(s *Surface) {
	for i, x := range w.surfaces {
		if x == s {
			w.surfaces = append(w.surfaces[:i], w.surfaces[i+1:]...)
			break
		}
	}
	s.destroy()
}

// findWidget hit-tests every surface, newest subsurface first.
func (w *Window) findWidget(x, y float64) *Widget {
	for i := len(w.surfaces) - 1; i >= 0; i-- {
		s := w.surfaces[i]
		if s.widget == nil {
			continue
		}
		if target := s.widget.find(x, y); target != nil {
			return target
		}
	}
	return nil
}

// Outputs returns the outputs the window is currently shown on.
func (w *Window) Outputs() []*Output {
	return append([]*Output(nil), w.outputs...)
}

func (w *Window) hasOutput(o *Output) bool {
	for _, x := range w.outputs {
		if x == o {
			return true
		}
	}
	return false
}

func (w *Window) addOutput(o *Output) {
	if w.hasOutput(o) {
		return
	}
	w.outputs = append(w.outputs, o)
	w.updateScale()
	if w.Handlers.Output != nil {
		w.Handlers.Output(w, o, true)
	}
}

func (w *Window) removeOutput(o *Output) {
	for i, x := range w.outputs {
		if x == o {
			w.outputs = append(w.outputs[:i], w.outputs[i+1:]...)
			w.updateScale()
			if w.Handlers.Output != nil {
				w.Handlers.Output(w, o, false)
			}
			return
		}
	}
}

// updateScale follows the largest scale among the window's outputs when auto
// scaling is on.
func (w *Window) updateScale() {
	if !w.display.cfg.Render.AutoScale || len(w.outputs) == 0 {
		return
	}
	var scale int32 = 1
	for _, o := range w.outputs {
		scale = max(scale, o.scale)
	}
	w.SetBufferScale(scale)
}

// Destroy tears the window down and clears every seat reference to it.
func (w *Window) Destroy() {
	if w.destroyed {
		return
	}
	d := w.display
	d.loop.Cancel(w.redrawTask)
	w.redrawTaskScheduled = false

	for _, in := range d.inputs {
		in.forgetWindow(w)
	}

	// Subsurfaces before the main surface they are stacked on
	for len(w.surfaces) > 1 {
		s := w.surfaces[len(w.surfaces)-1]
		if s.widget != nil {
			s.widget.Destroy()
		} else {
			w.removeSurface(s)
		}
	}
	if w.mainSurface.widget != nil {
		w.mainSurface.widget.Destroy()
	}
	w.destroyed = true

	if w.toplevel != nil {
		w.toplevel.destroy()
		w.toplevel = nil
	}
	if w.xdgSurface != nil {
		w.xdgSurface.destroy()
		w.xdgSurface = nil
	}
	w.mainSurface.destroy()
	w.surfaces = nil
	w.outputs = nil

	for i, x := range d.windows {
		if x == w {
			d.windows = append(d.windows[:i], d.windows[i+1:]...)
			break
		}
	}
	delete(d.windowIDs, w.id)
	d.logger.Debug("window destroyed", "window", w.id)
}
