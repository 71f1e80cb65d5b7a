package wltoy

// WidgetID identifies a widget for as long as it lives. IDs are never reused.
type WidgetID uint32

// Cursor names a pointer image. Loading the images is left to the cursor handler.
type Cursor int

const (
	CursorUnset Cursor = iota - 1
	CursorLeftPtr
	CursorBlank
	CursorText
	CursorHand
	CursorWatch
	CursorDragging
	CursorTop
	CursorBottom
	CursorLeft
	CursorRight
	CursorTopLeft
	CursorTopRight
	CursorBottomLeft
	CursorBottomRight
)

// ButtonState is the state of a pointer button.
type ButtonState uint32

const (
	ButtonReleased ButtonState = 0
	ButtonPressed  ButtonState = 1
)

// WidgetHandlers are a widget's callbacks. Nil handlers are skipped; enter and
// motion without a handler show the widget's default cursor.
type WidgetHandlers struct {
	// Resize lays out the widget and its children for a new allocation.
	Resize func(w *Widget, width, height int32)
	// Redraw paints the widget. c is nil for widgets that draw without a canvas.
	Redraw func(w *Widget, c Canvas)

	Enter  func(w *Widget, in *Input, x, y float64) Cursor
	Leave  func(w *Widget, in *Input)
	Motion func(w *Widget, in *Input, time uint32, x, y float64) Cursor
	Button func(w *Widget, in *Input, time, button uint32, state ButtonState)
	Axis   func(w *Widget, in *Input, time, axis uint32, value float64)

	TouchDown   func(w *Widget, in *Input, serial, time uint32, id int32, x, y float64)
	TouchUp     func(w *Widget, in *Input, serial, time uint32, id int32)
	TouchMotion func(w *Widget, in *Input, time uint32, id int32, x, y float64)
	TouchFrame  func(w *Widget, in *Input)
	TouchCancel func(w *Widget, in *Input)
}

// Widget is a node of a surface's widget tree.
type Widget struct {
	id       WidgetID
	window   *Window
	surface  *Surface
	parent   *Widget
	children []*Widget

	allocation    Rectangle
	opaque        bool
	interactive   bool
	useCanvas     bool
	defaultCursor Cursor
	destroyed     bool

	tooltip      *Tooltip
	tooltipCount int

	Handlers WidgetHandlers
}

func (d *Display) newWidget(w *Window, s *Surface) *Widget {
	d.nextWidgetID++
	widget := &Widget{
		id:            d.nextWidgetID,
		window:        w,
		surface:       s,
		interactive:   true,
		useCanvas:     true,
		defaultCursor: CursorLeftPtr,
	}
	d.widgets[widget.id] = widget
	return widget
}

// widget resolves a weak widget reference.
func (d *Display) widget(id WidgetID) *Widget {
	if id == 0 {
		return nil
	}
	return d.widgets[id]
}

// AddWidget appends a child. Later children are stacked above earlier ones.
func (w *Widget) AddWidget() *Widget {
	child := w.window.display.newWidget(w.window, w.surface)
	child.parent = w
	w.children = append(w.children, child)
	return child
}

// ID returns the widget's identifier.
func (w *Widget) ID() WidgetID { return w.id }

// Window returns the window the widget belongs to.
func (w *Widget) Window() *Window { return w.window }

// Parent returns the parent widget, nil for a surface root.
func (w *Widget) Parent() *Widget { return w.parent }

// Children returns the children in stacking order, bottom first.
func (w *Widget) Children() []*Widget {
	return append([]*Widget(nil), w.children...)
}

// Allocation returns the widget's rectangle in window coordinates.
func (w *Widget) Allocation() Rectangle { return w.allocation }

// SetAllocation places the widget. For a subsurface root this also moves and sizes
// the subsurface on its next redraw.
func (w *Widget) SetAllocation(x, y, width, height int32) {
	w.allocation = Rectangle{X: x, Y: y, Width: width, Height: height}
}

// SetTransparent controls whether the buffer keeps an alpha channel.
func (w *Widget) SetTransparent(transparent bool) {
	w.opaque = !transparent
}

// SetInteractive controls whether hit-testing may stop at this widget. A
// non-interactive widget passes events to whatever lies below, its children still
// take part.
func (w *Widget) SetInteractive(interactive bool) {
	w.interactive = interactive
}

// SetUseCanvas turns off canvas preparation for widgets that render directly
// through the hardware context. Their redraw handler gets a nil canvas and draws
// between Window.AcquireSurface and Window.ReleaseSurface.
func (w *Widget) SetUseCanvas(use bool) {
	w.useCanvas = use
}

// SetDefaultCursor sets the cursor shown when no enter or motion handler picks one.
func (w *Widget) SetDefaultCursor(c Cursor) {
	w.defaultCursor = c
}

// Canvas returns the canvas being drawn for the current frame, nil outside redraw.
func (w *Widget) Canvas() Canvas {
	return w.surface.canvas
}

// Surface returns the surface the widget draws on.
func (w *Widget) Surface() *Surface { return w.surface }

// ScheduleRedraw repaints the widget's surface on the next redraw.
func (w *Widget) ScheduleRedraw() {
	w.surface.redrawNeeded = true
	w.window.scheduleRedrawTask()
}

// ScheduleResize resizes the window the widget lives in.
func (w *Widget) ScheduleResize(width, height int32) {
	w.window.ScheduleResize(width, height)
}

func (w *Widget) isSurfaceRoot() bool {
	return w.surface != nil && w.surface.widget == w
}

// find returns the innermost interactive widget containing the point, preferring
// later siblings.
func (w *Widget) find(x, y float64) *Widget {
	for i := len(w.children) - 1; i >= 0; i-- {
		if target := w.children[i].find(x, y); target != nil {
			return target
		}
	}
	if w.interactive && w.allocation.Contains(x, y) {
		return w
	}
	return nil
}

// resize runs the resize handlers top-down so parents place children before the
// children lay themselves out.
func (w *Widget) resize() {
	if w.Handlers.Resize != nil {
		w.Handlers.Resize(w, w.allocation.Width, w.allocation.Height)
	}
	for _, c := range w.children {
		c.resize()
	}
}

func (w *Widget) redraw(c Canvas) {
	if w.Handlers.Redraw != nil {
		if !w.useCanvas {
			w.Handlers.Redraw(w, nil)
		} else {
			w.Handlers.Redraw(w, c)
		}
	}
	for _, child := range w.children {
		child.redraw(c)
	}
}

// Destroy removes the widget and its children. Seats stop referencing them and a
// subsurface root takes its subsurface along.
func (w *Widget) Destroy() {
	if w.destroyed {
		return
	}
	for len(w.children) > 0 {
		w.children[len(w.children)-1].Destroy()
	}
	w.destroyed = true

	d := w.window.display
	if w.tooltip != nil {
		w.DestroyTooltip()
	}
	for _, in := range d.inputs {
		in.forgetWidget(w)
	}
	delete(d.widgets, w.id)

	if w.parent != nil {
		p := w.parent
		for i, c := range p.children {
			if c == w {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		w.parent = nil
		return
	}
	if w.isSurfaceRoot() {
		w.surface.widget = nil
		if w.surface != w.window.mainSurface {
			w.window.removeSurface(w.surface)
		}
	}
}
