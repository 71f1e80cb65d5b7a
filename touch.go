package wltoy

import (
	"slices"

	"github.com/bnema/wltoy/wire"
)

// TouchPoint is one contact. It stays bound to the widget it went down on until it
// is lifted or cancelled.
type TouchPoint struct {
	ID     int32
	widget WidgetID
	x, y   float64
	// ox, oy move surface-local coordinates of the contact into window coordinates
	ox, oy float64
	dirty  bool
	time   uint32
}

// Position returns the last reported position in window coordinates.
func (tp *TouchPoint) Position() (x, y float64) { return tp.x, tp.y }

// TouchPoints returns the active contacts, oldest first.
func (in *Input) TouchPoints() []*TouchPoint {
	return slices.Clone(in.touchPoints)
}

// GrabTouch routes new contacts to w instead of hit-testing them, until contact id
// is lifted.
func (in *Input) GrabTouch(w *Widget, id int32) {
	if w == nil || w.destroyed {
		return
	}
	in.touchGrab = w.id
	in.touchGrabID = id
}

func (in *Input) touchPoint(id int32) (int, *TouchPoint) {
	for i, tp := range in.touchPoints {
		if tp.ID == id {
			return i, tp
		}
	}
	return -1, nil
}

func (in *Input) markTouchUpdated(w WidgetID) {
	if !slices.Contains(in.touchUpdated, w) {
		in.touchUpdated = append(in.touchUpdated, w)
	}
}

func (in *Input) touchDown(serial, time, surfaceID uint32, id int32, fx, fy wire.Fixed) {
	d := in.display
	d.serial = serial
	s := d.surfaceByProxyID(surfaceID)
	if s == nil {
		return
	}
	in.touchFocus = s.window.id

	x, y := in.toWindow(surfaceID, fx, fy)
	target := d.widget(in.touchGrab)
	if target == nil {
		target = in.GrabWidget()
	}
	if target == nil {
		target = s.window.findWidget(x, y)
	}
	if target == nil {
		return
	}

	tp := &TouchPoint{
		ID:     id,
		widget: target.id,
		x:      x,
		y:      y,
		ox:     x - fx.Float64(),
		oy:     y - fy.Float64(),
		time:   time,
	}
	// A reused id replaces a contact the compositor never lifted
	if i, _ := in.touchPoint(id); i >= 0 {
		in.touchPoints = slices.Delete(in.touchPoints, i, i+1)
	}
	in.touchPoints = append(in.touchPoints, tp)
	in.markTouchUpdated(target.id)
	if target.Handlers.TouchDown != nil {
		target.Handlers.TouchDown(target, in, serial, time, id, x, y)
	}
}

func (in *Input) touchUp(serial, time uint32, id int32) {
	d := in.display
	d.serial = serial
	i, tp := in.touchPoint(id)
	if tp == nil {
		return
	}
	in.touchPoints = slices.Delete(in.touchPoints, i, i+1)
	if in.touchGrab != 0 && in.touchGrabID == id {
		in.touchGrab = 0
	}
	if len(in.touchPoints) == 0 {
		in.touchFocus = 0
	}
	w := d.widget(tp.widget)
	if w == nil {
		return
	}
	in.markTouchUpdated(w.id)
	if w.Handlers.TouchUp != nil {
		w.Handlers.TouchUp(w, in, serial, time, id)
	}
}

// touchMotion only records the position; handlers see it at the frame.
func (in *Input) touchMotion(time uint32, id int32, fx, fy wire.Fixed) {
	_, tp := in.touchPoint(id)
	if tp == nil {
		return
	}
	tp.x = fx.Float64() + tp.ox
	tp.y = fy.Float64() + tp.oy
	tp.time = time
	tp.dirty = true
}

func (in *Input) touchFrame() {
	d := in.display
	for _, tp := range slices.Clone(in.touchPoints) {
		if !tp.dirty {
			continue
		}
		tp.dirty = false
		w := d.widget(tp.widget)
		if w == nil {
			continue
		}
		in.markTouchUpdated(w.id)
		if w.Handlers.TouchMotion != nil {
			w.Handlers.TouchMotion(w, in, tp.time, tp.ID, tp.x, tp.y)
		}
	}

	updated := in.touchUpdated
	in.touchUpdated = nil
	for _, id := range updated {
		if w := d.widget(id); w != nil && w.Handlers.TouchFrame != nil {
			w.Handlers.TouchFrame(w, in)
		}
	}
}

// cancelTouch ends every contact. Each widget hears about it once.
func (in *Input) cancelTouch() {
	d := in.display
	points := in.touchPoints
	in.touchPoints = nil
	in.touchUpdated = nil
	in.touchGrab = 0
	in.touchFocus = 0

	var notified []WidgetID
	for _, tp := range points {
		if slices.Contains(notified, tp.widget) {
			continue
		}
		notified = append(notified, tp.widget)
		if w := d.widget(tp.widget); w != nil && w.Handlers.TouchCancel != nil {
			w.Handlers.TouchCancel(w, in)
		}
	}
}
