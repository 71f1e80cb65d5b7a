package wltoy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type touchLog struct {
	events []string
}

func (l *touchLog) watch(name string, w *Widget) {
	w.Handlers.TouchDown = func(_ *Widget, _ *Input, _, _ uint32, id int32, _, _ float64) {
		l.events = append(l.events, name+":down")
	}
	w.Handlers.TouchUp = func(*Widget, *Input, uint32, uint32, int32) {
		l.events = append(l.events, name+":up")
	}
	w.Handlers.TouchMotion = func(*Widget, *Input, uint32, int32, float64, float64) {
		l.events = append(l.events, name+":motion")
	}
	w.Handlers.TouchFrame = func(*Widget, *Input) {
		l.events = append(l.events, name+":frame")
	}
	w.Handlers.TouchCancel = func(*Widget, *Input) {
		l.events = append(l.events, name+":cancel")
	}
}

func (c *testCompositor) touchDown(in *Input, w *Window, id int32, x, y float64) {
	c.t.Helper()
	c.event(in.touch.ID(), 0, c.nextSerial(), uint32(0), w.mainSurface.wl.ID(), id, fixed(x), fixed(y))
}

func (c *testCompositor) touchMotion(in *Input, id int32, x, y float64) {
	c.t.Helper()
	c.event(in.touch.ID(), 2, uint32(0), id, fixed(x), fixed(y))
}

func (c *testCompositor) touchFrame(in *Input) {
	c.t.Helper()
	c.event(in.touch.ID(), 3)
}

func TestTouchPointsStickToTheirWidget(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	left := root.AddWidget()
	left.SetAllocation(0, 0, 50, 100)
	right := root.AddWidget()
	right.SetAllocation(50, 0, 50, 100)
	in := c.addSeat(SeatCapabilityTouch)

	var log touchLog
	log.watch("left", left)
	log.watch("right", right)

	c.touchDown(in, w, 1, 10, 10)
	c.touchFrame(in)
	// Dragged across into the right half: still the left widget's
	c.touchMotion(in, 1, 80, 10)
	c.touchFrame(in)

	tp := in.TouchPoints()[0]
	if x, y := tp.Position(); x != 80 || y != 10 {
		t.Errorf("position = %v,%v", x, y)
	}

	c.event(in.touch.ID(), 1, c.nextSerial(), uint32(0), int32(1))
	c.touchFrame(in)

	want := []string{"left:down", "left:frame", "left:motion", "left:frame", "left:up", "left:frame"}
	if diff := cmp.Diff(want, log.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(in.TouchPoints()) != 0 {
		t.Error("lifted point still tracked")
	}
}

func TestTouchFrameBatchesMotion(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 100)
	b := root.AddWidget()
	b.SetAllocation(50, 0, 50, 100)
	in := c.addSeat(SeatCapabilityTouch)

	c.touchDown(in, w, 1, 10, 10)
	c.touchDown(in, w, 2, 60, 10)
	c.touchDown(in, w, 3, 20, 20)
	c.touchFrame(in)

	var log touchLog
	log.watch("a", a)
	log.watch("b", b)

	// Several motions per point before a frame: one motion each, one frame per widget
	c.touchMotion(in, 1, 11, 11)
	c.touchMotion(in, 1, 12, 12)
	c.touchMotion(in, 3, 21, 21)
	c.touchMotion(in, 2, 61, 11)
	if len(log.events) != 0 {
		t.Fatalf("motion delivered before frame: %v", log.events)
	}
	c.touchFrame(in)

	want := []string{"a:motion", "b:motion", "a:motion", "a:frame", "b:frame"}
	if diff := cmp.Diff(want, log.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestTouchCancelNotifiesEachWidgetOnce(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 100)
	in := c.addSeat(SeatCapabilityTouch)

	var log touchLog
	log.watch("a", a)
	log.watch("root", root)

	c.touchDown(in, w, 1, 10, 10)
	c.touchDown(in, w, 2, 20, 10)
	c.touchDown(in, w, 3, 80, 10)
	c.touchFrame(in)
	log.events = nil

	c.event(in.touch.ID(), 4) // cancel
	want := []string{"a:cancel", "root:cancel"}
	if diff := cmp.Diff(want, log.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(in.TouchPoints()) != 0 {
		t.Error("points survived cancel")
	}
}

func TestTouchGrab(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 100)
	in := c.addSeat(SeatCapabilityTouch)

	var log touchLog
	log.watch("a", a)
	log.watch("root", root)

	c.touchDown(in, w, 1, 10, 10)
	in.GrabTouch(a, 1)
	// Lands on root but goes to the grabbing widget
	c.touchDown(in, w, 2, 80, 10)
	c.event(in.touch.ID(), 1, c.nextSerial(), uint32(0), int32(1))
	c.touchDown(in, w, 3, 80, 10)
	c.touchFrame(in)

	want := []string{"a:down", "a:down", "a:up", "root:down", "a:frame", "root:frame"}
	if diff := cmp.Diff(want, log.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestTouchWidgetDestroyedMidGesture(t *testing.T) {
	c := newTestDisplay(t, nil)
	w, root := c.newMappedWindow(100, 100)
	a := root.AddWidget()
	a.SetAllocation(0, 0, 50, 100)
	in := c.addSeat(SeatCapabilityTouch)

	c.touchDown(in, w, 1, 10, 10)
	c.touchDown(in, w, 2, 80, 10)
	a.Destroy()

	if got := len(in.TouchPoints()); got != 1 {
		t.Fatalf("%d points after the widget went away, want 1", got)
	}
	// Nothing must reach the destroyed widget
	c.touchMotion(in, 1, 20, 20)
	c.touchFrame(in)
	c.event(in.touch.ID(), 1, c.nextSerial(), uint32(0), int32(1))
}
